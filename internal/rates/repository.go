package rates

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads rate rules from PostgreSQL. Rules are maintained by the
// administration module; this side never writes them.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListActiveRules returns the active rules of one company and scope.
func (r *Repository) ListActiveRules(ctx context.Context, companyID uuid.UUID, scope Scope) ([]Rule, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, company_id, scope, rule_type, reference_id, visit_type, mode, value, priority,
       effective_from, effective_to, active, created_at
FROM rate_rules
WHERE company_id=$1 AND scope=$2 AND active
ORDER BY priority, created_at, id`, companyID, string(scope))
	if err != nil {
		return nil, fmt.Errorf("rates: list rules: %w", err)
	}
	defer rows.Close()
	var rules []Rule
	for rows.Next() {
		var rule Rule
		if err := rows.Scan(&rule.ID, &rule.CompanyID, &rule.Scope, &rule.RuleType, &rule.ReferenceID, &rule.VisitType,
			&rule.Mode, &rule.Value, &rule.Priority, &rule.EffectiveFrom, &rule.EffectiveTo, &rule.Active, &rule.CreatedAt); err != nil {
			return nil, fmt.Errorf("rates: scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rates: iterate rules: %w", err)
	}
	return rules, nil
}
