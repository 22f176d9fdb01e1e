package corporate

import (
	"context"
	"log/slog"
	"time"

	"github.com/clinicos/backoffice/internal/rates"
	"github.com/clinicos/backoffice/internal/shared"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// RatePort prices billable items.
type RatePort interface {
	Resolve(ctx context.Context, req rates.Request) (rates.Result, error)
}

// IdempotencyPort claims request keys so replays are refused.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// AuditPort records billing events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates the corporate transaction ledger, claims and payments.
type Service struct {
	repo   RepositoryPort
	rates  RatePort
	idem   IdempotencyPort
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// ServiceOption customises Service.
type ServiceOption func(*Service)

// WithRates enables Accrue.
func WithRates(r RatePort) ServiceOption {
	return func(s *Service) { s.rates = r }
}

// WithIdempotency enables idempotency keys on payments.
func WithIdempotency(i IdempotencyPort) ServiceOption {
	return func(s *Service) { s.idem = i }
}

// WithAudit enables audit records.
func WithAudit(a AuditPort) ServiceOption {
	return func(s *Service) { s.audit = a }
}

// NewService constructs the corporate billing service.
func NewService(repo RepositoryPort, logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{repo: repo, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) record(ctx context.Context, action, entity, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("audit corporate event", slog.String("action", action), slog.String("entity_id", entityID), slog.Any("error", err))
	}
}
