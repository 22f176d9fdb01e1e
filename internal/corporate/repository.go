package corporate

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/clinicos/backoffice/internal/platform/db"
)

// TxRepository exposes the store operations of one transaction.
type TxRepository interface {
	GetCompany(ctx context.Context, id uuid.UUID) (Company, error)
	ListCompanies(ctx context.Context, activeOnly bool) ([]Company, error)

	InsertTransaction(ctx context.Context, t Transaction) error
	// GetTransaction loads a row; forUpdate takes a row lock.
	GetTransaction(ctx context.Context, id uuid.UUID, forUpdate bool) (Transaction, error)
	UpdateTransactionStatus(ctx context.Context, id uuid.UUID, status TransactionStatus) error
	ApplyTransactionPayment(ctx context.Context, id uuid.UUID, paid decimal.Decimal, status TransactionStatus) error
	// ListTransactionChain returns the original row and its reversal, oldest first.
	ListTransactionChain(ctx context.Context, rootID uuid.UUID) ([]Transaction, error)
	ListReportTransactions(ctx context.Context, companyID *uuid.UUID) ([]Transaction, error)

	NextSequence(ctx context.Context, key string) (int64, error)
	InsertClaim(ctx context.Context, c Claim) error
	// ClaimAccrued marks every claimable row in sel as claimed by sel.ClaimID in
	// one conditional update and returns the rows it changed.
	ClaimAccrued(ctx context.Context, sel ClaimSelection) ([]Transaction, error)
	SetClaimTotals(ctx context.Context, id uuid.UUID, total decimal.Decimal, count int) error
	GetClaim(ctx context.Context, id uuid.UUID, forUpdate bool) (Claim, error)
	ListClaims(ctx context.Context, companyID *uuid.UUID) ([]Claim, error)
	UpdateClaimStatus(ctx context.Context, id uuid.UUID, status ClaimStatus) error
	ListClaimMembers(ctx context.Context, claimID uuid.UUID) ([]Transaction, error)
	// ReleaseClaimed reverts claimed members to accrued and clears their claim.
	ReleaseClaimed(ctx context.Context, claimID uuid.UUID) (int64, error)
	// DetachClaim clears the claim of every member, reverting claimed ones.
	DetachClaim(ctx context.Context, claimID uuid.UUID) (int64, error)
	DeleteClaim(ctx context.Context, id uuid.UUID) error

	InsertPayment(ctx context.Context, p Payment) error
	InsertAllocation(ctx context.Context, paymentID uuid.UUID, a Allocation) error
	UpdatePaymentUnallocated(ctx context.Context, id uuid.UUID, unallocated decimal.Decimal) error
	GetPayment(ctx context.Context, id uuid.UUID) (Payment, error)
}

// Repository persists corporate billing data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes fn within a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("corporate repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const companyColumns = `id, name, billing_terms, active, created_at, updated_at`

func (r *txRepository) GetCompany(ctx context.Context, id uuid.UUID) (Company, error) {
	var c Company
	err := r.tx.QueryRow(ctx, `SELECT `+companyColumns+` FROM companies WHERE id=$1`, id).
		Scan(&c.ID, &c.Name, &c.BillingTerms, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Company{}, ErrCompanyNotFound
		}
		return Company{}, fmt.Errorf("corporate: get company: %w", err)
	}
	return c, nil
}

func (r *txRepository) ListCompanies(ctx context.Context, activeOnly bool) ([]Company, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+companyColumns+` FROM companies WHERE active OR NOT $1 ORDER BY name, id`, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("corporate: list companies: %w", err)
	}
	defer rows.Close()
	var out []Company
	for rows.Next() {
		var c Company
		if err := rows.Scan(&c.ID, &c.Name, &c.BillingTerms, &c.Active, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("corporate: scan company: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const transactionColumns = `id, company_id, patient_mrn, patient_name, service_type, ref_type, ref_id, item_ref, description,
       qty, list_unit_price, corporate_unit_price, co_pay, net_to_corporate, paid_amount, applied_rule_id,
       status, claim_id, reversal_of, created_at, updated_at`

func scanTransaction(row pgx.Row) (Transaction, error) {
	var t Transaction
	err := row.Scan(&t.ID, &t.CompanyID, &t.PatientMRN, &t.PatientName, &t.ServiceType, &t.RefType, &t.RefID, &t.ItemRef,
		&t.Description, &t.Qty, &t.ListUnitPrice, &t.CorporateUnitPrice, &t.CoPay, &t.NetToCorporate, &t.PaidAmount,
		&t.AppliedRuleID, &t.Status, &t.ClaimID, &t.ReversalOf, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func (r *txRepository) queryTransactions(ctx context.Context, query string, args ...any) ([]Transaction, error) {
	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("corporate: query transactions: %w", err)
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("corporate: scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *txRepository) InsertTransaction(ctx context.Context, t Transaction) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO corporate_transactions (`+transactionColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`,
		t.ID, t.CompanyID, t.PatientMRN, t.PatientName, string(t.ServiceType), t.RefType, t.RefID, t.ItemRef, t.Description,
		t.Qty, t.ListUnitPrice, t.CorporateUnitPrice, t.CoPay, t.NetToCorporate, t.PaidAmount, t.AppliedRuleID,
		string(t.Status), t.ClaimID, t.ReversalOf, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("corporate: insert transaction: %w", err)
	}
	return nil
}

func (r *txRepository) GetTransaction(ctx context.Context, id uuid.UUID, forUpdate bool) (Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM corporate_transactions WHERE id=$1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	t, err := scanTransaction(r.tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrTransactionNotFound
		}
		return Transaction{}, fmt.Errorf("corporate: get transaction: %w", err)
	}
	return t, nil
}

func (r *txRepository) UpdateTransactionStatus(ctx context.Context, id uuid.UUID, status TransactionStatus) error {
	tag, err := r.tx.Exec(ctx, `UPDATE corporate_transactions SET status=$2, updated_at=NOW() WHERE id=$1`, id, string(status))
	if err != nil {
		return fmt.Errorf("corporate: update transaction status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (r *txRepository) ApplyTransactionPayment(ctx context.Context, id uuid.UUID, paid decimal.Decimal, status TransactionStatus) error {
	tag, err := r.tx.Exec(ctx, `UPDATE corporate_transactions SET paid_amount=$2, status=$3, updated_at=NOW() WHERE id=$1`,
		id, paid, string(status))
	if err != nil {
		return fmt.Errorf("corporate: apply payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (r *txRepository) ListTransactionChain(ctx context.Context, rootID uuid.UUID) ([]Transaction, error) {
	return r.queryTransactions(ctx, `SELECT `+transactionColumns+` FROM corporate_transactions
WHERE id=$1 OR reversal_of=$1
ORDER BY created_at, id`, rootID)
}

func (r *txRepository) ListReportTransactions(ctx context.Context, companyID *uuid.UUID) ([]Transaction, error) {
	return r.queryTransactions(ctx, `SELECT `+transactionColumns+` FROM corporate_transactions
WHERE status <> 'rejected' AND ($1::uuid IS NULL OR company_id=$1)
ORDER BY company_id, created_at, id`, companyID)
}

func (r *txRepository) NextSequence(ctx context.Context, key string) (int64, error) {
	return db.NextSequence(ctx, r.tx, key)
}

const claimColumns = `id, company_id, claim_no, from_date, to_date, status, total_amount, total_transactions, created_at, updated_at`

func scanClaim(row pgx.Row) (Claim, error) {
	var c Claim
	err := row.Scan(&c.ID, &c.CompanyID, &c.ClaimNo, &c.FromDate, &c.ToDate, &c.Status, &c.TotalAmount,
		&c.TotalTransactions, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (r *txRepository) InsertClaim(ctx context.Context, c Claim) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO claims (`+claimColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		c.ID, c.CompanyID, c.ClaimNo, c.FromDate, c.ToDate, string(c.Status), c.TotalAmount, c.TotalTransactions,
		c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("corporate: insert claim: %w", err)
	}
	return nil
}

func (r *txRepository) ClaimAccrued(ctx context.Context, sel ClaimSelection) ([]Transaction, error) {
	return r.queryTransactions(ctx, `UPDATE corporate_transactions
SET status='claimed', claim_id=$2, updated_at=NOW()
WHERE company_id=$1
  AND status='accrued'
  AND claim_id IS NULL
  AND net_to_corporate <> 0
  AND ($3::timestamptz IS NULL OR created_at >= $3)
  AND ($4::timestamptz IS NULL OR created_at < $4)
RETURNING `+transactionColumns, sel.CompanyID, sel.ClaimID, sel.From, sel.Until)
}

func (r *txRepository) SetClaimTotals(ctx context.Context, id uuid.UUID, total decimal.Decimal, count int) error {
	_, err := r.tx.Exec(ctx, `UPDATE claims SET total_amount=$2, total_transactions=$3, updated_at=NOW() WHERE id=$1`,
		id, total, count)
	if err != nil {
		return fmt.Errorf("corporate: set claim totals: %w", err)
	}
	return nil
}

func (r *txRepository) GetClaim(ctx context.Context, id uuid.UUID, forUpdate bool) (Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM claims WHERE id=$1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	c, err := scanClaim(r.tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Claim{}, ErrClaimNotFound
		}
		return Claim{}, fmt.Errorf("corporate: get claim: %w", err)
	}
	return c, nil
}

func (r *txRepository) ListClaims(ctx context.Context, companyID *uuid.UUID) ([]Claim, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+claimColumns+` FROM claims
WHERE ($1::uuid IS NULL OR company_id=$1)
ORDER BY created_at DESC, claim_no DESC`, companyID)
	if err != nil {
		return nil, fmt.Errorf("corporate: list claims: %w", err)
	}
	defer rows.Close()
	var out []Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("corporate: scan claim: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *txRepository) UpdateClaimStatus(ctx context.Context, id uuid.UUID, status ClaimStatus) error {
	tag, err := r.tx.Exec(ctx, `UPDATE claims SET status=$2, updated_at=NOW() WHERE id=$1`, id, string(status))
	if err != nil {
		return fmt.Errorf("corporate: update claim status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrClaimNotFound
	}
	return nil
}

func (r *txRepository) ListClaimMembers(ctx context.Context, claimID uuid.UUID) ([]Transaction, error) {
	return r.queryTransactions(ctx, `SELECT `+transactionColumns+` FROM corporate_transactions
WHERE claim_id=$1
ORDER BY created_at, id`, claimID)
}

func (r *txRepository) ReleaseClaimed(ctx context.Context, claimID uuid.UUID) (int64, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE corporate_transactions
SET status='accrued', claim_id=NULL, updated_at=NOW()
WHERE claim_id=$1 AND status='claimed'`, claimID)
	if err != nil {
		return 0, fmt.Errorf("corporate: release claimed: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *txRepository) DetachClaim(ctx context.Context, claimID uuid.UUID) (int64, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE corporate_transactions
SET claim_id=NULL,
    status=CASE WHEN status='claimed' THEN 'accrued' ELSE status END,
    updated_at=NOW()
WHERE claim_id=$1`, claimID)
	if err != nil {
		return 0, fmt.Errorf("corporate: detach claim: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *txRepository) DeleteClaim(ctx context.Context, id uuid.UUID) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM claims WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("corporate: delete claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrClaimNotFound
	}
	return nil
}

func (r *txRepository) InsertPayment(ctx context.Context, p Payment) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO payments (id, company_id, payment_date, reference, amount, unallocated, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`, p.ID, p.CompanyID, p.Date, p.Reference, p.Amount, p.Unallocated, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("corporate: insert payment: %w", err)
	}
	return nil
}

func (r *txRepository) InsertAllocation(ctx context.Context, paymentID uuid.UUID, a Allocation) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO payment_allocations (payment_id, transaction_id, amount) VALUES ($1,$2,$3)`,
		paymentID, a.TransactionID, a.Amount)
	if err != nil {
		return fmt.Errorf("corporate: insert allocation: %w", err)
	}
	return nil
}

func (r *txRepository) UpdatePaymentUnallocated(ctx context.Context, id uuid.UUID, unallocated decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE payments SET unallocated=$2 WHERE id=$1`, id, unallocated)
	if err != nil {
		return fmt.Errorf("corporate: update payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (r *txRepository) GetPayment(ctx context.Context, id uuid.UUID) (Payment, error) {
	var p Payment
	err := r.tx.QueryRow(ctx, `SELECT id, company_id, payment_date, reference, amount, unallocated, created_at
FROM payments WHERE id=$1`, id).Scan(&p.ID, &p.CompanyID, &p.Date, &p.Reference, &p.Amount, &p.Unallocated, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrPaymentNotFound
		}
		return Payment{}, fmt.Errorf("corporate: get payment: %w", err)
	}
	rows, err := r.tx.Query(ctx, `SELECT transaction_id, amount FROM payment_allocations WHERE payment_id=$1 ORDER BY id`, id)
	if err != nil {
		return Payment{}, fmt.Errorf("corporate: list allocations: %w", err)
	}
	defer rows.Close()
	p.Allocations = []Allocation{}
	for rows.Next() {
		var a Allocation
		if err := rows.Scan(&a.TransactionID, &a.Amount); err != nil {
			return Payment{}, fmt.Errorf("corporate: scan allocation: %w", err)
		}
		p.Allocations = append(p.Allocations, a)
	}
	return p, rows.Err()
}
