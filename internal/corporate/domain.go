package corporate

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinicos/backoffice/internal/rates"
	"github.com/clinicos/backoffice/internal/shared"
)

// ServiceType is the clinical service line of a transaction. It shares the
// rate scope vocabulary.
type ServiceType = rates.Scope

// TransactionStatus enumerates accrual lifecycle states.
type TransactionStatus string

const (
	TxStatusAccrued  TransactionStatus = "accrued"
	TxStatusClaimed  TransactionStatus = "claimed"
	TxStatusPaid     TransactionStatus = "paid"
	TxStatusReversed TransactionStatus = "reversed"
	TxStatusRejected TransactionStatus = "rejected"
)

// ClaimStatus enumerates claim lifecycle states.
type ClaimStatus string

const (
	ClaimStatusOpen          ClaimStatus = "open"
	ClaimStatusLocked        ClaimStatus = "locked"
	ClaimStatusExported      ClaimStatus = "exported"
	ClaimStatusPartiallyPaid ClaimStatus = "partially-paid"
	ClaimStatusPaid          ClaimStatus = "paid"
	ClaimStatusRejected      ClaimStatus = "rejected"
)

// Company is a corporate client billed for its members' care.
type Company struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	BillingTerms string    `json:"billing_terms"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Transaction is one accrual line for a corporate-billable clinical event.
type Transaction struct {
	ID                 uuid.UUID         `json:"id"`
	CompanyID          uuid.UUID         `json:"company_id"`
	PatientMRN         string            `json:"patient_mrn"`
	PatientName        string            `json:"patient_name"`
	ServiceType        ServiceType       `json:"service_type"`
	RefType            string            `json:"ref_type"`
	RefID              string            `json:"ref_id"`
	ItemRef            string            `json:"item_ref,omitempty"`
	Description        string            `json:"description"`
	Qty                decimal.Decimal   `json:"qty"`
	ListUnitPrice      decimal.Decimal   `json:"list_unit_price"`
	CorporateUnitPrice decimal.Decimal   `json:"corporate_unit_price"`
	CoPay              decimal.Decimal   `json:"co_pay"`
	NetToCorporate     decimal.Decimal   `json:"net_to_corporate"`
	PaidAmount         decimal.Decimal   `json:"paid_amount"`
	AppliedRuleID      string            `json:"applied_rule_id,omitempty"`
	Status             TransactionStatus `json:"status"`
	ClaimID            *uuid.UUID        `json:"claim_id,omitempty"`
	ReversalOf         *uuid.UUID        `json:"reversal_of,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// Outstanding is what the company still owes on this row, floored at zero.
func (t Transaction) Outstanding() decimal.Decimal {
	return shared.NonNegative(t.NetToCorporate.Sub(t.PaidAmount))
}

// Claimable reports whether claim generation may pick this row up.
func (t Transaction) Claimable() bool {
	return t.Status == TxStatusAccrued && t.ClaimID == nil && !t.NetToCorporate.IsZero()
}

// Claim batches a company's transactions. Totals are fixed at generation.
type Claim struct {
	ID                uuid.UUID       `json:"id"`
	CompanyID         uuid.UUID       `json:"company_id"`
	ClaimNo           string          `json:"claim_no"`
	FromDate          *time.Time      `json:"from_date,omitempty"`
	ToDate            *time.Time      `json:"to_date,omitempty"`
	Status            ClaimStatus     `json:"status"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	TotalTransactions int             `json:"total_transactions"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Payment is a cash receipt from a company.
type Payment struct {
	ID          uuid.UUID       `json:"id"`
	CompanyID   uuid.UUID       `json:"company_id"`
	Date        time.Time       `json:"date"`
	Reference   string          `json:"reference,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Unallocated decimal.Decimal `json:"unallocated"`
	Allocations []Allocation    `json:"allocations"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Allocation is the portion of a payment applied to one transaction.
type Allocation struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
}

// CreateTransactionInput records an already priced accrual.
type CreateTransactionInput struct {
	CompanyID          uuid.UUID
	PatientMRN         string
	PatientName        string
	ServiceType        ServiceType
	RefType            string
	RefID              string
	ItemRef            string
	Description        string
	Qty                decimal.Decimal
	ListUnitPrice      decimal.Decimal
	CorporateUnitPrice decimal.Decimal
	// CoPayPct is the patient's share of the corporate amount in percent.
	CoPayPct decimal.Decimal
	// CoPay, when set, overrides CoPayPct with an absolute amount.
	CoPay         *decimal.Decimal
	AppliedRuleID string
}

// AccrueInput records an accrual priced through the rate resolver, using
// ListUnitPrice as the default price.
type AccrueInput struct {
	CreateTransactionInput
	Candidates []rates.Candidate
	VisitType  rates.VisitType
}

// ClaimSelection bounds the accrued rows a new claim takes. From is inclusive,
// Until exclusive.
type ClaimSelection struct {
	CompanyID uuid.UUID
	ClaimID   uuid.UUID
	From      *time.Time
	Until     *time.Time
}

// GenerateClaimInput requests a claim for one company. Dates are whole days.
type GenerateClaimInput struct {
	CompanyID uuid.UUID
	FromDate  *time.Time
	ToDate    *time.Time
}

// AllocationRequest asks to apply Amount of a payment to TransactionID.
type AllocationRequest struct {
	TransactionID string
	Amount        decimal.Decimal
}

// CreatePaymentInput records a receipt and the allocations to attempt.
type CreatePaymentInput struct {
	CompanyID      uuid.UUID
	Date           time.Time
	Reference      string
	Amount         decimal.Decimal
	Allocations    []AllocationRequest
	IdempotencyKey string
}

// OutcomeStatus reports what happened to one allocation request.
type OutcomeStatus string

const (
	OutcomeApplied OutcomeStatus = "applied"
	OutcomeSkipped OutcomeStatus = "skipped"
)

// AllocationOutcome describes one allocation request after processing.
type AllocationOutcome struct {
	Index         int             `json:"index"`
	TransactionID string          `json:"transaction_id"`
	Requested     decimal.Decimal `json:"requested"`
	Applied       decimal.Decimal `json:"applied"`
	Status        OutcomeStatus   `json:"status"`
	Reason        string          `json:"reason,omitempty"`
}

// PaymentResult carries the stored payment and the per-line outcomes.
type PaymentResult struct {
	Payment  Payment             `json:"payment"`
	Outcomes []AllocationOutcome `json:"outcomes"`
}

var (
	// ErrCompanyRequired indicates a missing company id.
	ErrCompanyRequired = fmt.Errorf("%w: corporate: company required", shared.ErrInvalidRequest)
	// ErrCompanyNotFound indicates an unknown company.
	ErrCompanyNotFound = fmt.Errorf("%w: corporate: company not found", shared.ErrNotFound)
	// ErrCompanyInactive indicates billing activity against an inactive company.
	ErrCompanyInactive = fmt.Errorf("%w: corporate: company inactive", shared.ErrInvalidState)
	// ErrTransactionNotFound indicates an unknown transaction.
	ErrTransactionNotFound = fmt.Errorf("%w: corporate: transaction not found", shared.ErrNotFound)
	// ErrClaimNotFound indicates an unknown claim.
	ErrClaimNotFound = fmt.Errorf("%w: corporate: claim not found", shared.ErrNotFound)
	// ErrPaymentNotFound indicates an unknown payment.
	ErrPaymentNotFound = fmt.Errorf("%w: corporate: payment not found", shared.ErrNotFound)
	// ErrNoTransactions indicates an empty claim selection.
	ErrNoTransactions = fmt.Errorf("%w: corporate: no transactions", shared.ErrInvalidState)
	// ErrClaimNotOpen indicates a delete on a claim that is not open.
	ErrClaimNotOpen = fmt.Errorf("%w: corporate: claim not open", shared.ErrInvalidState)
	// ErrInvalidTransition indicates a status change the state machine forbids.
	ErrInvalidTransition = fmt.Errorf("%w: corporate: invalid status transition", shared.ErrInvalidState)
	// ErrDuplicatePayment indicates a replayed idempotency key.
	ErrDuplicatePayment = fmt.Errorf("%w: corporate: payment already recorded", shared.ErrConflict)
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: corporate: %s", shared.ErrInvalidRequest, fmt.Sprintf(format, args...))
}

func transition(what string, from, to any) error {
	return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, what, from, to)
}

// dayStart truncates t to midnight UTC.
func dayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
