package accounting

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinicos/backoffice/internal/shared"
)

// Account is a ledger account code.
type Account string

const (
	AccountCash               Account = "CASH"
	AccountBank               Account = "BANK"
	AccountCorporateAR        Account = "CORPORATE_AR"
	AccountOPDRevenue         Account = "OPD_REVENUE"
	AccountDoctorShareExpense Account = "DOCTOR_SHARE_EXPENSE"
	AccountDoctorPayable      Account = "DOCTOR_PAYABLE"
)

// Tag keys attached to journal lines for dimensional balance queries.
const (
	TagDoctorID     = "doctorId"
	TagDepartmentID = "departmentId"
	TagTokenID      = "tokenId"
	TagPatientID    = "patientId"
	TagSessionID    = "sessionId"
)

// ReversalSuffix is appended to the refType of a reversing entry.
const ReversalSuffix = "_reversal"

// Tags carries line dimensions.
type Tags map[string]string

// JournalEntry is an append-only, balanced set of lines keyed by (RefType, RefID).
type JournalEntry struct {
	ID         uuid.UUID     `json:"id"`
	Date       time.Time     `json:"date"`
	RefType    string        `json:"ref_type"`
	RefID      string        `json:"ref_id"`
	Memo       string        `json:"memo"`
	ReversalOf *uuid.UUID    `json:"reversal_of,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	Lines      []JournalLine `json:"lines"`
}

// JournalLine stores a debit or credit amount for an account.
type JournalLine struct {
	Account Account         `json:"account"`
	Debit   decimal.Decimal `json:"debit"`
	Credit  decimal.Decimal `json:"credit"`
	Tags    Tags            `json:"tags,omitempty"`
}

// Totals sums both sides of the entry.
func (e JournalEntry) Totals() (debit, credit decimal.Decimal) {
	return sumLines(e.Lines)
}

// Balanced reports whether debits equal credits.
func (e JournalEntry) Balanced() bool {
	debit, credit := e.Totals()
	return debit.Equal(credit)
}

func sumLines(lines []JournalLine) (debit, credit decimal.Decimal) {
	for _, line := range lines {
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	return debit, credit
}

// PostingInput groups fields required to create a journal entry.
type PostingInput struct {
	Date    time.Time
	RefType string
	RefID   string
	Memo    string
	Lines   []JournalLine
}

// Imbalance describes a stored entry whose lines do not balance.
type Imbalance struct {
	EntryID uuid.UUID       `json:"entry_id"`
	RefType string          `json:"ref_type"`
	RefID   string          `json:"ref_id"`
	Debit   decimal.Decimal `json:"debit"`
	Credit  decimal.Decimal `json:"credit"`
}

var (
	// ErrUnbalanced indicates debit != credit.
	ErrUnbalanced = fmt.Errorf("%w: unbalanced entry", shared.ErrInvalidState)
	// ErrTooFewLines indicates less than two lines.
	ErrTooFewLines = fmt.Errorf("%w: accounting: journal requires at least two lines", shared.ErrInvalidRequest)
	// ErrJournalNotFound indicates missing entry.
	ErrJournalNotFound = fmt.Errorf("%w: accounting: journal entry not found", shared.ErrNotFound)
	// ErrInsufficientPayable indicates a payout larger than the doctor's payable balance.
	ErrInsufficientPayable = fmt.Errorf("%w: accounting: payout exceeds doctor payable balance", shared.ErrInvalidState)
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: accounting: %s", shared.ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// Validate ensures posting input meets minimum criteria.
func (in PostingInput) Validate() error {
	if in.RefType == "" {
		return invalid("ref type required")
	}
	if in.RefID == "" {
		return invalid("ref id required")
	}
	if len(in.Lines) < 2 {
		return ErrTooFewLines
	}
	for idx, line := range in.Lines {
		if line.Account == "" {
			return invalid("line %d missing account", idx)
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return invalid("line %d negative amount", idx)
		}
		if line.Debit.IsPositive() && line.Credit.IsPositive() {
			return invalid("line %d cannot be both debit and credit", idx)
		}
		if line.Debit.IsZero() && line.Credit.IsZero() {
			return invalid("line %d has no amount", idx)
		}
	}
	debit, credit := sumLines(in.Lines)
	if !debit.Equal(credit) {
		return ErrUnbalanced
	}
	return nil
}

// reversalOf builds the entry that cancels original: same lines with debit and
// credit swapped, same RefID, suffixed RefType.
func reversalOf(original JournalEntry, memo string, at time.Time) JournalEntry {
	if memo == "" {
		memo = fmt.Sprintf("Reversal of %s %s", original.RefType, original.RefID)
	}
	lines := make([]JournalLine, len(original.Lines))
	for i, line := range original.Lines {
		lines[i] = JournalLine{
			Account: line.Account,
			Debit:   line.Credit,
			Credit:  line.Debit,
			Tags:    cloneTags(line.Tags),
		}
	}
	originalID := original.ID
	return JournalEntry{
		ID:         uuid.New(),
		Date:       dateOnly(at),
		RefType:    original.RefType + ReversalSuffix,
		RefID:      original.RefID,
		Memo:       memo,
		ReversalOf: &originalID,
		CreatedAt:  at,
		Lines:      lines,
	}
}

func cloneTags(tags Tags) Tags {
	if len(tags) == 0 {
		return nil
	}
	out := make(Tags, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
