package accounting

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/clinicos/backoffice/internal/shared"
)

// Reference types of the domain postings.
const (
	RefTypeOPDToken      = "opd_token"
	RefTypeDoctorEarning = "doctor_earning"
	RefTypeDoctorPayout  = "doctor_payout"
)

// PaymentMethod selects the asset account a receipt or payout moves through.
type PaymentMethod string

const (
	PaymentCash      PaymentMethod = "cash"
	PaymentBank      PaymentMethod = "bank"
	PaymentCorporate PaymentMethod = "corporate"
)

func (m PaymentMethod) account() (Account, error) {
	switch m {
	case PaymentCash, "":
		return AccountCash, nil
	case PaymentBank:
		return AccountBank, nil
	case PaymentCorporate:
		return AccountCorporateAR, nil
	}
	return "", invalid("unknown payment method %q", m)
}

// OPDTokenPosting books the revenue of one OPD token and the doctor's share.
type OPDTokenPosting struct {
	TokenID        string
	DoctorID       string
	DepartmentID   string
	PatientID      string
	SessionID      string
	Fee            decimal.Decimal
	DoctorSharePct decimal.Decimal
	Method         PaymentMethod
	Date           time.Time
	Memo           string
}

// PostOPDToken debits the receiving account and credits OPD revenue for the
// fee, then moves the doctor's share from expense to payable. Share lines are
// omitted when the share rounds to zero.
func (s *Service) PostOPDToken(ctx context.Context, in OPDTokenPosting) (JournalEntry, error) {
	if in.TokenID == "" {
		return JournalEntry{}, invalid("token id required")
	}
	if !in.Fee.IsPositive() {
		return JournalEntry{}, invalid("fee must be positive")
	}
	if !shared.ValidPercent(in.DoctorSharePct) {
		return JournalEntry{}, invalid("doctor share percent must be within 0..100")
	}
	debitAccount, err := in.Method.account()
	if err != nil {
		return JournalEntry{}, err
	}
	share := shared.Percent(in.Fee, in.DoctorSharePct)
	if share.IsPositive() && in.DoctorID == "" {
		return JournalEntry{}, invalid("doctor id required for doctor share")
	}
	tags := compactTags(map[string]string{
		TagTokenID:      in.TokenID,
		TagDoctorID:     in.DoctorID,
		TagDepartmentID: in.DepartmentID,
		TagPatientID:    in.PatientID,
		TagSessionID:    in.SessionID,
	})
	lines := []JournalLine{
		{Account: debitAccount, Debit: in.Fee, Tags: tags},
		{Account: AccountOPDRevenue, Credit: in.Fee, Tags: tags},
	}
	if share.IsPositive() {
		lines = append(lines,
			JournalLine{Account: AccountDoctorShareExpense, Debit: share, Tags: tags},
			JournalLine{Account: AccountDoctorPayable, Credit: share, Tags: tags},
		)
	}
	memo := in.Memo
	if memo == "" {
		memo = fmt.Sprintf("OPD token %s", in.TokenID)
	}
	return s.Post(ctx, PostingInput{Date: in.Date, RefType: RefTypeOPDToken, RefID: in.TokenID, Memo: memo, Lines: lines})
}

// DoctorEarningPosting records a manual earning owed to a doctor.
type DoctorEarningPosting struct {
	EarningID string
	DoctorID  string
	SessionID string
	Amount    decimal.Decimal
	Date      time.Time
	Memo      string
}

// PostDoctorEarning debits doctor share expense and credits doctor payable.
func (s *Service) PostDoctorEarning(ctx context.Context, in DoctorEarningPosting) (JournalEntry, error) {
	if in.EarningID == "" || in.DoctorID == "" {
		return JournalEntry{}, invalid("earning id and doctor id required")
	}
	if !in.Amount.IsPositive() {
		return JournalEntry{}, invalid("amount must be positive")
	}
	tags := compactTags(map[string]string{TagDoctorID: in.DoctorID, TagSessionID: in.SessionID})
	memo := in.Memo
	if memo == "" {
		memo = fmt.Sprintf("Doctor earning %s", in.EarningID)
	}
	return s.Post(ctx, PostingInput{
		Date:    in.Date,
		RefType: RefTypeDoctorEarning,
		RefID:   in.EarningID,
		Memo:    memo,
		Lines: []JournalLine{
			{Account: AccountDoctorShareExpense, Debit: in.Amount, Tags: tags},
			{Account: AccountDoctorPayable, Credit: in.Amount, Tags: tags},
		},
	})
}

// DoctorPayoutPosting settles part of a doctor's payable balance.
type DoctorPayoutPosting struct {
	PayoutID string
	DoctorID string
	Amount   decimal.Decimal
	Method   PaymentMethod
	Date     time.Time
	Memo     string
}

// PostDoctorPayout debits doctor payable and credits cash or bank. The payout is
// refused when it exceeds the doctor's payable balance.
func (s *Service) PostDoctorPayout(ctx context.Context, in DoctorPayoutPosting) (JournalEntry, error) {
	if in.PayoutID == "" || in.DoctorID == "" {
		return JournalEntry{}, invalid("payout id and doctor id required")
	}
	if !in.Amount.IsPositive() {
		return JournalEntry{}, invalid("amount must be positive")
	}
	if in.Method == PaymentCorporate {
		return JournalEntry{}, invalid("payouts must use cash or bank")
	}
	creditAccount, err := in.Method.account()
	if err != nil {
		return JournalEntry{}, err
	}
	tags := Tags{TagDoctorID: in.DoctorID}
	memo := in.Memo
	if memo == "" {
		memo = fmt.Sprintf("Doctor payout %s", in.PayoutID)
	}
	input := PostingInput{
		Date:    in.Date,
		RefType: RefTypeDoctorPayout,
		RefID:   in.PayoutID,
		Memo:    memo,
		Lines: []JournalLine{
			{Account: AccountDoctorPayable, Debit: in.Amount, Tags: tags},
			{Account: creditAccount, Credit: in.Amount, Tags: tags},
		},
	}
	check := func(ctx context.Context, tx TxRepository) error {
		balance, err := tx.Balance(ctx, AccountDoctorPayable, Tags{TagDoctorID: in.DoctorID})
		if err != nil {
			return err
		}
		if in.Amount.GreaterThan(balance) {
			return fmt.Errorf("%w: requested %s, payable %s", ErrInsufficientPayable,
				shared.FormatMoney(in.Amount), shared.FormatMoney(balance))
		}
		return nil
	}
	return s.post(ctx, input, &guard{lockKey: payoutLockKey(in.DoctorID), check: check})
}

func payoutLockKey(doctorID string) string {
	return "doctor_payable:" + doctorID
}

// DoctorPayableBalance returns what the clinic still owes doctorID.
func (s *Service) DoctorPayableBalance(ctx context.Context, doctorID string) (decimal.Decimal, error) {
	if doctorID == "" {
		return decimal.Zero, invalid("doctor id required")
	}
	return s.Balance(ctx, AccountDoctorPayable, Tags{TagDoctorID: doctorID})
}

func compactTags(in map[string]string) Tags {
	out := make(Tags, len(in))
	for k, v := range in {
		if v != "" {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
