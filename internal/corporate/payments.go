package corporate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinicos/backoffice/internal/shared"
)

const idempotencyModule = "corporate.payment"

// Validate checks the payment header.
func (in CreatePaymentInput) Validate() error {
	if in.CompanyID == uuid.Nil {
		return ErrCompanyRequired
	}
	if !in.Amount.IsPositive() {
		return invalid("amount must be positive")
	}
	if !shared.RoundMoney(in.Amount).IsPositive() {
		return invalid("amount rounds to zero")
	}
	return nil
}

// errSkip carries the reason an allocation line was not applied.
type errSkip struct{ reason string }

func (e errSkip) Error() string { return e.reason }

func skip(format string, args ...any) error {
	return errSkip{reason: fmt.Sprintf(format, args...)}
}

// CreatePayment persists a receipt and then applies each allocation request in
// input order. The payment is stored before any allocation runs and survives
// every per-line failure; each line is reported in the outcomes.
func (s *Service) CreatePayment(ctx context.Context, in CreatePaymentInput) (PaymentResult, error) {
	if err := in.Validate(); err != nil {
		return PaymentResult{}, err
	}
	if in.IdempotencyKey != "" && s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, in.IdempotencyKey, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return PaymentResult{}, fmt.Errorf("%w: key %s", ErrDuplicatePayment, in.IdempotencyKey)
			}
			return PaymentResult{}, err
		}
	}
	now := s.now()
	date := in.Date
	if date.IsZero() {
		date = now
	}
	amount := shared.RoundMoney(in.Amount)
	payment := Payment{
		ID:          uuid.New(),
		CompanyID:   in.CompanyID,
		Date:        dayStart(date),
		Reference:   in.Reference,
		Amount:      amount,
		Unallocated: amount,
		Allocations: []Allocation{},
		CreatedAt:   now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetCompany(ctx, in.CompanyID); err != nil {
			return err
		}
		return tx.InsertPayment(ctx, payment)
	})
	if err != nil {
		if in.IdempotencyKey != "" && s.idem != nil {
			if relErr := s.idem.Delete(ctx, in.IdempotencyKey, idempotencyModule); relErr != nil {
				s.logger.Warn("release idempotency key", slog.String("key", in.IdempotencyKey), slog.Any("error", relErr))
			}
		}
		return PaymentResult{}, err
	}

	outcomes := make([]AllocationOutcome, 0, len(in.Allocations))
	for idx, req := range in.Allocations {
		outcome := AllocationOutcome{
			Index:         idx,
			TransactionID: req.TransactionID,
			Requested:     req.Amount,
			Applied:       decimal.Zero,
			Status:        OutcomeSkipped,
		}
		applied, err := s.allocate(ctx, &payment, req)
		if err != nil {
			outcome.Reason = err.Error()
			var sk errSkip
			if errors.As(err, &sk) {
				s.logger.Warn("payment allocation skipped",
					slog.String("payment_id", payment.ID.String()),
					slog.Int("index", idx),
					slog.String("transaction_id", req.TransactionID),
					slog.String("reason", sk.reason))
			} else {
				s.logger.Error("payment allocation failed",
					slog.String("payment_id", payment.ID.String()),
					slog.Int("index", idx),
					slog.String("transaction_id", req.TransactionID),
					slog.Any("error", err))
			}
		} else {
			outcome.Applied = applied
			outcome.Status = OutcomeApplied
		}
		outcomes = append(outcomes, outcome)
	}

	s.logger.Info("corporate payment recorded",
		slog.String("payment_id", payment.ID.String()),
		slog.String("company_id", payment.CompanyID.String()),
		slog.String("amount", shared.FormatMoney(payment.Amount)),
		slog.String("unallocated", shared.FormatMoney(payment.Unallocated)),
		slog.Int("allocations", len(payment.Allocations)))
	s.record(ctx, "corporate.payment.create", "payment", payment.ID.String(), map[string]any{
		"amount":      shared.FormatMoney(payment.Amount),
		"unallocated": shared.FormatMoney(payment.Unallocated),
		"allocations": len(payment.Allocations),
	})
	return PaymentResult{Payment: payment, Outcomes: outcomes}, nil
}

// allocate applies one request in its own store transaction and updates
// payment only once that transaction committed.
func (s *Service) allocate(ctx context.Context, payment *Payment, req AllocationRequest) (decimal.Decimal, error) {
	if req.TransactionID == "" {
		return decimal.Zero, skip("transaction id empty")
	}
	txID, err := uuid.Parse(req.TransactionID)
	if err != nil {
		return decimal.Zero, skip("transaction id %q malformed", req.TransactionID)
	}
	if !req.Amount.IsPositive() {
		return decimal.Zero, skip("amount must be positive")
	}
	var apply decimal.Decimal
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, err := tx.GetTransaction(ctx, txID, true)
		if err != nil {
			if errors.Is(err, ErrTransactionNotFound) {
				return skip("transaction not found")
			}
			return err
		}
		if t.CompanyID != payment.CompanyID {
			return skip("transaction belongs to another company")
		}
		if t.Status == TxStatusReversed || t.Status == TxStatusRejected {
			return skip("transaction is %s", t.Status)
		}
		apply = decimal.Min(req.Amount, t.Outstanding(), payment.Unallocated)
		apply = shared.NonNegative(shared.RoundMoney(apply))
		if !apply.IsPositive() {
			return skip("nothing to apply")
		}
		paid := t.PaidAmount.Add(apply)
		status := t.Status
		if paid.GreaterThanOrEqual(t.NetToCorporate) {
			status = TxStatusPaid
		}
		if err := tx.ApplyTransactionPayment(ctx, t.ID, paid, status); err != nil {
			return err
		}
		if err := tx.InsertAllocation(ctx, payment.ID, Allocation{TransactionID: t.ID, Amount: apply}); err != nil {
			return err
		}
		if err := tx.UpdatePaymentUnallocated(ctx, payment.ID, payment.Unallocated.Sub(apply)); err != nil {
			return err
		}
		if t.ClaimID != nil {
			claim, changed, err := syncClaimStatus(ctx, tx, *t.ClaimID)
			if err != nil {
				return err
			}
			if changed {
				s.logger.Info("corporate claim payment status updated",
					slog.String("claim_no", claim.ClaimNo),
					slog.String("status", string(claim.Status)))
			}
		}
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	payment.Unallocated = payment.Unallocated.Sub(apply)
	payment.Allocations = append(payment.Allocations, Allocation{TransactionID: txID, Amount: apply})
	return apply, nil
}

// GetPayment loads a payment with its allocations.
func (s *Service) GetPayment(ctx context.Context, id uuid.UUID) (Payment, error) {
	var p Payment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		p, err = tx.GetPayment(ctx, id)
		return err
	})
	return p, err
}
