package corporate

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinicos/backoffice/internal/rates"
	"github.com/clinicos/backoffice/internal/shared"
)

// Validate checks the accrual input shape.
func (in CreateTransactionInput) Validate() error {
	if in.CompanyID == uuid.Nil {
		return ErrCompanyRequired
	}
	if !in.ServiceType.Valid() {
		return invalid("invalid service type %q", in.ServiceType)
	}
	if in.RefType == "" || in.RefID == "" {
		return invalid("ref type and ref id required")
	}
	if in.Qty.IsNegative() {
		return invalid("qty must be positive")
	}
	if in.ListUnitPrice.IsNegative() || in.CorporateUnitPrice.IsNegative() {
		return invalid("prices must not be negative")
	}
	if in.CoPay != nil {
		if in.CoPay.IsNegative() {
			return invalid("co-pay must not be negative")
		}
	} else if !shared.ValidPercent(in.CoPayPct) {
		return invalid("co-pay percent must be within 0..100")
	}
	return nil
}

// amounts derives co-pay and net-to-corporate from the corporate price.
func (in CreateTransactionInput) amounts() (qty, coPay, net decimal.Decimal, err error) {
	qty = in.Qty
	if qty.IsZero() {
		qty = decimal.NewFromInt(1)
	}
	gross := shared.RoundMoney(shared.RoundMoney(in.CorporateUnitPrice).Mul(qty))
	if in.CoPay != nil {
		coPay = shared.RoundMoney(*in.CoPay)
		if coPay.GreaterThan(gross) {
			return qty, coPay, net, invalid("co-pay %s exceeds corporate amount %s", shared.FormatMoney(coPay), shared.FormatMoney(gross))
		}
	} else {
		coPay = shared.Percent(gross, in.CoPayPct)
	}
	return qty, coPay, gross.Sub(coPay), nil
}

// CreateTransaction records an accrual for an already priced item.
func (s *Service) CreateTransaction(ctx context.Context, in CreateTransactionInput) (Transaction, error) {
	if err := in.Validate(); err != nil {
		return Transaction{}, err
	}
	qty, coPay, net, err := in.amounts()
	if err != nil {
		return Transaction{}, err
	}
	now := s.now()
	t := Transaction{
		ID:                 uuid.New(),
		CompanyID:          in.CompanyID,
		PatientMRN:         in.PatientMRN,
		PatientName:        in.PatientName,
		ServiceType:        in.ServiceType,
		RefType:            in.RefType,
		RefID:              in.RefID,
		ItemRef:            in.ItemRef,
		Description:        in.Description,
		Qty:                qty,
		ListUnitPrice:      shared.RoundMoney(in.ListUnitPrice),
		CorporateUnitPrice: shared.RoundMoney(in.CorporateUnitPrice),
		CoPay:              coPay,
		NetToCorporate:     net,
		PaidAmount:         decimal.Zero,
		AppliedRuleID:      in.AppliedRuleID,
		Status:             TxStatusAccrued,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		company, err := tx.GetCompany(ctx, in.CompanyID)
		if err != nil {
			return err
		}
		if !company.Active {
			return ErrCompanyInactive
		}
		return tx.InsertTransaction(ctx, t)
	})
	if err != nil {
		return Transaction{}, err
	}
	s.logger.Info("corporate transaction accrued",
		slog.String("transaction_id", t.ID.String()),
		slog.String("company_id", t.CompanyID.String()),
		slog.String("ref", t.RefType+"/"+t.RefID),
		slog.String("net", shared.FormatMoney(t.NetToCorporate)))
	s.record(ctx, "corporate.transaction.create", "corporate_transaction", t.ID.String(), map[string]any{
		"net_to_corporate": shared.FormatMoney(t.NetToCorporate),
		"applied_rule_id":  t.AppliedRuleID,
	})
	return t, nil
}

// Accrue prices the item through the rate resolver, using the list price as
// the default, and records the accrual.
func (s *Service) Accrue(ctx context.Context, in AccrueInput) (Transaction, error) {
	if s.rates == nil {
		return Transaction{}, invalid("rate resolver not configured")
	}
	if err := in.Validate(); err != nil {
		return Transaction{}, err
	}
	res, err := s.rates.Resolve(ctx, rates.Request{
		CompanyID:    in.CompanyID,
		Scope:        in.ServiceType,
		Candidates:   in.Candidates,
		VisitType:    in.VisitType,
		DefaultPrice: in.ListUnitPrice,
		AsOf:         s.now(),
	})
	if err != nil {
		return Transaction{}, err
	}
	create := in.CreateTransactionInput
	create.CorporateUnitPrice = res.Price
	create.AppliedRuleID = res.AppliedRuleID
	return s.CreateTransaction(ctx, create)
}

// GetTransaction loads one transaction.
func (s *Service) GetTransaction(ctx context.Context, id uuid.UUID) (Transaction, error) {
	var t Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		t, err = tx.GetTransaction(ctx, id, false)
		return err
	})
	return t, err
}

// ReverseTransaction marks an accrued or claimed original as reversed and
// appends an accrued row negating every amount. The original row keeps its
// amounts and claim.
func (s *Service) ReverseTransaction(ctx context.Context, id uuid.UUID, reason string) (Transaction, error) {
	if id == uuid.Nil {
		return Transaction{}, invalid("transaction id required")
	}
	var reversal Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, err := tx.GetTransaction(ctx, id, true)
		if err != nil {
			return err
		}
		if original.ReversalOf != nil {
			return transition("reversal row", original.Status, TxStatusReversed)
		}
		if original.Status != TxStatusAccrued && original.Status != TxStatusClaimed {
			return transition("transaction", original.Status, TxStatusReversed)
		}
		if err := tx.UpdateTransactionStatus(ctx, original.ID, TxStatusReversed); err != nil {
			return err
		}
		reversal = negate(original, s.now())
		return tx.InsertTransaction(ctx, reversal)
	})
	if err != nil {
		return Transaction{}, err
	}
	s.logger.Info("corporate transaction reversed",
		slog.String("transaction_id", id.String()),
		slog.String("reversal_id", reversal.ID.String()))
	s.record(ctx, "corporate.transaction.reverse", "corporate_transaction", id.String(), map[string]any{
		"reversal_id": reversal.ID.String(),
		"reason":      reason,
	})
	return reversal, nil
}

// RejectTransaction marks an unclaimed accrual the company refuses to pay.
func (s *Service) RejectTransaction(ctx context.Context, id uuid.UUID, reason string) (Transaction, error) {
	if id == uuid.Nil {
		return Transaction{}, invalid("transaction id required")
	}
	var t Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		t, err = tx.GetTransaction(ctx, id, true)
		if err != nil {
			return err
		}
		if t.ReversalOf != nil {
			return transition("reversal row", t.Status, TxStatusRejected)
		}
		if t.Status != TxStatusAccrued || t.ClaimID != nil {
			return transition("transaction", t.Status, TxStatusRejected)
		}
		t.Status = TxStatusRejected
		return tx.UpdateTransactionStatus(ctx, id, TxStatusRejected)
	})
	if err != nil {
		return Transaction{}, err
	}
	s.record(ctx, "corporate.transaction.reject", "corporate_transaction", id.String(), map[string]any{"reason": reason})
	return t, nil
}

func negate(original Transaction, at time.Time) Transaction {
	originalID := original.ID
	return Transaction{
		ID:                 uuid.New(),
		CompanyID:          original.CompanyID,
		PatientMRN:         original.PatientMRN,
		PatientName:        original.PatientName,
		ServiceType:        original.ServiceType,
		RefType:            original.RefType,
		RefID:              original.RefID,
		ItemRef:            original.ItemRef,
		Description:        original.Description,
		Qty:                original.Qty,
		ListUnitPrice:      original.ListUnitPrice.Neg(),
		CorporateUnitPrice: original.CorporateUnitPrice.Neg(),
		CoPay:              original.CoPay.Neg(),
		NetToCorporate:     original.NetToCorporate.Neg(),
		PaidAmount:         original.PaidAmount.Neg(),
		AppliedRuleID:      original.AppliedRuleID,
		Status:             TxStatusAccrued,
		ReversalOf:         &originalID,
		CreatedAt:          at,
		UpdatedAt:          at,
	}
}
