package corporate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinicos/backoffice/internal/shared"
)

// ClaimNumber formats the claim number for seq within the month of at.
func ClaimNumber(at time.Time, seq int64) string {
	return fmt.Sprintf("CLM-%s-%03d", at.UTC().Format("200601"), seq)
}

func claimSequenceKey(companyID uuid.UUID, at time.Time) string {
	return fmt.Sprintf("claim:%s:%s", companyID, at.UTC().Format("200601"))
}

// Validate checks the generation request.
func (in GenerateClaimInput) Validate() error {
	if in.CompanyID == uuid.Nil {
		return ErrCompanyRequired
	}
	if in.FromDate != nil && in.ToDate != nil && dayStart(*in.FromDate).After(dayStart(*in.ToDate)) {
		return invalid("from date after to date")
	}
	return nil
}

// selection converts whole-day bounds into a half-open creation time range.
func (in GenerateClaimInput) selection(claimID uuid.UUID) ClaimSelection {
	sel := ClaimSelection{CompanyID: in.CompanyID, ClaimID: claimID}
	if in.FromDate != nil {
		from := dayStart(*in.FromDate)
		sel.From = &from
	}
	if in.ToDate != nil {
		until := dayStart(*in.ToDate).AddDate(0, 0, 1)
		sel.Until = &until
	}
	return sel
}

// GenerateClaim batches every claimable transaction of the company into a new
// locked claim. The selection and the claiming of its rows are one
// conditional update, so concurrent generations never share a transaction.
func (s *Service) GenerateClaim(ctx context.Context, in GenerateClaimInput) (Claim, error) {
	if err := in.Validate(); err != nil {
		return Claim{}, err
	}
	now := s.now()
	claim := Claim{
		ID:        uuid.New(),
		CompanyID: in.CompanyID,
		Status:    ClaimStatusLocked,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if in.FromDate != nil {
		from := dayStart(*in.FromDate)
		claim.FromDate = &from
	}
	if in.ToDate != nil {
		to := dayStart(*in.ToDate)
		claim.ToDate = &to
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		company, err := tx.GetCompany(ctx, in.CompanyID)
		if err != nil {
			return err
		}
		if !company.Active {
			return ErrCompanyInactive
		}
		seq, err := tx.NextSequence(ctx, claimSequenceKey(in.CompanyID, now))
		if err != nil {
			return err
		}
		claim.ClaimNo = ClaimNumber(now, seq)
		if err := tx.InsertClaim(ctx, claim); err != nil {
			return err
		}
		members, err := tx.ClaimAccrued(ctx, in.selection(claim.ID))
		if err != nil {
			return err
		}
		if len(members) == 0 {
			return ErrNoTransactions
		}
		total := decimal.Zero
		for _, m := range members {
			total = total.Add(m.NetToCorporate)
		}
		claim.TotalAmount = total
		claim.TotalTransactions = len(members)
		return tx.SetClaimTotals(ctx, claim.ID, claim.TotalAmount, claim.TotalTransactions)
	})
	if err != nil {
		return Claim{}, err
	}
	s.logger.Info("corporate claim generated",
		slog.String("claim_id", claim.ID.String()),
		slog.String("claim_no", claim.ClaimNo),
		slog.String("company_id", claim.CompanyID.String()),
		slog.Int("transactions", claim.TotalTransactions),
		slog.String("total", shared.FormatMoney(claim.TotalAmount)))
	s.record(ctx, "corporate.claim.generate", "claim", claim.ID.String(), map[string]any{
		"claim_no":           claim.ClaimNo,
		"total_amount":       shared.FormatMoney(claim.TotalAmount),
		"total_transactions": claim.TotalTransactions,
	})
	return claim, nil
}

// LockClaim flips an open claim to locked. Members are left untouched.
func (s *Service) LockClaim(ctx context.Context, id uuid.UUID) (Claim, error) {
	return s.transitionClaim(ctx, id, "corporate.claim.lock", func(ctx context.Context, tx TxRepository, c *Claim) error {
		switch c.Status {
		case ClaimStatusLocked:
			return nil
		case ClaimStatusOpen:
			c.Status = ClaimStatusLocked
			return tx.UpdateClaimStatus(ctx, c.ID, c.Status)
		}
		return transition("claim", c.Status, ClaimStatusLocked)
	})
}

// UnlockClaim reopens a locked or exported claim and reverts its claimed
// members to accrued, clearing their claim.
func (s *Service) UnlockClaim(ctx context.Context, id uuid.UUID) (Claim, error) {
	return s.transitionClaim(ctx, id, "corporate.claim.unlock", func(ctx context.Context, tx TxRepository, c *Claim) error {
		switch c.Status {
		case ClaimStatusOpen:
			return nil
		case ClaimStatusLocked, ClaimStatusExported:
			if _, err := tx.ReleaseClaimed(ctx, c.ID); err != nil {
				return err
			}
			c.Status = ClaimStatusOpen
			return tx.UpdateClaimStatus(ctx, c.ID, c.Status)
		}
		return transition("claim", c.Status, ClaimStatusOpen)
	})
}

// MarkClaimExported records that a locked claim was sent to the company.
func (s *Service) MarkClaimExported(ctx context.Context, id uuid.UUID) (Claim, error) {
	return s.transitionClaim(ctx, id, "corporate.claim.export", func(ctx context.Context, tx TxRepository, c *Claim) error {
		switch c.Status {
		case ClaimStatusExported:
			return nil
		case ClaimStatusLocked:
			c.Status = ClaimStatusExported
			return tx.UpdateClaimStatus(ctx, c.ID, c.Status)
		}
		return transition("claim", c.Status, ClaimStatusExported)
	})
}

// RemoveClaim deletes an open claim after detaching every member.
func (s *Service) RemoveClaim(ctx context.Context, id uuid.UUID) error {
	_, err := s.transitionClaim(ctx, id, "corporate.claim.remove", func(ctx context.Context, tx TxRepository, c *Claim) error {
		if c.Status != ClaimStatusOpen {
			return fmt.Errorf("%w: claim %s is %s", ErrClaimNotOpen, c.ClaimNo, c.Status)
		}
		if _, err := tx.DetachClaim(ctx, c.ID); err != nil {
			return err
		}
		return tx.DeleteClaim(ctx, c.ID)
	})
	return err
}

func (s *Service) transitionClaim(ctx context.Context, id uuid.UUID, action string,
	fn func(context.Context, TxRepository, *Claim) error) (Claim, error) {
	if id == uuid.Nil {
		return Claim{}, invalid("claim id required")
	}
	var (
		claim Claim
		from  ClaimStatus
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		claim, err = tx.GetClaim(ctx, id, true)
		if err != nil {
			return err
		}
		from = claim.Status
		return fn(ctx, tx, &claim)
	})
	if err != nil {
		return Claim{}, err
	}
	if from != claim.Status || action == "corporate.claim.remove" {
		s.logger.Info("corporate claim updated",
			slog.String("action", action),
			slog.String("claim_no", claim.ClaimNo),
			slog.String("from", string(from)),
			slog.String("to", string(claim.Status)))
		s.record(ctx, action, "claim", claim.ID.String(), map[string]any{
			"claim_no": claim.ClaimNo,
			"from":     string(from),
			"to":       string(claim.Status),
		})
	}
	return claim, nil
}

// GetClaim loads one claim.
func (s *Service) GetClaim(ctx context.Context, id uuid.UUID) (Claim, error) {
	var c Claim
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		c, err = tx.GetClaim(ctx, id, false)
		return err
	})
	return c, err
}

// ListClaims returns claims newest first, optionally for one company.
func (s *Service) ListClaims(ctx context.Context, companyID *uuid.UUID) ([]Claim, error) {
	var out []Claim
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.ListClaims(ctx, companyID)
		return err
	})
	return out, err
}

// ClaimMembers returns the claim and the transactions currently attached to it.
func (s *Service) ClaimMembers(ctx context.Context, id uuid.UUID) (Claim, []Transaction, error) {
	var (
		c       Claim
		members []Transaction
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		c, err = tx.GetClaim(ctx, id, false)
		if err != nil {
			return err
		}
		members, err = tx.ListClaimMembers(ctx, id)
		return err
	})
	return c, members, err
}

// ListActiveCompanies returns the companies claim generation runs for.
func (s *Service) ListActiveCompanies(ctx context.Context) ([]Company, error) {
	var out []Company
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.ListCompanies(ctx, true)
		return err
	})
	return out, err
}

// syncClaimStatus moves a claim to partially-paid or paid after one of its
// members received money. Totals are never recomputed.
func syncClaimStatus(ctx context.Context, tx TxRepository, claimID uuid.UUID) (Claim, bool, error) {
	claim, err := tx.GetClaim(ctx, claimID, true)
	if err != nil {
		return Claim{}, false, err
	}
	switch claim.Status {
	case ClaimStatusLocked, ClaimStatusExported, ClaimStatusPartiallyPaid:
	default:
		return claim, false, nil
	}
	members, err := tx.ListClaimMembers(ctx, claimID)
	if err != nil {
		return Claim{}, false, err
	}
	var paid, unpaid int
	anyMoney := false
	for _, m := range members {
		switch m.Status {
		case TxStatusPaid:
			paid++
		case TxStatusClaimed:
			unpaid++
		}
		if m.PaidAmount.IsPositive() {
			anyMoney = true
		}
	}
	next := claim.Status
	switch {
	case paid > 0 && unpaid == 0:
		next = ClaimStatusPaid
	case anyMoney:
		next = ClaimStatusPartiallyPaid
	}
	if next == claim.Status {
		return claim, false, nil
	}
	claim.Status = next
	if err := tx.UpdateClaimStatus(ctx, claimID, next); err != nil {
		return Claim{}, false, err
	}
	return claim, true, nil
}
