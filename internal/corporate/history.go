package corporate

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinicos/backoffice/internal/shared"
)

// Effective is the current state of a transaction derived from its original
// row and any reversal row.
type Effective struct {
	RootID      uuid.UUID         `json:"root_id"`
	Status      TransactionStatus `json:"status"`
	Net         decimal.Decimal   `json:"net"`
	Paid        decimal.Decimal   `json:"paid"`
	Outstanding decimal.Decimal   `json:"outstanding"`
	Reversed    bool              `json:"reversed"`
	Rows        []Transaction     `json:"rows"`
}

// Fold reduces a transaction chain to its effective state. Rows are applied
// oldest first; amounts are signed so a reversal cancels its original.
func Fold(rows []Transaction) Effective {
	sorted := append([]Transaction(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		// Originals sort before their reversals on equal timestamps.
		return sorted[i].ReversalOf == nil && sorted[j].ReversalOf != nil
	})
	out := Effective{Net: decimal.Zero, Paid: decimal.Zero, Rows: sorted}
	for _, row := range sorted {
		out.Net = out.Net.Add(row.NetToCorporate)
		out.Paid = out.Paid.Add(row.PaidAmount)
		if row.ReversalOf == nil {
			out.RootID = row.ID
			out.Status = row.Status
			continue
		}
		if out.RootID == uuid.Nil {
			out.RootID = *row.ReversalOf
		}
		out.Reversed = true
	}
	if out.Reversed {
		out.Status = TxStatusReversed
	}
	out.Outstanding = shared.NonNegative(out.Net.Sub(out.Paid))
	return out
}

// TransactionHistory folds the chain containing id. Passing the id of a
// reversal row resolves to its original.
func (s *Service) TransactionHistory(ctx context.Context, id uuid.UUID) (Effective, error) {
	if id == uuid.Nil {
		return Effective{}, invalid("transaction id required")
	}
	var rows []Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, err := tx.GetTransaction(ctx, id, false)
		if err != nil {
			return err
		}
		root := t.ID
		if t.ReversalOf != nil {
			root = *t.ReversalOf
		}
		rows, err = tx.ListTransactionChain(ctx, root)
		return err
	})
	if err != nil {
		return Effective{}, err
	}
	return Fold(rows), nil
}
