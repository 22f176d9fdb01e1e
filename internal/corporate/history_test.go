package corporate

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestFoldSingleRow(t *testing.T) {
	row := Transaction{ID: uuid.New(), Status: TxStatusClaimed, NetToCorporate: amt("90"), PaidAmount: amt("40")}

	eff := Fold([]Transaction{row})
	require.Equal(t, row.ID, eff.RootID)
	require.Equal(t, TxStatusClaimed, eff.Status)
	require.False(t, eff.Reversed)
	requireAmount(t, "50", eff.Outstanding)
}

func TestFoldReversalCancelsOriginal(t *testing.T) {
	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	original := Transaction{ID: uuid.New(), Status: TxStatusReversed, NetToCorporate: amt("90"), PaidAmount: amt("0"), CreatedAt: at}
	reversal := negate(original, at)

	// Input order does not matter.
	eff := Fold([]Transaction{reversal, original})
	require.Equal(t, original.ID, eff.RootID)
	require.Equal(t, TxStatusReversed, eff.Status)
	require.True(t, eff.Reversed)
	require.True(t, eff.Net.IsZero())
	require.True(t, eff.Outstanding.IsZero())
	require.Equal(t, original.ID, eff.Rows[0].ID)
	require.Equal(t, reversal.ID, eff.Rows[1].ID)
}

func TestTransactionHistoryResolvesFromEitherRow(t *testing.T) {
	f := newFixture(t)
	company := f.repo.addCompany("A", true)
	ctx := context.Background()
	tx := f.accrue(t, company.ID, "1", "120")
	f.clock.Advance(time.Minute)
	reversal, err := f.svc.ReverseTransaction(ctx, tx.ID, "")
	require.NoError(t, err)

	fromOriginal, err := f.svc.TransactionHistory(ctx, tx.ID)
	require.NoError(t, err)
	fromReversal, err := f.svc.TransactionHistory(ctx, reversal.ID)
	require.NoError(t, err)

	require.Equal(t, fromOriginal.RootID, fromReversal.RootID)
	require.Len(t, fromOriginal.Rows, 2)
	require.True(t, fromOriginal.Reversed)
	require.True(t, fromOriginal.Net.IsZero())

	_, err = f.svc.TransactionHistory(ctx, uuid.New())
	require.ErrorIs(t, err, ErrTransactionNotFound)
}
