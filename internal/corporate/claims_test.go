package corporate

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/clinicos/backoffice/internal/shared"
)

func TestClaimNumberFormat(t *testing.T) {
	at := time.Date(2024, 1, 31, 23, 0, 0, 0, time.UTC)
	require.Equal(t, "CLM-202401-001", ClaimNumber(at, 1))
	require.Equal(t, "CLM-202401-042", ClaimNumber(at, 42))
	require.Equal(t, "CLM-202401-1234", ClaimNumber(at, 1234))
}

func TestGenerateClaimNumbersAreMonthlyPerCompany(t *testing.T) {
	f := newFixture(t)
	a := f.repo.addCompany("A", true)
	b := f.repo.addCompany("B", true)
	ctx := context.Background()

	f.accrue(t, a.ID, "1", "10")
	first, err := f.svc.GenerateClaim(ctx, GenerateClaimInput{CompanyID: a.ID})
	require.NoError(t, err)
	f.accrue(t, a.ID, "2", "10")
	second, err := f.svc.GenerateClaim(ctx, GenerateClaimInput{CompanyID: a.ID})
	require.NoError(t, err)
	f.accrue(t, b.ID, "3", "10")
	other, err := f.svc.GenerateClaim(ctx, GenerateClaimInput{CompanyID: b.ID})
	require.NoError(t, err)

	f.clock.Advance(15 * 24 * time.Hour)
	f.accrue(t, a.ID, "4", "10")
	nextMonth, err := f.svc.GenerateClaim(ctx, GenerateClaimInput{CompanyID: a.ID})
	require.NoError(t, err)

	require.Equal(t, "CLM-202405-001", first.ClaimNo)
	require.Equal(t, "CLM-202405-002", second.ClaimNo)
	require.Equal(t, "CLM-202405-001", other.ClaimNo)
	require.Equal(t, "CLM-202406-001", nextMonth.ClaimNo)
}

func TestGenerateClaimEmptySelectionRollsBackNumber(t *testing.T) {
	f := newFixture(t)
	company := f.repo.addCompany("A", true)
	ctx := context.Background()

	_, err := f.svc.GenerateClaim(ctx, GenerateClaimInput{CompanyID: company.ID})
	require.ErrorIs(t, err, ErrNoTransactions)
	require.ErrorIs(t, err, shared.ErrInvalidState)

	f.accrue(t, company.ID, "1", "10")
	claim, err := f.svc.GenerateClaim(ctx, GenerateClaimInput{CompanyID: company.ID})
	require.NoError(t, err)
	require.Equal(t, "CLM-202405-001", claim.ClaimNo)
}

func TestGenerateClaimRespectsDateRangeAndSkipsZeroNet(t *testing.T) {
	f := newFixture(t)
	company := f.repo.addCompany("A", true)
	ctx := context.Background()

	f.clock.now = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	early := f.accrue(t, company.ID, "early", "10")
	f.clock.now = time.Date(2024, 5, 10, 23, 59, 0, 0, time.UTC)
	inside := f.accrue(t, company.ID, "inside", "20")
	zero := f.accrue(t, company.ID, "zero", "0")
	f.clock.now = time.Date(2024, 5, 11, 0, 0, 0, 0, time.UTC)
	late := f.accrue(t, company.ID, "late", "40")

	from := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	claim, err := f.svc.GenerateClaim(ctx, GenerateClaimInput{CompanyID: company.ID, FromDate: &from, ToDate: &to})
	require.NoError(t, err)
	require.Equal(t, 1, claim.TotalTransactions)
	requireAmount(t, "20", claim.TotalAmount)
	require.Equal(t, TxStatusClaimed, f.repo.tx(inside.ID).Status)
	require.Equal(t, TxStatusAccrued, f.repo.tx(early.ID).Status)
	require.Equal(t, TxStatusAccrued, f.repo.tx(zero.ID).Status)
	require.Equal(t, TxStatusAccrued, f.repo.tx(late.ID).Status)

	_, err = f.svc.GenerateClaim(ctx, GenerateClaimInput{CompanyID: company.ID, FromDate: &to, ToDate: &from})
	require.ErrorIs(t, err, shared.ErrInvalidRequest)
}

func TestGenerateClaimRejectsInactiveCompany(t *testing.T) {
	f := newFixture(t)
	company := f.repo.addCompany("A", false)

	_, err := f.svc.GenerateClaim(context.Background(), GenerateClaimInput{CompanyID: company.ID})
	require.ErrorIs(t, err, ErrCompanyInactive)
	_, err = f.svc.GenerateClaim(context.Background(), GenerateClaimInput{})
	require.ErrorIs(t, err, ErrCompanyRequired)
}

func TestClaimTotalsAreSnapshots(t *testing.T) {
	f := newFixture(t)
	company := f.repo.addCompany("A", true)
	ctx := context.Background()

	claimedTx := f.accrue(t, company.ID, "1", "100")
	f.accrue(t, company.ID, "2", "50")
	claim, err := f.svc.GenerateClaim(ctx, GenerateClaimInput{CompanyID: company.ID})
	require.NoError(t, err)
	requireAmount(t, "150", claim.TotalAmount)

	// Reversing a member and accruing more work must not move the stored total.
	_, err = f.svc.ReverseTransaction(ctx, claimedTx.ID, "cancelled")
	require.NoError(t, err)
	f.accrue(t, company.ID, "3", "70")

	stored, err := f.svc.GetClaim(ctx, claim.ID)
	require.NoError(t, err)
	requireAmount(t, "150", stored.TotalAmount)
	require.Equal(t, 2, stored.TotalTransactions)

	// The reversal row is claimable and nets the cancelled line in the next claim.
	next, err := f.svc.GenerateClaim(ctx, GenerateClaimInput{CompanyID: company.ID})
	require.NoError(t, err)
	requireAmount(t, "-30", next.TotalAmount)
	require.Equal(t, 2, next.TotalTransactions)
}

func TestGeneratedClaimsNeverShareTransactions(t *testing.T) {
	f := newFixture(t)
	company := f.repo.addCompany("A", true)
	ctx := context.Background()
	f.accrue(t, company.ID, "1", "10")

	first, err := f.svc.GenerateClaim(ctx, GenerateClaimInput{CompanyID: company.ID})
	require.NoError(t, err)
	_, err = f.svc.GenerateClaim(ctx, GenerateClaimInput{CompanyID: company.ID})
	require.ErrorIs(t, err, ErrNoTransactions)

	_, members, err := f.svc.ClaimMembers(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)
}

func TestClaimTransitions(t *testing.T) {
	f := newFixture(t)
	company := f.repo.addCompany("A", true)
	ctx := context.Background()
	tx := f.accrue(t, company.ID, "1", "10")
	claim, err := f.svc.GenerateClaim(ctx, GenerateClaimInput{CompanyID: company.ID})
	require.NoError(t, err)

	locked, err := f.svc.LockClaim(ctx, claim.ID)
	require.NoError(t, err)
	require.Equal(t, ClaimStatusLocked, locked.Status)

	exported, err := f.svc.MarkClaimExported(ctx, claim.ID)
	require.NoError(t, err)
	require.Equal(t, ClaimStatusExported, exported.Status)

	_, err = f.svc.LockClaim(ctx, claim.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)

	opened, err := f.svc.UnlockClaim(ctx, claim.ID)
	require.NoError(t, err)
	require.Equal(t, ClaimStatusOpen, opened.Status)
	require.Equal(t, TxStatusAccrued, f.repo.tx(tx.ID).Status)

	// Lock after unlock only flips the claim; members stay accrued.
	relocked, err := f.svc.LockClaim(ctx, claim.ID)
	require.NoError(t, err)
	require.Equal(t, ClaimStatusLocked, relocked.Status)
	require.Equal(t, TxStatusAccrued, f.repo.tx(tx.ID).Status)

	_, err = f.svc.MarkClaimExported(ctx, uuid.New())
	require.ErrorIs(t, err, ErrClaimNotFound)
	require.ErrorIs(t, f.svc.RemoveClaim(ctx, uuid.Nil), shared.ErrInvalidRequest)
}

func TestListClaimsFiltersByCompany(t *testing.T) {
	f := newFixture(t)
	a := f.repo.addCompany("A", true)
	b := f.repo.addCompany("B", true)
	ctx := context.Background()
	f.accrue(t, a.ID, "1", "10")
	f.accrue(t, b.ID, "2", "10")
	_, err := f.svc.GenerateClaim(ctx, GenerateClaimInput{CompanyID: a.ID})
	require.NoError(t, err)
	_, err = f.svc.GenerateClaim(ctx, GenerateClaimInput{CompanyID: b.ID})
	require.NoError(t, err)

	all, err := f.svc.ListClaims(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	onlyA, err := f.svc.ListClaims(ctx, &a.ID)
	require.NoError(t, err)
	require.Len(t, onlyA, 1)
	require.Equal(t, a.ID, onlyA[0].CompanyID)
}
