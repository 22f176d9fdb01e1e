package corporate

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestAgingBucketFor(t *testing.T) {
	cases := []struct {
		days int
		want string
	}{
		{0, Bucket0To30},
		{30, Bucket0To30},
		{31, Bucket31To60},
		{60, Bucket31To60},
		{61, Bucket61To90},
		{90, Bucket61To90},
		{91, BucketOver90},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, AgingBucketFor(tc.days), "days=%d", tc.days)
	}
}

func TestBuildOutstandingNetsReversals(t *testing.T) {
	company := uuid.New()
	original := Transaction{ID: uuid.New(), CompanyID: company, Status: TxStatusReversed, NetToCorporate: amt("100"), PaidAmount: amt("0")}
	rows := []Transaction{
		original,
		negate(original, time.Now()),
		{CompanyID: company, Status: TxStatusAccrued, NetToCorporate: amt("40"), PaidAmount: amt("0")},
		{CompanyID: company, Status: TxStatusClaimed, NetToCorporate: amt("60"), PaidAmount: amt("10")},
		{CompanyID: company, Status: TxStatusPaid, NetToCorporate: amt("25"), PaidAmount: amt("25")},
		{CompanyID: company, Status: TxStatusRejected, NetToCorporate: amt("500"), PaidAmount: amt("0")},
	}

	out := BuildOutstanding(rows)
	require.Len(t, out, 1)
	requireAmount(t, "90", out[0].Outstanding)
	// The accrued reversal row (-100) counts toward accrued.
	requireAmount(t, "-60", out[0].Accrued)
	requireAmount(t, "50", out[0].Claimed)
}

func TestBuildAgingBuckets(t *testing.T) {
	asOf := time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)
	a := uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	b := uuid.MustParse("00000000-0000-0000-0000-00000000000b")
	ago := func(days int) time.Time { return asOf.Add(-time.Duration(days) * 24 * time.Hour) }
	rows := []Transaction{
		{CompanyID: b, Status: TxStatusAccrued, NetToCorporate: amt("10"), PaidAmount: amt("0"), CreatedAt: ago(5)},
		{CompanyID: a, Status: TxStatusClaimed, NetToCorporate: amt("20"), PaidAmount: amt("5"), CreatedAt: ago(45)},
		{CompanyID: a, Status: TxStatusClaimed, NetToCorporate: amt("30"), PaidAmount: amt("0"), CreatedAt: ago(75)},
		{CompanyID: a, Status: TxStatusAccrued, NetToCorporate: amt("40"), PaidAmount: amt("0"), CreatedAt: ago(120)},
		{CompanyID: a, Status: TxStatusAccrued, NetToCorporate: amt("-40"), PaidAmount: amt("0"), CreatedAt: ago(1)},
		{CompanyID: a, Status: TxStatusPaid, NetToCorporate: amt("50"), PaidAmount: amt("50"), CreatedAt: ago(200)},
		{CompanyID: a, Status: TxStatusReversed, NetToCorporate: amt("70"), PaidAmount: amt("0"), CreatedAt: ago(10)},
		{CompanyID: a, Status: TxStatusAccrued, NetToCorporate: amt("5"), PaidAmount: amt("0"), CreatedAt: asOf.Add(time.Hour)},
	}

	out := BuildAging(rows, asOf)
	require.Len(t, out, 2)
	require.Equal(t, a, out[0].CompanyID)
	requireAmount(t, "5", out[0].Current)
	requireAmount(t, "15", out[0].Days31To60)
	requireAmount(t, "30", out[0].Days61To90)
	requireAmount(t, "40", out[0].Over90)
	requireAmount(t, "90", out[0].Total)
	requireAmount(t, "10", out[1].Bucket(Bucket0To30))
}

func TestReportsThroughService(t *testing.T) {
	f := newFixture(t)
	company := f.repo.addCompany("Acme", true)
	ctx := context.Background()
	f.accrue(t, company.ID, "1", "100")
	f.clock.Advance(40 * 24 * time.Hour)
	f.accrue(t, company.ID, "2", "50")

	outstanding, err := f.svc.OutstandingReport(ctx, nil)
	require.NoError(t, err)
	require.Len(t, outstanding, 1)
	require.Equal(t, "Acme", outstanding[0].CompanyName)
	requireAmount(t, "150", outstanding[0].Outstanding)

	aging, err := f.svc.AgingReport(ctx, &company.ID, time.Time{})
	require.NoError(t, err)
	require.Len(t, aging, 1)
	requireAmount(t, "50", aging[0].Current)
	requireAmount(t, "100", aging[0].Days31To60)
}
