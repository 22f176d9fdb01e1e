package corporate

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OutstandingRow summarises what one company owes.
type OutstandingRow struct {
	CompanyID   uuid.UUID       `json:"company_id"`
	CompanyName string          `json:"company_name,omitempty"`
	Outstanding decimal.Decimal `json:"outstanding"`
	Accrued     decimal.Decimal `json:"accrued"`
	Claimed     decimal.Decimal `json:"claimed"`
}

// AgingBucket labels used in aging output.
const (
	Bucket0To30  = "0-30"
	Bucket31To60 = "31-60"
	Bucket61To90 = "61-90"
	BucketOver90 = "90+"
)

// AgingBuckets lists the bucket labels in display order.
var AgingBuckets = []string{Bucket0To30, Bucket31To60, Bucket61To90, BucketOver90}

// AgingRow holds one company's positive outstanding by age.
type AgingRow struct {
	CompanyID   uuid.UUID       `json:"company_id"`
	CompanyName string          `json:"company_name,omitempty"`
	Current     decimal.Decimal `json:"0-30"`
	Days31To60  decimal.Decimal `json:"31-60"`
	Days61To90  decimal.Decimal `json:"61-90"`
	Over90      decimal.Decimal `json:"90+"`
	Total       decimal.Decimal `json:"total"`
}

// Bucket returns the amount in the named bucket.
func (r AgingRow) Bucket(label string) decimal.Decimal {
	switch label {
	case Bucket0To30:
		return r.Current
	case Bucket31To60:
		return r.Days31To60
	case Bucket61To90:
		return r.Days61To90
	case BucketOver90:
		return r.Over90
	}
	return decimal.Zero
}

// AgingBucketFor classifies an age in days.
func AgingBucketFor(days int) string {
	switch {
	case days <= 30:
		return Bucket0To30
	case days <= 60:
		return Bucket31To60
	case days <= 90:
		return Bucket61To90
	default:
		return BucketOver90
	}
}

// BuildOutstanding sums signed net-minus-paid per company. Rejected rows are
// ignored; accrued and claimed narrow the same sum to that status.
func BuildOutstanding(rows []Transaction) []OutstandingRow {
	byCompany := make(map[uuid.UUID]*OutstandingRow)
	var order []uuid.UUID
	for _, t := range rows {
		if t.Status == TxStatusRejected {
			continue
		}
		row, ok := byCompany[t.CompanyID]
		if !ok {
			row = &OutstandingRow{CompanyID: t.CompanyID, Outstanding: decimal.Zero, Accrued: decimal.Zero, Claimed: decimal.Zero}
			byCompany[t.CompanyID] = row
			order = append(order, t.CompanyID)
		}
		due := t.NetToCorporate.Sub(t.PaidAmount)
		row.Outstanding = row.Outstanding.Add(due)
		switch t.Status {
		case TxStatusAccrued:
			row.Accrued = row.Accrued.Add(due)
		case TxStatusClaimed:
			row.Claimed = row.Claimed.Add(due)
		}
	}
	sortIDs(order)
	out := make([]OutstandingRow, 0, len(order))
	for _, id := range order {
		out = append(out, *byCompany[id])
	}
	return out
}

// BuildAging buckets positive outstanding of accrued and claimed rows by days
// since creation, measured at asOf.
func BuildAging(rows []Transaction, asOf time.Time) []AgingRow {
	byCompany := make(map[uuid.UUID]*AgingRow)
	var order []uuid.UUID
	for _, t := range rows {
		if t.Status != TxStatusAccrued && t.Status != TxStatusClaimed {
			continue
		}
		due := t.NetToCorporate.Sub(t.PaidAmount)
		if !due.IsPositive() {
			continue
		}
		row, ok := byCompany[t.CompanyID]
		if !ok {
			row = &AgingRow{CompanyID: t.CompanyID, Current: decimal.Zero, Days31To60: decimal.Zero,
				Days61To90: decimal.Zero, Over90: decimal.Zero, Total: decimal.Zero}
			byCompany[t.CompanyID] = row
			order = append(order, t.CompanyID)
		}
		days := int(asOf.Sub(t.CreatedAt).Hours() / 24)
		if days < 0 {
			days = 0
		}
		switch AgingBucketFor(days) {
		case Bucket0To30:
			row.Current = row.Current.Add(due)
		case Bucket31To60:
			row.Days31To60 = row.Days31To60.Add(due)
		case Bucket61To90:
			row.Days61To90 = row.Days61To90.Add(due)
		default:
			row.Over90 = row.Over90.Add(due)
		}
		row.Total = row.Total.Add(due)
	}
	sortIDs(order)
	out := make([]AgingRow, 0, len(order))
	for _, id := range order {
		out = append(out, *byCompany[id])
	}
	return out
}

func sortIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
}

// OutstandingReport builds the outstanding report, optionally for one company.
func (s *Service) OutstandingReport(ctx context.Context, companyID *uuid.UUID) ([]OutstandingRow, error) {
	rows, names, err := s.reportData(ctx, companyID)
	if err != nil {
		return nil, err
	}
	out := BuildOutstanding(rows)
	for i := range out {
		out[i].CompanyName = names[out[i].CompanyID]
	}
	return out, nil
}

// AgingReport builds the aging report at asOf; zero means now.
func (s *Service) AgingReport(ctx context.Context, companyID *uuid.UUID, asOf time.Time) ([]AgingRow, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}
	rows, names, err := s.reportData(ctx, companyID)
	if err != nil {
		return nil, err
	}
	out := BuildAging(rows, asOf)
	for i := range out {
		out[i].CompanyName = names[out[i].CompanyID]
	}
	return out, nil
}

func (s *Service) reportData(ctx context.Context, companyID *uuid.UUID) ([]Transaction, map[uuid.UUID]string, error) {
	var (
		rows  []Transaction
		names = make(map[uuid.UUID]string)
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		companies, err := tx.ListCompanies(ctx, false)
		if err != nil {
			return err
		}
		for _, c := range companies {
			names[c.ID] = c.Name
		}
		rows, err = tx.ListReportTransactions(ctx, companyID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return rows, names, nil
}
