package export

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/clinicos/backoffice/internal/corporate"
	"github.com/clinicos/backoffice/internal/shared"
)

// ClaimColumns is the header row of a claim export.
var ClaimColumns = []string{
	"TransactionId", "Date", "MRN", "PatientName", "Service", "RefType", "RefId",
	"Description", "Qty", "UnitPrice", "CoPay", "NetToCorporate", "RuleId",
}

var descriptionCleaner = strings.NewReplacer("\r\n", " ", ",", " ", "\n", " ", "\r", " ")

// CleanDescription replaces commas and line breaks with a single space.
func CleanDescription(s string) string {
	return descriptionCleaner.Replace(s)
}

func claimRecord(t corporate.Transaction) []string {
	return []string{
		t.ID.String(),
		t.CreatedAt.UTC().Format("2006-01-02"),
		t.PatientMRN,
		t.PatientName,
		string(t.ServiceType),
		t.RefType,
		t.RefID,
		CleanDescription(t.Description),
		t.Qty.String(),
		shared.FormatMoney(t.CorporateUnitPrice),
		shared.FormatMoney(t.CoPay),
		shared.FormatMoney(t.NetToCorporate),
		t.AppliedRuleID,
	}
}

// WriteClaimCSV writes the members of a claim as CSV.
func WriteClaimCSV(w io.Writer, members []corporate.Transaction) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write(ClaimColumns); err != nil {
		return err
	}
	for _, t := range members {
		if err := writer.Write(claimRecord(t)); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteOutstandingCSV prints the outstanding-by-company report.
func WriteOutstandingCSV(w io.Writer, rows []corporate.OutstandingRow) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()
	if err := writer.Write([]string{"CompanyId", "Company", "Outstanding", "Accrued", "Claimed"}); err != nil {
		return err
	}
	for _, row := range rows {
		if err := writer.Write([]string{
			row.CompanyID.String(),
			row.CompanyName,
			shared.FormatMoney(row.Outstanding),
			shared.FormatMoney(row.Accrued),
			shared.FormatMoney(row.Claimed),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteAgingCSV prints aging buckets per company.
func WriteAgingCSV(w io.Writer, rows []corporate.AgingRow) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()
	header := append([]string{"CompanyId", "Company"}, corporate.AgingBuckets...)
	if err := writer.Write(append(header, "Total")); err != nil {
		return err
	}
	for _, row := range rows {
		record := []string{row.CompanyID.String(), row.CompanyName}
		for _, label := range corporate.AgingBuckets {
			record = append(record, shared.FormatMoney(row.Bucket(label)))
		}
		record = append(record, shared.FormatMoney(row.Total))
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
