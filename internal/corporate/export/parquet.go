package export

import (
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"

	"github.com/clinicos/backoffice/internal/corporate"
)

// ClaimRow is the archived form of one claim member. Amounts keep their two
// decimal text form so archives compare equal to the CSV.
type ClaimRow struct {
	ClaimNo        string `parquet:"claim_no"`
	TransactionID  string `parquet:"transaction_id"`
	Date           string `parquet:"date"`
	MRN            string `parquet:"mrn"`
	PatientName    string `parquet:"patient_name"`
	Service        string `parquet:"service"`
	RefType        string `parquet:"ref_type"`
	RefID          string `parquet:"ref_id"`
	Description    string `parquet:"description"`
	Qty            string `parquet:"qty"`
	UnitPrice      string `parquet:"unit_price"`
	CoPay          string `parquet:"co_pay"`
	NetToCorporate string `parquet:"net_to_corporate"`
	RuleID         string `parquet:"rule_id,optional"`
}

// ClaimRows converts claim members to archive rows in CSV column order.
func ClaimRows(claim corporate.Claim, members []corporate.Transaction) []ClaimRow {
	rows := make([]ClaimRow, 0, len(members))
	for _, t := range members {
		rec := claimRecord(t)
		rows = append(rows, ClaimRow{
			ClaimNo:        claim.ClaimNo,
			TransactionID:  rec[0],
			Date:           rec[1],
			MRN:            rec[2],
			PatientName:    rec[3],
			Service:        rec[4],
			RefType:        rec[5],
			RefID:          rec[6],
			Description:    rec[7],
			Qty:            rec[8],
			UnitPrice:      rec[9],
			CoPay:          rec[10],
			NetToCorporate: rec[11],
			RuleID:         rec[12],
		})
	}
	return rows
}

// WriteClaimParquet writes a Snappy-compressed Parquet archive of a claim.
func WriteClaimParquet(w io.Writer, claim corporate.Claim, members []corporate.Transaction) error {
	writer := parquet.NewGenericWriter[ClaimRow](w, parquet.Compression(&parquet.Snappy))
	if _, err := writer.Write(ClaimRows(claim, members)); err != nil {
		_ = writer.Close()
		return fmt.Errorf("export: write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("export: close parquet writer: %w", err)
	}
	return nil
}
