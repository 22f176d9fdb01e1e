package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/clinicos/backoffice/internal/shared"
	"github.com/clinicos/backoffice/jobs"
)

// GenerateOptions defines flags for the claims generate command.
type GenerateOptions struct {
	Company    string
	Period     string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

type generateSummary struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	Generated []generatedItem `json:"generated"`
	Empty     int             `json:"empty"`
	Failed    int             `json:"failed"`
}

type generatedItem struct {
	ClaimNo      string `json:"claim_no"`
	Company      string `json:"company_id"`
	Transactions int    `json:"transactions"`
	Total        string `json:"total"`
}

// GenerateCommand runs claim generation in-process and prints the summary.
// The exit code is non-zero when any company failed.
func GenerateCommand(ctx context.Context, job *jobs.ClaimsGenerateJob, opts GenerateOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	summary, runErr := job.Run(ctx, jobs.ClaimsGeneratePayload{Company: opts.Company, Period: opts.Period})
	if summary.From.IsZero() && runErr != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "claims generate: %v\n", runErr)
		return 1
	}

	out := generateSummary{
		From:      summary.From.Format("2006-01-02"),
		To:        summary.To.Format("2006-01-02"),
		Generated: make([]generatedItem, 0, len(summary.Generated)),
		Empty:     summary.Empty,
		Failed:    summary.Failed,
	}
	for _, claim := range summary.Generated {
		out.Generated = append(out.Generated, generatedItem{
			ClaimNo:      claim.ClaimNo,
			Company:      claim.CompanyID.String(),
			Transactions: claim.TotalTransactions,
			Total:        shared.FormatMoney(claim.TotalAmount),
		})
	}

	if opts.JSONOutput {
		enc := json.NewEncoder(opts.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "claims generate: %v\n", err)
			return 1
		}
	} else {
		_, _ = fmt.Fprintf(opts.Stdout, "Period %s to %s\n", out.From, out.To)
		for _, item := range out.Generated {
			_, _ = fmt.Fprintf(opts.Stdout, "%-16s %-36s %5d %14s\n", item.ClaimNo, item.Company, item.Transactions, item.Total)
		}
		_, _ = fmt.Fprintf(opts.Stdout, "generated=%d empty=%d failed=%d\n", len(out.Generated), out.Empty, out.Failed)
	}
	if runErr != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "claims generate: %v\n", runErr)
		return 1
	}
	return 0
}
