package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/clinicos/backoffice/internal/corporate"
	"github.com/clinicos/backoffice/internal/corporate/export"
)

// Export formats.
const (
	FormatCSV     = "csv"
	FormatParquet = "parquet"
)

// ClaimSource loads claims for export and records that they left the building.
type ClaimSource interface {
	ClaimMembers(ctx context.Context, id uuid.UUID) (corporate.Claim, []corporate.Transaction, error)
	MarkClaimExported(ctx context.Context, id uuid.UUID) (corporate.Claim, error)
}

// ExportOptions defines flags for the claims export command.
type ExportOptions struct {
	ClaimID      uuid.UUID
	Format       string
	Dir          string
	Out          string
	MarkExported bool
}

// ExportResult describes a written export file.
type ExportResult struct {
	Path   string
	Rows   int
	Claim  corporate.Claim
	Marked bool
}

// ExportClaim writes a claim's member lines to disk. The file is written under
// a temporary name and renamed once complete.
func ExportClaim(ctx context.Context, src ClaimSource, opts ExportOptions) (ExportResult, error) {
	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" {
		format = FormatCSV
	}
	if format != FormatCSV && format != FormatParquet {
		return ExportResult{}, fmt.Errorf("claims export: unsupported format %q", opts.Format)
	}
	if opts.ClaimID == uuid.Nil {
		return ExportResult{}, fmt.Errorf("claims export: claim id is required")
	}

	claim, members, err := src.ClaimMembers(ctx, opts.ClaimID)
	if err != nil {
		return ExportResult{}, err
	}

	path := opts.Out
	if path == "" {
		dir := opts.Dir
		if dir == "" {
			dir = "."
		}
		path = filepath.Join(dir, claim.ClaimNo+"."+format)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return ExportResult{}, fmt.Errorf("claims export: %w", err)
	}

	err = writeAtomic(path, func(w io.Writer) error {
		if format == FormatParquet {
			return export.WriteClaimParquet(w, claim, members)
		}
		return export.WriteClaimCSV(w, members)
	})
	if err != nil {
		return ExportResult{}, fmt.Errorf("claims export: %w", err)
	}

	result := ExportResult{Path: path, Rows: len(members), Claim: claim}
	if opts.MarkExported {
		marked, err := src.MarkClaimExported(ctx, claim.ID)
		if err != nil {
			return result, fmt.Errorf("claims export: file written to %s but marking failed: %w", path, err)
		}
		result.Claim = marked
		result.Marked = true
	}
	return result, nil
}

func writeAtomic(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".export-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := write(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
