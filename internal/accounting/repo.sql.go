package accounting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/clinicos/backoffice/internal/platform/db"
)

// Repository persists journal entries.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	GetEntry(ctx context.Context, id uuid.UUID) (JournalEntry, error)
	GetEntryByRef(ctx context.Context, refType, refID string) (JournalEntry, error)
	// InsertEntry stores entry and its lines. It reports false without error
	// when an entry with the same (RefType, RefID) already exists.
	InsertEntry(ctx context.Context, entry JournalEntry) (bool, error)
	Balance(ctx context.Context, account Account, filter Tags) (decimal.Decimal, error)
	ListImbalances(ctx context.Context, limit int) ([]Imbalance, error)
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes fn within a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("accounting repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// WithLockedTx executes fn within a read-committed transaction that holds the
// advisory lock for key until commit. Statements in fn see every row committed
// by earlier holders of the same key.
func (r *Repository) WithLockedTx(ctx context.Context, key string, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("accounting repository not initialised")
	}
	return db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
			return fmt.Errorf("accounting: lock %s: %w", key, err)
		}
		return fn(ctx, &txRepository{tx: tx})
	})
}

const entryColumns = `id, entry_date, ref_type, ref_id, memo, reversal_of, created_at`

func (r *txRepository) GetEntry(ctx context.Context, id uuid.UUID) (JournalEntry, error) {
	return r.loadEntry(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE id=$1`, id)
}

func (r *txRepository) GetEntryByRef(ctx context.Context, refType, refID string) (JournalEntry, error) {
	return r.loadEntry(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE ref_type=$1 AND ref_id=$2`, refType, refID)
}

func (r *txRepository) loadEntry(ctx context.Context, query string, args ...any) (JournalEntry, error) {
	var entry JournalEntry
	err := r.tx.QueryRow(ctx, query, args...).
		Scan(&entry.ID, &entry.Date, &entry.RefType, &entry.RefID, &entry.Memo, &entry.ReversalOf, &entry.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, ErrJournalNotFound
		}
		return JournalEntry{}, fmt.Errorf("accounting: load entry: %w", err)
	}
	rows, err := r.tx.Query(ctx, `SELECT account, debit, credit, tags FROM journal_lines WHERE entry_id=$1 ORDER BY line_no ASC`, entry.ID)
	if err != nil {
		return JournalEntry{}, fmt.Errorf("accounting: load lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			line JournalLine
			raw  []byte
		)
		if err := rows.Scan(&line.Account, &line.Debit, &line.Credit, &raw); err != nil {
			return JournalEntry{}, fmt.Errorf("accounting: scan line: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &line.Tags); err != nil {
				return JournalEntry{}, fmt.Errorf("accounting: decode tags: %w", err)
			}
		}
		if len(line.Tags) == 0 {
			line.Tags = nil
		}
		entry.Lines = append(entry.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

func (r *txRepository) InsertEntry(ctx context.Context, entry JournalEntry) (bool, error) {
	tag, err := r.tx.Exec(ctx, `INSERT INTO journal_entries (`+entryColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (ref_type, ref_id) DO NOTHING`,
		entry.ID, entry.Date, entry.RefType, entry.RefID, entry.Memo, entry.ReversalOf, entry.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("accounting: insert entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	batch := &pgx.Batch{}
	for idx, line := range entry.Lines {
		tags, err := encodeTags(line.Tags)
		if err != nil {
			return false, err
		}
		batch.Queue(`INSERT INTO journal_lines (entry_id, line_no, account, debit, credit, tags) VALUES ($1,$2,$3,$4,$5,$6)`,
			entry.ID, idx+1, string(line.Account), line.Debit, line.Credit, tags)
	}
	if err := r.tx.SendBatch(ctx, batch).Close(); err != nil {
		return false, fmt.Errorf("accounting: insert lines: %w", err)
	}
	return true, nil
}

func (r *txRepository) Balance(ctx context.Context, account Account, filter Tags) (decimal.Decimal, error) {
	tags, err := encodeTags(filter)
	if err != nil {
		return decimal.Zero, err
	}
	var balance decimal.Decimal
	err = r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(credit), 0) - COALESCE(SUM(debit), 0)
FROM journal_lines WHERE account=$1 AND tags @> $2::jsonb`, string(account), tags).Scan(&balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("accounting: balance %s: %w", account, err)
	}
	return balance, nil
}

func (r *txRepository) ListImbalances(ctx context.Context, limit int) ([]Imbalance, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.tx.Query(ctx, `SELECT e.id, e.ref_type, e.ref_id, COALESCE(SUM(l.debit), 0), COALESCE(SUM(l.credit), 0)
FROM journal_entries e
LEFT JOIN journal_lines l ON l.entry_id = e.id
GROUP BY e.id, e.ref_type, e.ref_id, e.created_at
HAVING COALESCE(SUM(l.debit), 0) <> COALESCE(SUM(l.credit), 0) OR COUNT(l.id) < 2
ORDER BY e.created_at
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("accounting: list imbalances: %w", err)
	}
	defer rows.Close()
	var out []Imbalance
	for rows.Next() {
		var im Imbalance
		if err := rows.Scan(&im.EntryID, &im.RefType, &im.RefID, &im.Debit, &im.Credit); err != nil {
			return nil, err
		}
		out = append(out, im)
	}
	return out, rows.Err()
}

func encodeTags(tags Tags) (string, error) {
	if len(tags) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("accounting: encode tags: %w", err)
	}
	return string(raw), nil
}
