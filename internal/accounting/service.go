package accounting

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinicos/backoffice/internal/platform/db"
	"github.com/clinicos/backoffice/internal/shared"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	// WithLockedTx serializes transactions sharing key. Reads inside fn observe
	// everything committed by the previous holder.
	WithLockedTx(ctx context.Context, key string, fn func(context.Context, TxRepository) error) error
}

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates posting, reversing and querying journal entries.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the ledger service. audit may be nil.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// errRefTaken signals a concurrent posting won the (ref_type, ref_id) slot.
var errRefTaken = errors.New("accounting: reference taken concurrently")

// guard runs check inside the posting transaction after the duplicate check.
// Guarded postings with the same lockKey never overlap.
type guard struct {
	lockKey string
	check   func(ctx context.Context, tx TxRepository) error
}

// Post validates and persists a journal entry. Posting the same (RefType, RefID)
// again returns the stored entry unchanged.
func (s *Service) Post(ctx context.Context, input PostingInput) (JournalEntry, error) {
	return s.post(ctx, input, nil)
}

func (s *Service) post(ctx context.Context, input PostingInput, g *guard) (JournalEntry, error) {
	if err := input.Validate(); err != nil {
		return JournalEntry{}, err
	}
	now := s.now()
	date := input.Date
	if date.IsZero() {
		date = now
	}
	lines := make([]JournalLine, len(input.Lines))
	for i, line := range input.Lines {
		lines[i] = JournalLine{Account: line.Account, Debit: line.Debit, Credit: line.Credit, Tags: cloneTags(line.Tags)}
	}
	entry := JournalEntry{
		ID:        uuid.New(),
		Date:      dateOnly(date),
		RefType:   input.RefType,
		RefID:     input.RefID,
		Memo:      input.Memo,
		CreatedAt: now,
		Lines:     lines,
	}
	return s.insert(ctx, entry, "journal.post", g)
}

func (s *Service) insert(ctx context.Context, entry JournalEntry, action string, g *guard) (JournalEntry, error) {
	var (
		stored  JournalEntry
		created bool
	)
	run := s.repo.WithTx
	if g != nil {
		run = func(ctx context.Context, fn func(context.Context, TxRepository) error) error {
			return s.repo.WithLockedTx(ctx, g.lockKey, fn)
		}
	}
	err := run(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.GetEntryByRef(ctx, entry.RefType, entry.RefID)
		if err == nil {
			stored = existing
			return nil
		}
		if !errors.Is(err, ErrJournalNotFound) {
			return err
		}
		if g != nil {
			if err := g.check(ctx, tx); err != nil {
				return err
			}
		}
		inserted, err := tx.InsertEntry(ctx, entry)
		if err != nil {
			return err
		}
		if !inserted {
			return errRefTaken
		}
		stored = entry
		created = true
		return nil
	})
	if errors.Is(err, errRefTaken) || db.IsSerializationFailure(err) || db.IsUniqueViolation(err, "uq_journal_entries_ref") {
		// A concurrent writer committed the same reference; a fresh snapshot sees it.
		return s.GetByRef(ctx, entry.RefType, entry.RefID)
	}
	if err != nil {
		return JournalEntry{}, err
	}
	if created {
		s.record(ctx, action, stored)
		s.logger.Info("journal entry posted",
			slog.String("action", action),
			slog.String("entry_id", stored.ID.String()),
			slog.String("ref_type", stored.RefType),
			slog.String("ref_id", stored.RefID))
	}
	return stored, nil
}

func (s *Service) record(ctx context.Context, action string, entry JournalEntry) {
	if s.audit == nil {
		return
	}
	debit, _ := entry.Totals()
	meta := map[string]any{
		"ref_type": entry.RefType,
		"ref_id":   entry.RefID,
		"amount":   shared.FormatMoney(debit),
	}
	if entry.ReversalOf != nil {
		meta["reversal_of"] = entry.ReversalOf.String()
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   "journal_entry",
		EntityID: entry.ID.String(),
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("audit journal entry", slog.String("entry_id", entry.ID.String()), slog.Any("error", err))
	}
}

// Get loads an entry by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (JournalEntry, error) {
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = tx.GetEntry(ctx, id)
		return err
	})
	return entry, err
}

// GetByRef loads the entry posted for a reference.
func (s *Service) GetByRef(ctx context.Context, refType, refID string) (JournalEntry, error) {
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = tx.GetEntryByRef(ctx, refType, refID)
		return err
	})
	return entry, err
}

// ReverseByID posts the reversal of entry id. Reversing twice returns the first
// reversal; the original entry is never modified.
func (s *Service) ReverseByID(ctx context.Context, id uuid.UUID, memo string) (JournalEntry, error) {
	if id == uuid.Nil {
		return JournalEntry{}, invalid("entry id required")
	}
	original, err := s.Get(ctx, id)
	if err != nil {
		return JournalEntry{}, err
	}
	return s.insert(ctx, reversalOf(original, memo, s.now()), "journal.reverse", nil)
}

// ReverseByRef posts the reversal of the entry booked for (refType, refID).
func (s *Service) ReverseByRef(ctx context.Context, refType, refID, memo string) (JournalEntry, error) {
	if refType == "" || refID == "" {
		return JournalEntry{}, invalid("ref type and ref id required")
	}
	original, err := s.GetByRef(ctx, refType, refID)
	if err != nil {
		return JournalEntry{}, err
	}
	return s.insert(ctx, reversalOf(original, memo, s.now()), "journal.reverse", nil)
}

// Balance returns credits minus debits on account over lines whose tags contain
// every key/value of filter.
func (s *Service) Balance(ctx context.Context, account Account, filter Tags) (decimal.Decimal, error) {
	if account == "" {
		return decimal.Zero, invalid("account required")
	}
	var balance decimal.Decimal
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		balance, err = tx.Balance(ctx, account, filter)
		return err
	})
	return balance, err
}

// CheckIntegrity lists stored entries that violate the balance invariant.
func (s *Service) CheckIntegrity(ctx context.Context, limit int) ([]Imbalance, error) {
	var out []Imbalance
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.ListImbalances(ctx, limit)
		return err
	})
	return out, err
}
