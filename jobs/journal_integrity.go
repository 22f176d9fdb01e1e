package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/clinicos/backoffice/internal/accounting"
	jobmetrics "github.com/clinicos/backoffice/internal/jobs"
)

const defaultIntegrityLimit = 100

// JournalIntegrityPayload bounds how many offending entries are reported.
type JournalIntegrityPayload struct {
	Limit int `json:"limit"`
}

// IntegrityChecker lists journal entries whose lines do not balance.
type IntegrityChecker interface {
	CheckIntegrity(ctx context.Context, limit int) ([]accounting.Imbalance, error)
}

// JournalIntegrityJob verifies the stored journal still balances entry by entry.
type JournalIntegrityJob struct {
	Checker IntegrityChecker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewJournalIntegrityJob constructs the job handler.
func NewJournalIntegrityJob(checker IntegrityChecker, logger *slog.Logger, metrics *jobmetrics.Metrics) *JournalIntegrityJob {
	return &JournalIntegrityJob{Checker: checker, Logger: logger, Metrics: metrics}
}

// NewJournalIntegrityTask creates the Asynq task; limit <= 0 uses the default.
func NewJournalIntegrityTask(limit int) (*asynq.Task, error) {
	if limit <= 0 {
		limit = defaultIntegrityLimit
	}
	body, err := json.Marshal(JournalIntegrityPayload{Limit: limit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskJournalIntegrity, body, asynq.Queue(QueueDefault)), nil
}

// Handle executes the integrity task. Imbalances are reported, not retried.
func (j *JournalIntegrityJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload JournalIntegrityPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	_, err := j.Run(ctx, payload.Limit)
	return err
}

// Run performs the check and logs every offending entry.
func (j *JournalIntegrityJob) Run(ctx context.Context, limit int) ([]accounting.Imbalance, error) {
	if j == nil || j.Checker == nil {
		return nil, errors.New("journal integrity: dependencies not configured")
	}
	if limit <= 0 {
		limit = defaultIntegrityLimit
	}
	tracker := j.metrics().Track(TaskJournalIntegrity)
	found, err := j.Checker.CheckIntegrity(ctx, limit)
	if err != nil {
		j.log().Error("check journal integrity", slog.Any("error", err))
		return nil, tracker.End(err)
	}
	j.metrics().SetUnbalancedJournals(len(found))
	for _, entry := range found {
		j.log().Error("unbalanced journal entry",
			slog.String("entry_id", entry.EntryID.String()),
			slog.String("ref_type", entry.RefType),
			slog.String("ref_id", entry.RefID),
			slog.String("debit", entry.Debit.StringFixed(2)),
			slog.String("credit", entry.Credit.StringFixed(2)))
	}
	if len(found) == 0 {
		j.log().Info("journal integrity ok")
	}
	return found, tracker.End(nil)
}

func (j *JournalIntegrityJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *JournalIntegrityJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskJournalIntegrity))
	}
	return slog.Default().With(slog.String("job", TaskJournalIntegrity))
}
