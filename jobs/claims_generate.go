package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/clinicos/backoffice/internal/corporate"
	jobmetrics "github.com/clinicos/backoffice/internal/jobs"
)

// PeriodPrevious selects the calendar month before the run date.
const PeriodPrevious = "previous"

// ClaimsGeneratePayload scopes a claim generation run. Company is "all" or a
// company id; Period is "previous" or YYYY-MM.
type ClaimsGeneratePayload struct {
	Company string `json:"company"`
	Period  string `json:"period"`
}

// ClaimGenerator is the corporate behaviour the job drives.
type ClaimGenerator interface {
	ListActiveCompanies(ctx context.Context) ([]corporate.Company, error)
	GenerateClaim(ctx context.Context, in corporate.GenerateClaimInput) (corporate.Claim, error)
}

// ClaimsGenerateSummary reports one run.
type ClaimsGenerateSummary struct {
	From      time.Time
	To        time.Time
	Generated []corporate.Claim
	Empty     int
	Failed    int
}

// ClaimsGenerateJob creates monthly claims for active companies.
type ClaimsGenerateJob struct {
	Service ClaimGenerator
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewClaimsGenerateJob constructs the job handler.
func NewClaimsGenerateJob(service ClaimGenerator, logger *slog.Logger, metrics *jobmetrics.Metrics) *ClaimsGenerateJob {
	return &ClaimsGenerateJob{
		Service: service,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// NewClaimsGenerateTask creates an Asynq task for claim generation.
func NewClaimsGenerateTask(company, period string) (*asynq.Task, error) {
	if company == "" {
		company = "all"
	}
	if period == "" {
		period = PeriodPrevious
	}
	body, err := json.Marshal(ClaimsGeneratePayload{Company: company, Period: period})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskClaimsGenerate, body, asynq.Queue(QueueDefault)), nil
}

// Handle executes the claim generation task.
func (j *ClaimsGenerateJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload ClaimsGeneratePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	_, err := j.Run(ctx, payload)
	return err
}

// Run generates claims for the payload scope. Companies with nothing to claim
// are counted and skipped; other per-company failures are logged and the run
// continues, failing at the end.
func (j *ClaimsGenerateJob) Run(ctx context.Context, payload ClaimsGeneratePayload) (ClaimsGenerateSummary, error) {
	if j == nil || j.Service == nil {
		return ClaimsGenerateSummary{}, errors.New("claims generate: dependencies not configured")
	}
	tracker := j.metrics().Track(TaskClaimsGenerate)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	from, to, err := ResolvePeriod(payload.Period, j.now())
	if err != nil {
		resultErr = err
		return ClaimsGenerateSummary{}, resultErr
	}
	summary := ClaimsGenerateSummary{From: from, To: to}

	companies, err := j.resolveCompanies(ctx, payload.Company)
	if err != nil {
		resultErr = err
		j.log().Error("resolve companies", slog.String("company", payload.Company), slog.Any("error", err))
		return summary, resultErr
	}

	var lastErr error
	for _, id := range companies {
		claim, err := j.Service.GenerateClaim(ctx, corporate.GenerateClaimInput{CompanyID: id, FromDate: &from, ToDate: &to})
		switch {
		case err == nil:
			summary.Generated = append(summary.Generated, claim)
			j.log().Info("claim generated", slog.String("company_id", id.String()), slog.String("claim_no", claim.ClaimNo),
				slog.String("total", claim.TotalAmount.StringFixed(2)))
		case errors.Is(err, corporate.ErrNoTransactions):
			summary.Empty++
		default:
			summary.Failed++
			lastErr = err
			j.log().Error("generate claim", slog.String("company_id", id.String()), slog.Any("error", err))
		}
	}
	j.metrics().AddClaims("generated", len(summary.Generated))
	j.metrics().AddClaims("empty", summary.Empty)
	j.metrics().AddClaims("failed", summary.Failed)

	j.log().Info("claim generation finished", slog.String("from", from.Format("2006-01-02")), slog.String("to", to.Format("2006-01-02")),
		slog.Int("generated", len(summary.Generated)), slog.Int("empty", summary.Empty), slog.Int("failed", summary.Failed))
	if lastErr != nil {
		resultErr = fmt.Errorf("claims generate: %d of %d companies failed: %w", summary.Failed, len(companies), lastErr)
	}
	return summary, resultErr
}

// ResolvePeriod returns the first and last day of the month named by period.
func ResolvePeriod(period string, now time.Time) (time.Time, time.Time, error) {
	var start time.Time
	switch period {
	case "", PeriodPrevious:
		now = now.UTC()
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	default:
		parsed, err := time.Parse("2006-01", period)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid period %q: %w", period, asynq.SkipRetry)
		}
		start = parsed
	}
	return start, start.AddDate(0, 1, -1), nil
}

func (j *ClaimsGenerateJob) resolveCompanies(ctx context.Context, company string) ([]uuid.UUID, error) {
	if company == "" || company == "all" {
		active, err := j.Service.ListActiveCompanies(ctx)
		if err != nil {
			return nil, err
		}
		ids := make([]uuid.UUID, 0, len(active))
		for _, c := range active {
			ids = append(ids, c.ID)
		}
		return ids, nil
	}
	id, err := uuid.Parse(company)
	if err != nil {
		return nil, fmt.Errorf("invalid company id %s: %w", company, asynq.SkipRetry)
	}
	return []uuid.UUID{id}, nil
}

func (j *ClaimsGenerateJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ClaimsGenerateJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskClaimsGenerate))
	}
	return slog.Default().With(slog.String("job", TaskClaimsGenerate))
}

func (j *ClaimsGenerateJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *ClaimsGenerateJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
