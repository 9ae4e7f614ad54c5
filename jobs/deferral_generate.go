package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/deferrals/internal/deferral"
	jobmetrics "github.com/odyssey-erp/deferrals/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// DeferralService describes the generation entry point used by the job.
type DeferralService interface {
	Generate(ctx context.Context, req deferral.GenerateRequest) (deferral.GenerateSummary, error)
}

// DeferralCompanies lists companies that have deferral settings.
type DeferralCompanies interface {
	ListDeferralCompanies(ctx context.Context) ([]int64, error)
}

// DeferralGenerateJob runs deferral generation for one or all companies.
type DeferralGenerateJob struct {
	Service   DeferralService
	Companies DeferralCompanies
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	clock     func() time.Time
}

// NewDeferralGenerateJob constructs the job handler.
func NewDeferralGenerateJob(service DeferralService, companies DeferralCompanies, logger *slog.Logger, metrics *jobmetrics.Metrics) *DeferralGenerateJob {
	return &DeferralGenerateJob{
		Service:   service,
		Companies: companies,
		Logger:    logger,
		Metrics:   metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the generation job.
func (j *DeferralGenerateJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("deferral generate: dependencies not configured")
	}
	var payload DeferralGeneratePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	direction := deferral.Direction(payload.Direction)
	if direction != "" && !direction.Valid() {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskDeferralGenerate)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	companies, err := j.resolveCompanies(ctx, payload.CompanyID)
	if err != nil {
		resultErr = err
		j.log().Error("resolve companies", slog.Int64("company_id", payload.CompanyID), slog.Any("error", err))
		return resultErr
	}
	if len(companies) == 0 {
		j.log().Info("no companies configured for deferrals")
		return resultErr
	}

	start := j.now()
	entries := 0
	for _, companyID := range companies {
		summary, err := j.Service.Generate(ctx, deferral.GenerateRequest{
			CompanyID: companyID,
			Direction: direction,
			LineIDs:   payload.LineIDs,
			ActorID:   payload.ActorID,
		})
		if err != nil {
			if errors.Is(err, deferral.ErrMissingConfig) {
				// Missing settings are not retried.
				j.log().Warn("deferral settings incomplete", slog.Int64("company_id", companyID), slog.Any("error", err))
				if payload.CompanyID != 0 {
					resultErr = fmt.Errorf("%w: %v", asynq.SkipRetry, err)
					return resultErr
				}
				continue
			}
			resultErr = err
			j.log().Error("generate deferrals", slog.Int64("company_id", companyID), slog.Any("error", err))
			return resultErr
		}
		entries += summary.Entries()
	}

	j.log().Info("generated deferral entries", slog.Int("companies", len(companies)), slog.Int("entries", entries), slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *DeferralGenerateJob) resolveCompanies(ctx context.Context, companyID int64) ([]int64, error) {
	if companyID > 0 {
		return []int64{companyID}, nil
	}
	if companyID < 0 {
		return nil, fmt.Errorf("company id must be positive")
	}
	if j.Companies == nil {
		return nil, errors.New("deferral generate: company lister not configured")
	}
	return j.Companies.ListDeferralCompanies(ctx)
}

func (j *DeferralGenerateJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *DeferralGenerateJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskDeferralGenerate))
	}
	return slog.Default().With(slog.String("job", TaskDeferralGenerate))
}

func (j *DeferralGenerateJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *DeferralGenerateJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
