package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-bi/backoffice/internal/jobs"
	"github.com/odyssey-bi/backoffice/internal/softdelete"
)

// Recounter is the repair surface of softdelete.Manager.
type Recounter interface {
	Recount(ctx context.Context, c softdelete.Counter, parentID int64) (softdelete.RecountResult, error)
	RecountAll(ctx context.Context, c softdelete.Counter) ([]softdelete.RecountResult, error)
}

// CountersReconcileJob resets company counters to the number of kept children.
type CountersReconcileJob struct {
	Recounter Recounter
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewCountersReconcileJob initialises the reconcile handler.
func NewCountersReconcileJob(recounter Recounter, logger *slog.Logger, metrics *jobmetrics.Metrics) *CountersReconcileJob {
	return &CountersReconcileJob{Recounter: recounter, Logger: logger, Metrics: metrics}
}

// Handle processes TaskCountersReconcile tasks.
func (j *CountersReconcileJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Recounter == nil {
		return errors.New("counters reconcile: handler not configured")
	}
	var payload CountersReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("counters reconcile: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	counters, err := payload.Counters()
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	_, err = j.Run(ctx, payload.CompanyID, counters)
	return err
}

// Run repairs counters and returns every row that had drifted.
func (j *CountersReconcileJob) Run(ctx context.Context, companyID int64, counters []softdelete.Counter) ([]softdelete.RecountResult, error) {
	tracker := j.Metrics.Track(TaskCountersReconcile)
	logger := j.logger().With(slog.Int64("company_id", companyID))
	logger.Info("starting counter reconcile", slog.Int("counters", len(counters)))

	var drifted []softdelete.RecountResult
	for _, c := range counters {
		results, err := j.reconcile(ctx, c, companyID)
		if err != nil {
			logger.Error("counter reconcile failed", slog.String("counter", c.Name), slog.Any("error", err))
			return drifted, tracker.End(err)
		}
		j.Metrics.AddRepaired(c.Name, len(results))
		drifted = append(drifted, results...)
	}
	logger.Info("counter reconcile finished", slog.Int("repaired", len(drifted)))
	return drifted, tracker.End(nil)
}

func (j *CountersReconcileJob) reconcile(ctx context.Context, c softdelete.Counter, companyID int64) ([]softdelete.RecountResult, error) {
	if companyID <= 0 {
		return j.Recounter.RecountAll(ctx, c)
	}
	res, err := j.Recounter.Recount(ctx, c, companyID)
	if err != nil {
		return nil, err
	}
	if !res.Drifted() {
		return nil, nil
	}
	return []softdelete.RecountResult{res}, nil
}

func (j *CountersReconcileJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}
