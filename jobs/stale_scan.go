package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-pos/internal/jobs"
	"github.com/odyssey-erp/odyssey-pos/internal/register"
)

// DefaultStaleAfter flags sessions left open longer than a shift.
const DefaultStaleAfter = 16 * time.Hour

type staleLister interface {
	StaleSessions(ctx context.Context, cutoff time.Time) ([]register.Session, error)
}

// StaleScanJob publishes per-branch counts of sessions left open too long.
type StaleScanJob struct {
	Sessions   staleLister
	StaleAfter time.Duration
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
	clock      func() time.Time
}

// NewStaleScanJob constructs the job handler.
func NewStaleScanJob(sessions staleLister, staleAfter time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *StaleScanJob {
	return &StaleScanJob{Sessions: sessions, StaleAfter: staleAfter, Logger: logger, Metrics: metrics}
}

// Handle processes the stale scan task.
func (j *StaleScanJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	var payload StaleScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("stale scan payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	staleAfter := j.StaleAfter
	if payload.StaleAfterMinutes > 0 {
		staleAfter = time.Duration(payload.StaleAfterMinutes) * time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}

	tracker := j.metrics().Track(TaskRegisterStaleScan)
	defer func() {
		err = tracker.End(err)
	}()

	cutoff := j.now().Add(-staleAfter)
	sessions, err := j.Sessions.StaleSessions(ctx, cutoff)
	if err != nil {
		return err
	}

	perBranch := make(map[int64]int)
	for _, s := range sessions {
		perBranch[s.BranchID]++
		j.logger().Warn("register session left open",
			slog.Int64("session_id", s.ID),
			slog.Int64("branch_id", s.BranchID),
			slog.Time("opened_at", s.OpenedAt),
			slog.Duration("open_for", j.now().Sub(s.OpenedAt)))
	}
	j.metrics().ResetStaleSessions()
	for branchID, count := range perBranch {
		j.metrics().SetStaleSessions(branchID, count)
	}
	j.logger().Info("stale session scan complete",
		slog.Time("cutoff", cutoff),
		slog.Int("stale", len(sessions)),
		slog.Int("branches", len(perBranch)))
	return nil
}

func (j *StaleScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *StaleScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *StaleScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock().UTC()
	}
	return time.Now().UTC()
}
