package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-pos/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskRegisterCloseReport builds the closing report of one session.
	TaskRegisterCloseReport = "register:close-report"
	// TaskRegisterStaleScan flags sessions left open for too long.
	TaskRegisterStaleScan = "register:stale-scan"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "platform:idempotency-cleanup"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// CloseReportPayload identifies the session whose report should be built.
type CloseReportPayload struct {
	RequestID   string    `json:"request_id"`
	SessionID   int64     `json:"session_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewCloseReportTask constructs an Asynq task for a closing report.
func NewCloseReportTask(sessionID int64, at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(CloseReportPayload{
		RequestID:   uuid.NewString(),
		SessionID:   sessionID,
		RequestedAt: at.UTC(),
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRegisterCloseReport, body, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

// StaleScanPayload optionally overrides the stale threshold.
type StaleScanPayload struct {
	StaleAfterMinutes int `json:"stale_after_minutes,omitempty"`
}

// NewStaleScanTask constructs an Asynq task for the stale session scan.
func NewStaleScanTask(staleAfter time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(StaleScanPayload{StaleAfterMinutes: int(staleAfter / time.Minute)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRegisterStaleScan, body, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleanupPayload sets how long keys are retained.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask constructs an Asynq task purging old keys.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: int(retention / time.Hour)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
