package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/odyssey-pos/internal/jobs"
	"github.com/odyssey-erp/odyssey-pos/internal/register"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

var fixedNow = time.Date(2025, 3, 14, 22, 0, 0, 0, time.UTC)

type stubSessions struct {
	sessions map[int64]register.Session
	stale    []register.Session
	cutoff   time.Time
}

func (s *stubSessions) Session(_ context.Context, id int64) (register.Session, error) {
	session, ok := s.sessions[id]
	if !ok {
		return register.Session{}, shared.ErrNotFound
	}
	return session, nil
}

func (s *stubSessions) StaleSessions(_ context.Context, cutoff time.Time) ([]register.Session, error) {
	s.cutoff = cutoff
	return s.stale, nil
}

type stubSummaries struct {
	summary register.Reconciliation
	err     error
}

func (s stubSummaries) Summary(context.Context, int64) (register.Reconciliation, error) {
	return s.summary, s.err
}

type recordingAudit struct {
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

type recordingCleaner struct {
	retention time.Duration
	removed   int64
	err       error
}

func (c *recordingCleaner) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	c.retention = olderThan
	return c.removed, c.err
}

func closedSession(id, branch int64, final string) register.Session {
	amount := decimal.RequireFromString(final)
	closedAt := fixedNow
	return register.Session{
		ID:           id,
		BranchID:     branch,
		OpeningFloat: decimal.RequireFromString("100"),
		OpenedAt:     fixedNow.Add(-8 * time.Hour),
		Status:       register.StatusClosed,
		ClosedAt:     &closedAt,
		FinalAmount:  &amount,
	}
}

func newTestMetrics() (*jobmetrics.Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return jobmetrics.NewMetrics(reg), reg
}

func closeReportTask(t *testing.T, sessionID int64) *asynq.Task {
	t.Helper()
	task, err := NewCloseReportTask(sessionID, fixedNow)
	require.NoError(t, err)
	return task
}

func TestNewCloseReportTask(t *testing.T) {
	task := closeReportTask(t, 42)
	require.Equal(t, TaskRegisterCloseReport, task.Type())

	var payload CloseReportPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, int64(42), payload.SessionID)
	require.True(t, payload.RequestedAt.Equal(fixedNow))
	_, err := uuid.Parse(payload.RequestID)
	require.NoError(t, err)
}

func TestCloseReportJobBalanced(t *testing.T) {
	metrics, reg := newTestMetrics()
	audit := &recordingAudit{}
	job := NewCloseReportJob(
		&stubSessions{sessions: map[int64]register.Session{7: closedSession(7, 3, "149.99")}},
		stubSummaries{summary: register.Reconciliation{
			SessionID:    7,
			OpeningFloat: decimal.RequireFromString("100"),
			CashSales:    decimal.RequireFromString("50"),
			SalesCount:   2,
			OtherTenders: map[string]decimal.Decimal{"CARD": decimal.RequireFromString("20")},
			Expected:     decimal.RequireFromString("150"),
		}},
		audit, nil, metrics)
	job.clock = func() time.Time { return fixedNow }

	require.NoError(t, job.Handle(context.Background(), closeReportTask(t, 7)))

	require.Len(t, audit.logs, 1)
	entry := audit.logs[0]
	require.Equal(t, "register.session.report", entry.Action)
	require.Equal(t, "7", entry.EntityID)
	require.Equal(t, int64(3), entry.BranchID)
	require.Equal(t, "-0.01", entry.Meta["variance"])
	require.Equal(t, map[string]string{"CARD": "20.00"}, entry.Meta["other_tenders"])

	expected := `
# HELP odyssey_register_close_reports_total Closing reports generated, by reconciliation outcome.
# TYPE odyssey_register_close_reports_total counter
odyssey_register_close_reports_total{outcome="balanced"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "odyssey_register_close_reports_total"))
}

func TestCloseReportJobVariance(t *testing.T) {
	metrics, reg := newTestMetrics()
	audit := &recordingAudit{}
	job := NewCloseReportJob(
		&stubSessions{sessions: map[int64]register.Session{8: closedSession(8, 1, "148")}},
		stubSummaries{summary: register.Reconciliation{SessionID: 8, Expected: decimal.RequireFromString("150")}},
		audit, nil, metrics)

	require.NoError(t, job.Handle(context.Background(), closeReportTask(t, 8)))
	require.Equal(t, "-2.00", audit.logs[0].Meta["variance"])

	expected := `
# HELP odyssey_register_close_reports_total Closing reports generated, by reconciliation outcome.
# TYPE odyssey_register_close_reports_total counter
odyssey_register_close_reports_total{outcome="variance"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "odyssey_register_close_reports_total"))
}

func TestCloseReportJobSkipsOpenSession(t *testing.T) {
	metrics, _ := newTestMetrics()
	audit := &recordingAudit{}
	open := register.Session{ID: 9, BranchID: 1, Status: register.StatusOpen, OpenedAt: fixedNow}
	job := NewCloseReportJob(
		&stubSessions{sessions: map[int64]register.Session{9: open}},
		stubSummaries{err: errors.New("must not be called")},
		audit, nil, metrics)

	require.NoError(t, job.Handle(context.Background(), closeReportTask(t, 9)))
	require.Empty(t, audit.logs)
}

func TestCloseReportJobErrors(t *testing.T) {
	metrics, _ := newTestMetrics()
	job := NewCloseReportJob(&stubSessions{}, stubSummaries{}, nil, nil, metrics)

	err := job.Handle(context.Background(), asynq.NewTask(TaskRegisterCloseReport, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = job.Handle(context.Background(), asynq.NewTask(TaskRegisterCloseReport, []byte(`{"session_id":0}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = job.Handle(context.Background(), closeReportTask(t, 404))
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestStaleScanJobPublishesPerBranch(t *testing.T) {
	metrics, reg := newTestMetrics()
	sessions := &stubSessions{stale: []register.Session{
		{ID: 1, BranchID: 1, Status: register.StatusOpen, OpenedAt: fixedNow.Add(-20 * time.Hour)},
		{ID: 2, BranchID: 1, Status: register.StatusOpen, OpenedAt: fixedNow.Add(-30 * time.Hour)},
		{ID: 3, BranchID: 2, Status: register.StatusOpen, OpenedAt: fixedNow.Add(-17 * time.Hour)},
	}}
	job := NewStaleScanJob(sessions, 0, nil, metrics)
	job.clock = func() time.Time { return fixedNow }

	task, err := NewStaleScanTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.True(t, sessions.cutoff.Equal(fixedNow.Add(-DefaultStaleAfter)))

	expected := `
# HELP odyssey_register_stale_sessions Register sessions open longer than the stale threshold, per branch.
# TYPE odyssey_register_stale_sessions gauge
odyssey_register_stale_sessions{branch="1"} 2
odyssey_register_stale_sessions{branch="2"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "odyssey_register_stale_sessions"))

	// A later scan with nothing stale clears earlier branches.
	sessions.stale = nil
	require.NoError(t, job.Handle(context.Background(), task))
	count, err := testutil.GatherAndCount(reg, "odyssey_register_stale_sessions")
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestStaleScanJobPayloadOverridesThreshold(t *testing.T) {
	metrics, _ := newTestMetrics()
	sessions := &stubSessions{}
	job := NewStaleScanJob(sessions, 4*time.Hour, nil, metrics)
	job.clock = func() time.Time { return fixedNow }

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskRegisterStaleScan, nil)))
	require.True(t, sessions.cutoff.Equal(fixedNow.Add(-4*time.Hour)))

	task, err := NewStaleScanTask(90 * time.Minute)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.True(t, sessions.cutoff.Equal(fixedNow.Add(-90*time.Minute)))
}

func TestIdempotencyCleanupJob(t *testing.T) {
	metrics, _ := newTestMetrics()
	cleaner := &recordingCleaner{removed: 12}
	job := &IdempotencyCleanupJob{Store: cleaner, Metrics: metrics}

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil)))
	require.Equal(t, DefaultIdempotencyRetention, cleaner.retention)

	task, err := NewIdempotencyCleanupTask(72 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 72*time.Hour, cleaner.retention)

	cleaner.err = errors.New("db down")
	require.Error(t, job.Handle(context.Background(), task))
}

func TestJobsHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, nil).MountRoutes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"queue":"default","pending":0}`, rr.Body.String())
}

func TestClientRequiresConfiguration(t *testing.T) {
	var client *Client
	require.Error(t, client.EnqueueCloseReport(context.Background(), 1))
}
