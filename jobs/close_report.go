package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-pos/internal/jobs"
	"github.com/odyssey-erp/odyssey-pos/internal/register"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

type sessionReader interface {
	Session(ctx context.Context, id int64) (register.Session, error)
}

type summaryReader interface {
	Summary(ctx context.Context, sessionID int64) (register.Reconciliation, error)
}

type auditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// CloseReportJob records the final reconciliation of a closed session.
type CloseReportJob struct {
	Sessions   sessionReader
	Reconciler summaryReader
	Audit      auditRecorder
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
	clock      func() time.Time
}

// NewCloseReportJob constructs the job handler.
func NewCloseReportJob(sessions sessionReader, reconciler summaryReader, audit auditRecorder, logger *slog.Logger, metrics *jobmetrics.Metrics) *CloseReportJob {
	return &CloseReportJob{Sessions: sessions, Reconciler: reconciler, Audit: audit, Logger: logger, Metrics: metrics}
}

// Handle processes the close report task.
func (j *CloseReportJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	var payload CloseReportPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("close report payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.SessionID <= 0 {
		return fmt.Errorf("close report payload: missing session: %w", asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskRegisterCloseReport)
	defer func() {
		err = tracker.End(err)
	}()

	session, err := j.Sessions.Session(ctx, payload.SessionID)
	if err != nil {
		return err
	}
	if session.IsOpen() || session.FinalAmount == nil {
		j.logger().Warn("close report skipped, session still open",
			slog.String("request_id", payload.RequestID),
			slog.Int64("session_id", session.ID))
		return nil
	}

	summary, err := j.Reconciler.Summary(ctx, session.ID)
	if err != nil {
		return err
	}
	variance := register.RoundCurrency(session.FinalAmount.Sub(summary.Expected))
	balanced := register.WithinTolerance(summary.Expected, *session.FinalAmount)
	j.metrics().AddCloseReport(balanced)

	j.logger().Info("register close report",
		slog.String("request_id", payload.RequestID),
		slog.Int64("session_id", session.ID),
		slog.Int64("branch_id", session.BranchID),
		slog.String("opening_float", summary.OpeningFloat.StringFixed(2)),
		slog.String("net_movements", summary.NetMovements.StringFixed(2)),
		slog.String("cash_sales", summary.CashSales.StringFixed(2)),
		slog.Int("sales_count", summary.SalesCount),
		slog.String("expected", summary.Expected.StringFixed(2)),
		slog.String("final_amount", session.FinalAmount.StringFixed(2)),
		slog.String("variance", variance.StringFixed(2)),
		slog.Bool("balanced", balanced))

	if j.Audit == nil {
		return nil
	}
	others := make(map[string]string, len(summary.OtherTenders))
	for method, amount := range summary.OtherTenders {
		others[method] = amount.StringFixed(2)
	}
	return j.Audit.Record(ctx, shared.AuditLog{
		BranchID: session.BranchID,
		Action:   "register.session.report",
		Entity:   "register_session",
		EntityID: strconv.FormatInt(session.ID, 10),
		Meta: map[string]any{
			"request_id":    payload.RequestID,
			"expected":      summary.Expected.StringFixed(2),
			"final_amount":  session.FinalAmount.StringFixed(2),
			"variance":      variance.StringFixed(2),
			"sales_count":   summary.SalesCount,
			"other_tenders": others,
		},
		At: j.now(),
	})
}

func (j *CloseReportJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *CloseReportJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *CloseReportJob) now() time.Time {
	if j.clock != nil {
		return j.clock().UTC()
	}
	return time.Now().UTC()
}
