package register

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// RepositoryPort abstracts persistence for sessions and movements.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSession(ctx context.Context, id int64) (Session, error)
	FindActiveSession(ctx context.Context, branchID int64) (Session, bool, error)
	ListSessions(ctx context.Context, branchID int64, limit int) ([]Session, error)
	ListMovements(ctx context.Context, sessionID int64) ([]Movement, error)
	ListOpenSessionsBefore(ctx context.Context, cutoff time.Time) ([]Session, error)
}

// TxRepository exposes the writes that must run inside a transaction.
type TxRepository interface {
	// InsertSession returns a wrapped shared.ErrConflict when the branch
	// already holds an OPEN session.
	InsertSession(ctx context.Context, in OpenSessionInput, openedAt time.Time) (Session, error)
	// LockSession reads the session row and holds an exclusive lock until commit.
	LockSession(ctx context.Context, id int64) (Session, error)
	// ShareSession reads the session row and blocks concurrent closes until commit.
	ShareSession(ctx context.Context, id int64) (Session, error)
	MarkClosed(ctx context.Context, id int64, finalAmount decimal.Decimal, closedAt time.Time) (Session, error)
	InsertMovement(ctx context.Context, in RecordMovementInput, recordedAt time.Time) (Movement, error)
	// ListMovements reads movements through the transaction, oldest first.
	ListMovements(ctx context.Context, sessionID int64) ([]Movement, error)
}

// SalesSource supplies the sales that settled against a session.
type SalesSource interface {
	CashSalesForSession(ctx context.Context, sessionID int64) ([]CashSale, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Instrumentation receives domain counters.
type Instrumentation interface {
	SessionOpened(branchID int64)
	SessionClosed(branchID int64)
	MovementRecorded(kind MovementKind, amount decimal.Decimal)
	CountMismatch(branchID int64)
}

// Dependencies groups optional collaborators shared by store and ledger.
type Dependencies struct {
	Audit    AuditPort
	Notifier Notifier
	Metrics  Instrumentation
	Logger   *slog.Logger
	// Sales backs the drawer balance check on egress and the reconciler.
	Sales    SalesSource
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Audit == nil {
		d.Audit = noopAudit{}
	}
	if d.Notifier == nil {
		d.Notifier = NoopNotifier{}
	}
	if d.Metrics == nil {
		d.Metrics = noopMetrics{}
	}
	if d.Logger == nil {
		d.Logger = slog.New(slog.DiscardHandler)
	}
	if d.Sales == nil {
		d.Sales = noSales{}
	}
	return d
}

type noopAudit struct{}

func (noopAudit) Record(context.Context, shared.AuditLog) error { return nil }

type noopMetrics struct{}

func (noopMetrics) SessionOpened(int64)                            {}
func (noopMetrics) SessionClosed(int64)                            {}
func (noopMetrics) MovementRecorded(MovementKind, decimal.Decimal) {}
func (noopMetrics) CountMismatch(int64)                            {}
