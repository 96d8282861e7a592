package register

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// Ledger records manual cash movements against open sessions.
type Ledger struct {
	repo RepositoryPort
	deps Dependencies
	now  func() time.Time
}

// NewLedger builds a Ledger.
func NewLedger(repo RepositoryPort, deps Dependencies) *Ledger {
	return &Ledger{repo: repo, deps: deps.withDefaults(), now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (l *Ledger) WithNow(now func() time.Time) {
	if now != nil {
		l.now = now
	}
}

// RecordMovement appends a movement. The session row stays locked while the
// movement is written so a concurrent close cannot slip in between. Ingress
// takes a shared lock; egress takes an exclusive one and is refused when it
// exceeds the cash in the drawer.
func (l *Ledger) RecordMovement(ctx context.Context, in RecordMovementInput) (Movement, error) {
	if err := in.Validate(); err != nil {
		return Movement{}, err
	}
	var (
		movement Movement
		session  Session
	)
	err := l.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		if in.Kind == MovementEgress {
			session, err = tx.LockSession(ctx, in.SessionID)
		} else {
			session, err = tx.ShareSession(ctx, in.SessionID)
		}
		if err != nil {
			return err
		}
		if !session.IsOpen() {
			return errSessionClosed(in.SessionID)
		}
		if in.Kind == MovementEgress {
			if err := l.checkDrawerCash(ctx, tx, session, in.Amount); err != nil {
				return err
			}
		}
		movement, err = tx.InsertMovement(ctx, in, l.now().UTC())
		return err
	})
	if err != nil {
		return Movement{}, err
	}

	l.deps.Metrics.MovementRecorded(movement.Kind, movement.Amount)
	evt := Event{
		Type:       EventMovementRecorded,
		BranchID:   session.BranchID,
		SessionID:  session.ID,
		Amount:     movement.Amount.StringFixed(2),
		Kind:       string(movement.Kind),
		OccurredAt: movement.RecordedAt,
	}
	if err := l.deps.Notifier.Publish(ctx, evt); err != nil {
		l.deps.Logger.Warn("register notify failed", slog.String("event", evt.Type), slog.Int64("session_id", session.ID), slog.Any("error", err))
	}
	if err := l.deps.Audit.Record(ctx, shared.AuditLog{
		BranchID: session.BranchID,
		Action:   "register.movement.record",
		Entity:   "register_movement",
		EntityID: strconv.FormatInt(movement.ID, 10),
		Meta: map[string]any{
			"session_id":  session.ID,
			"kind":        string(movement.Kind),
			"amount":      movement.Amount.StringFixed(2),
			"description": movement.Description,
		},
	}); err != nil {
		l.deps.Logger.Warn("register audit failed", slog.Int64("movement_id", movement.ID), slog.Any("error", err))
	}
	return movement, nil
}

func (l *Ledger) checkDrawerCash(ctx context.Context, tx TxRepository, session Session, amount decimal.Decimal) error {
	movements, err := tx.ListMovements(ctx, session.ID)
	if err != nil {
		return err
	}
	sales, err := l.deps.Sales.CashSalesForSession(ctx, session.ID)
	if err != nil {
		return err
	}
	available := summarize(session, movements, sales).Expected
	if amount.GreaterThan(available) {
		return fmt.Errorf("register: egress %s exceeds drawer cash %s: %w",
			amount.StringFixed(2), available.StringFixed(2), shared.ErrValidation)
	}
	return nil
}

// ListMovements returns movements of a session in recording order.
func (l *Ledger) ListMovements(ctx context.Context, sessionID int64) ([]Movement, error) {
	if sessionID <= 0 {
		return nil, fmt.Errorf("register: session id required: %w", shared.ErrValidation)
	}
	if _, err := l.repo.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return l.repo.ListMovements(ctx, sessionID)
}

// NetMovementTotal is ingress minus egress for a session.
func (l *Ledger) NetMovementTotal(ctx context.Context, sessionID int64) (decimal.Decimal, error) {
	movements, err := l.ListMovements(ctx, sessionID)
	if err != nil {
		return decimal.Zero, err
	}
	return NetTotal(movements), nil
}

// NetTotal sums ingress minus egress. The result does not depend on order.
func NetTotal(movements []Movement) decimal.Decimal {
	ingress, egress := splitTotals(movements)
	return ingress.Sub(egress)
}

func splitTotals(movements []Movement) (ingress, egress decimal.Decimal) {
	ingress, egress = decimal.Zero, decimal.Zero
	for _, m := range movements {
		switch m.Kind {
		case MovementIngress:
			ingress = ingress.Add(m.Amount)
		case MovementEgress:
			egress = egress.Add(m.Amount)
		}
	}
	return ingress, egress
}
