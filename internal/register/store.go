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

// DefaultSessionListLimit caps ListSessions when no limit is supplied.
const DefaultSessionListLimit = 50

// SessionStore owns the register session lifecycle.
type SessionStore struct {
	repo RepositoryPort
	deps Dependencies
	now  func() time.Time
}

// NewSessionStore builds a SessionStore.
func NewSessionStore(repo RepositoryPort, deps Dependencies) *SessionStore {
	return &SessionStore{repo: repo, deps: deps.withDefaults(), now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *SessionStore) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// OpenSession starts a session for a branch that has none open.
func (s *SessionStore) OpenSession(ctx context.Context, in OpenSessionInput) (Session, error) {
	if err := in.Validate(); err != nil {
		return Session{}, err
	}
	if in.OperatorID == nil {
		if actor := shared.ActorFromContext(ctx); actor > 0 {
			in.OperatorID = &actor
		}
	}
	var session Session
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		session, err = tx.InsertSession(ctx, in, s.now().UTC())
		return err
	})
	if err != nil {
		return Session{}, err
	}

	s.deps.Metrics.SessionOpened(session.BranchID)
	s.afterCommit(ctx, session, "register.session.open", Event{
		Type:   EventSessionOpened,
		Amount: session.OpeningFloat.StringFixed(2),
	}, map[string]any{"opening_float": session.OpeningFloat.StringFixed(2)})
	return session, nil
}

// ActiveSession returns the OPEN session for a branch, if any.
func (s *SessionStore) ActiveSession(ctx context.Context, branchID int64) (Session, bool, error) {
	if branchID <= 0 {
		return Session{}, false, fmt.Errorf("register: branch id required: %w", shared.ErrValidation)
	}
	return s.repo.FindActiveSession(ctx, branchID)
}

// Session loads a session by id regardless of status.
func (s *SessionStore) Session(ctx context.Context, id int64) (Session, error) {
	return s.repo.GetSession(ctx, id)
}

// ListSessions returns recent sessions of a branch, newest first.
func (s *SessionStore) ListSessions(ctx context.Context, branchID int64, limit int) ([]Session, error) {
	if branchID <= 0 {
		return nil, fmt.Errorf("register: branch id required: %w", shared.ErrValidation)
	}
	if limit <= 0 || limit > 500 {
		limit = DefaultSessionListLimit
	}
	return s.repo.ListSessions(ctx, branchID, limit)
}

// CloseSession records the final drawer amount and closes the session
// without reconciling it.
func (s *SessionStore) CloseSession(ctx context.Context, id int64, finalAmount decimal.Decimal) (Session, error) {
	return s.closeGuarded(ctx, id, finalAmount, nil)
}

// closeGuarded closes an OPEN session. guard runs while the session row is
// exclusively locked; a non-nil result aborts the close.
func (s *SessionStore) closeGuarded(ctx context.Context, id int64, finalAmount decimal.Decimal, guard func(context.Context, TxRepository, Session) error) (Session, error) {
	if id <= 0 {
		return Session{}, fmt.Errorf("register: session id required: %w", shared.ErrValidation)
	}
	if err := validateAmount("final amount", finalAmount, true); err != nil {
		return Session{}, err
	}
	var session Session
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockSession(ctx, id)
		if err != nil {
			return err
		}
		if !current.IsOpen() {
			return errSessionClosed(id)
		}
		if guard != nil {
			if err := guard(ctx, tx, current); err != nil {
				return err
			}
		}
		session, err = tx.MarkClosed(ctx, id, finalAmount, s.now().UTC())
		return err
	})
	if err != nil {
		return Session{}, err
	}

	s.deps.Metrics.SessionClosed(session.BranchID)
	s.afterCommit(ctx, session, "register.session.close", Event{
		Type:   EventSessionClosed,
		Amount: finalAmount.StringFixed(2),
	}, map[string]any{"final_amount": finalAmount.StringFixed(2)})
	return session, nil
}

// StaleSessions lists sessions still open since before cutoff.
func (s *SessionStore) StaleSessions(ctx context.Context, cutoff time.Time) ([]Session, error) {
	return s.repo.ListOpenSessionsBefore(ctx, cutoff)
}

// afterCommit emits audit and notification side effects. Failures are logged
// and never undo the committed change.
func (s *SessionStore) afterCommit(ctx context.Context, session Session, action string, evt Event, meta map[string]any) {
	evt.BranchID = session.BranchID
	evt.SessionID = session.ID
	evt.OccurredAt = s.now().UTC()
	if err := s.deps.Notifier.Publish(ctx, evt); err != nil {
		s.deps.Logger.Warn("register notify failed", slog.String("event", evt.Type), slog.Int64("session_id", session.ID), slog.Any("error", err))
	}
	log := shared.AuditLog{
		BranchID: session.BranchID,
		Action:   action,
		Entity:   "register_session",
		EntityID: strconv.FormatInt(session.ID, 10),
		Meta:     meta,
	}
	if err := s.deps.Audit.Record(ctx, log); err != nil {
		s.deps.Logger.Warn("register audit failed", slog.String("action", action), slog.Int64("session_id", session.ID), slog.Any("error", err))
	}
}
