package register

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/db"
)

const pgUniqueViolation = "23505"

const sessionColumns = `id, branch_id, opening_float::text, operator_id, status, opened_at, closed_at, final_amount::text`

const movementColumns = `id, session_id, kind, amount::text, description, recorded_at`

// Repository persists sessions and movements in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository using the provided pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// WithTx executes fn inside a read-committed locking transaction. Reads made
// after LockSession or ShareSession see everything committed by the writer
// the lock waited on.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("register: repository not initialised")
	}
	return db.WithLockingTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// GetSession loads a session by id.
func (r *Repository) GetSession(ctx context.Context, id int64) (Session, error) {
	return getSession(ctx, r.pool, `SELECT `+sessionColumns+` FROM register_sessions WHERE id = $1`, id)
}

// FindActiveSession returns the OPEN session of a branch.
func (r *Repository) FindActiveSession(ctx context.Context, branchID int64) (Session, bool, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM register_sessions WHERE branch_id = $1 AND status = 'OPEN'`, branchID)
	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	return session, true, nil
}

// ListSessions returns sessions of a branch, newest first.
func (r *Repository) ListSessions(ctx context.Context, branchID int64, limit int) ([]Session, error) {
	return listSessions(ctx, r.pool, `SELECT `+sessionColumns+` FROM register_sessions
WHERE branch_id = $1 ORDER BY opened_at DESC, id DESC LIMIT $2`, branchID, limit)
}

// ListOpenSessionsBefore returns OPEN sessions opened before cutoff.
func (r *Repository) ListOpenSessionsBefore(ctx context.Context, cutoff time.Time) ([]Session, error) {
	return listSessions(ctx, r.pool, `SELECT `+sessionColumns+` FROM register_sessions
WHERE status = 'OPEN' AND opened_at < $1 ORDER BY opened_at`, cutoff)
}

// ListMovements returns movements of a session in recording order.
func (r *Repository) ListMovements(ctx context.Context, sessionID int64) ([]Movement, error) {
	return listMovements(ctx, r.pool, sessionID)
}

func listMovements(ctx context.Context, q querier, sessionID int64) ([]Movement, error) {
	rows, err := q.Query(ctx, `SELECT `+movementColumns+` FROM register_movements WHERE session_id = $1 ORDER BY id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	movements := make([]Movement, 0)
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (t *txRepository) InsertSession(ctx context.Context, in OpenSessionInput, openedAt time.Time) (Session, error) {
	row := t.tx.QueryRow(ctx, `INSERT INTO register_sessions (branch_id, opening_float, operator_id, status, opened_at)
VALUES ($1, $2, $3, 'OPEN', $4)
RETURNING `+sessionColumns, in.BranchID, in.OpeningFloat.Decimal.String(), in.OperatorID, openedAt)
	session, err := scanSession(row)
	if isPgCode(err, pgUniqueViolation) {
		return Session{}, errBranchBusy(in.BranchID)
	}
	return session, err
}

func (t *txRepository) LockSession(ctx context.Context, id int64) (Session, error) {
	return getSession(ctx, t.tx, `SELECT `+sessionColumns+` FROM register_sessions WHERE id = $1 FOR UPDATE`, id)
}

func (t *txRepository) ShareSession(ctx context.Context, id int64) (Session, error) {
	return getSession(ctx, t.tx, `SELECT `+sessionColumns+` FROM register_sessions WHERE id = $1 FOR SHARE`, id)
}

func (t *txRepository) MarkClosed(ctx context.Context, id int64, finalAmount decimal.Decimal, closedAt time.Time) (Session, error) {
	row := t.tx.QueryRow(ctx, `UPDATE register_sessions
SET status = 'CLOSED', final_amount = $2, closed_at = $3
WHERE id = $1 AND status = 'OPEN'
RETURNING `+sessionColumns, id, finalAmount.String(), closedAt)
	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, errSessionClosed(id)
	}
	return session, err
}

func (t *txRepository) InsertMovement(ctx context.Context, in RecordMovementInput, recordedAt time.Time) (Movement, error) {
	row := t.tx.QueryRow(ctx, `INSERT INTO register_movements (session_id, kind, amount, description, recorded_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING `+movementColumns, in.SessionID, string(in.Kind), in.Amount.String(), in.Description, recordedAt)
	return scanMovement(row)
}

func (t *txRepository) ListMovements(ctx context.Context, sessionID int64) ([]Movement, error) {
	return listMovements(ctx, t.tx, sessionID)
}

func getSession(ctx context.Context, q querier, sql string, id int64) (Session, error) {
	session, err := scanSession(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, errSessionNotFound(id)
	}
	return session, err
}

func listSessions(ctx context.Context, q querier, sql string, args ...any) ([]Session, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sessions := make([]Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func scanSession(row pgx.Row) (Session, error) {
	var (
		s        Session
		opening  string
		status   string
		closedAt *time.Time
		final    *string
	)
	if err := row.Scan(&s.ID, &s.BranchID, &opening, &s.OperatorID, &status, &s.OpenedAt, &closedAt, &final); err != nil {
		return Session{}, err
	}
	var err error
	if s.OpeningFloat, err = decimal.NewFromString(opening); err != nil {
		return Session{}, fmt.Errorf("register: parse opening float: %w", err)
	}
	s.Status = Status(status)
	s.ClosedAt = closedAt
	if final != nil {
		amount, err := decimal.NewFromString(*final)
		if err != nil {
			return Session{}, fmt.Errorf("register: parse final amount: %w", err)
		}
		s.FinalAmount = &amount
	}
	return s, nil
}

func scanMovement(row pgx.Row) (Movement, error) {
	var (
		m      Movement
		kind   string
		amount string
	)
	if err := row.Scan(&m.ID, &m.SessionID, &kind, &amount, &m.Description, &m.RecordedAt); err != nil {
		return Movement{}, err
	}
	var err error
	if m.Amount, err = decimal.NewFromString(amount); err != nil {
		return Movement{}, fmt.Errorf("register: parse movement amount: %w", err)
	}
	m.Kind = MovementKind(kind)
	return m, nil
}

func isPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
