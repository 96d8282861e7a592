package register

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

type memoryRepo struct {
	txMu      sync.Mutex
	mu        sync.Mutex
	sessions  map[int64]Session
	movements []Movement
	nextID    int64
	// poolReads counts movement reads made outside a transaction.
	poolReads int
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{sessions: make(map[int64]Session)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.Lock()
	sessions := make(map[int64]Session, len(r.sessions))
	for id, s := range r.sessions {
		sessions[id] = s
	}
	movements := append([]Movement(nil), r.movements...)
	nextID := r.nextID
	r.mu.Unlock()

	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.mu.Lock()
		r.sessions, r.movements, r.nextID = sessions, movements, nextID
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *memoryRepo) GetSession(_ context.Context, id int64) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, errSessionNotFound(id)
	}
	return s, nil
}

func (r *memoryRepo) FindActiveSession(_ context.Context, branchID int64) (Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.BranchID == branchID && s.IsOpen() {
			return s, true, nil
		}
	}
	return Session{}, false, nil
}

func (r *memoryRepo) ListSessions(_ context.Context, branchID int64, limit int) ([]Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Session, 0)
	for _, s := range r.sessions {
		if s.BranchID == branchID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepo) ListMovements(_ context.Context, sessionID int64) ([]Movement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.poolReads++
	return r.movementsOf(sessionID), nil
}

func (r *memoryRepo) movementsOf(sessionID int64) []Movement {
	out := make([]Movement, 0)
	for _, m := range r.movements {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	return out
}

func (r *memoryRepo) ListOpenSessionsBefore(_ context.Context, cutoff time.Time) ([]Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Session, 0)
	for _, s := range r.sessions {
		if s.IsOpen() && s.OpenedAt.Before(cutoff) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

func (tx *memoryTx) InsertSession(_ context.Context, in OpenSessionInput, openedAt time.Time) (Session, error) {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.BranchID == in.BranchID && s.IsOpen() {
			return Session{}, errBranchBusy(in.BranchID)
		}
	}
	r.nextID++
	s := Session{
		ID:           r.nextID,
		BranchID:     in.BranchID,
		OpeningFloat: in.OpeningFloat.Decimal,
		OpenedAt:     openedAt,
		OperatorID:   in.OperatorID,
		Status:       StatusOpen,
	}
	r.sessions[s.ID] = s
	return s, nil
}

func (tx *memoryTx) LockSession(ctx context.Context, id int64) (Session, error) {
	return tx.repo.GetSession(ctx, id)
}

func (tx *memoryTx) ShareSession(ctx context.Context, id int64) (Session, error) {
	return tx.repo.GetSession(ctx, id)
}

func (tx *memoryTx) MarkClosed(_ context.Context, id int64, finalAmount decimal.Decimal, closedAt time.Time) (Session, error) {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, errSessionNotFound(id)
	}
	if !s.IsOpen() {
		return Session{}, errSessionClosed(id)
	}
	s.Status = StatusClosed
	s.ClosedAt = &closedAt
	s.FinalAmount = &finalAmount
	r.sessions[id] = s
	return s, nil
}

func (tx *memoryTx) ListMovements(_ context.Context, sessionID int64) ([]Movement, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	return tx.repo.movementsOf(sessionID), nil
}

func (tx *memoryTx) InsertMovement(_ context.Context, in RecordMovementInput, recordedAt time.Time) (Movement, error) {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	m := Movement{
		ID:          r.nextID,
		SessionID:   in.SessionID,
		Kind:        in.Kind,
		Amount:      in.Amount,
		Description: in.Description,
		RecordedAt:  recordedAt,
	}
	r.movements = append(r.movements, m)
	return m, nil
}

type stubSales struct {
	sales map[int64][]CashSale
	err   error
}

func (s *stubSales) CashSalesForSession(_ context.Context, sessionID int64) ([]CashSale, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.sales[sessionID], nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (n *recordingNotifier) Publish(_ context.Context, evt Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, evt)
	return n.err
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

type countingMetrics struct {
	mu         sync.Mutex
	opened     int
	closed     int
	movements  map[MovementKind]int
	mismatches int
}

func (m *countingMetrics) SessionOpened(int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened++
}

func (m *countingMetrics) SessionClosed(int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
}

func (m *countingMetrics) MovementRecorded(kind MovementKind, _ decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.movements == nil {
		m.movements = make(map[MovementKind]int)
	}
	m.movements[kind]++
}

func (m *countingMetrics) CountMismatch(int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mismatches++
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func nullDec(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(dec(s))
}

type fixture struct {
	repo       *memoryRepo
	store      *SessionStore
	ledger     *Ledger
	reconciler *Reconciler
	sales      *stubSales
	notifier   *recordingNotifier
	audit      *recordingAudit
	metrics    *countingMetrics
}

func newFixture() *fixture {
	f := &fixture{
		repo:     newMemoryRepo(),
		sales:    &stubSales{sales: make(map[int64][]CashSale)},
		notifier: &recordingNotifier{},
		audit:    &recordingAudit{},
		metrics:  &countingMetrics{},
	}
	deps := Dependencies{Audit: f.audit, Notifier: f.notifier, Metrics: f.metrics, Sales: f.sales}
	clock := func() time.Time { return time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC) }
	f.store = NewSessionStore(f.repo, deps)
	f.store.WithNow(clock)
	f.ledger = NewLedger(f.repo, deps)
	f.ledger.WithNow(clock)
	f.reconciler = NewReconciler(f.store, f.ledger, nil)
	return f
}
