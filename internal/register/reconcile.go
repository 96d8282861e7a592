package register

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// Reconciler derives the expected drawer balance and gates closure on a
// manual count.
type Reconciler struct {
	store  *SessionStore
	ledger *Ledger
	sales  SalesSource
}

// NewReconciler wires the reconciler to its collaborators. A nil sales source
// falls back to the one the ledger was built with.
func NewReconciler(store *SessionStore, ledger *Ledger, sales SalesSource) *Reconciler {
	if sales == nil {
		sales = ledger.deps.Sales
	}
	return &Reconciler{store: store, ledger: ledger, sales: sales}
}

// ExpectedCashBalance is opening float plus net movements plus cash tenders,
// rounded to cents.
func (r *Reconciler) ExpectedCashBalance(ctx context.Context, sessionID int64) (decimal.Decimal, error) {
	summary, err := r.Summary(ctx, sessionID)
	if err != nil {
		return decimal.Zero, err
	}
	return summary.Expected, nil
}

// Summary returns the breakdown behind the expected balance.
func (r *Reconciler) Summary(ctx context.Context, sessionID int64) (Reconciliation, error) {
	if sessionID <= 0 {
		return Reconciliation{}, fmt.Errorf("register: session id required: %w", shared.ErrValidation)
	}
	session, err := r.store.Session(ctx, sessionID)
	if err != nil {
		return Reconciliation{}, err
	}
	return r.reconcile(ctx, session)
}

// CloseWithCount closes the session only when the count, rounded to cents,
// is within one cent of the expected balance. The comparison happens under
// the session lock, so no movement or sale can land between the check and
// the close.
func (r *Reconciler) CloseWithCount(ctx context.Context, sessionID int64, manualCount decimal.Decimal) (Session, error) {
	if manualCount.IsNegative() {
		return Session{}, fmt.Errorf("register: manual count must not be negative: %w", shared.ErrValidation)
	}
	counted := RoundCurrency(manualCount)
	return r.store.closeGuarded(ctx, sessionID, counted, func(ctx context.Context, tx TxRepository, session Session) error {
		// Sequential reads: the locked tx already holds one pool connection.
		movements, err := tx.ListMovements(ctx, session.ID)
		if err != nil {
			return err
		}
		sales, err := r.sales.CashSalesForSession(ctx, session.ID)
		if err != nil {
			return err
		}
		summary := summarize(session, movements, sales)
		if WithinTolerance(summary.Expected, counted) {
			return nil
		}
		r.store.deps.Metrics.CountMismatch(session.BranchID)
		r.store.deps.Logger.Info("register count mismatch",
			slog.Int64("session_id", session.ID),
			slog.String("expected", summary.Expected.StringFixed(2)),
			slog.String("counted", counted.StringFixed(2)))
		return &MismatchError{SessionID: session.ID, Expected: summary.Expected, Counted: counted}
	})
}

func (r *Reconciler) reconcile(ctx context.Context, session Session) (Reconciliation, error) {
	var (
		movements []Movement
		sales     []CashSale
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		movements, err = r.ledger.repo.ListMovements(gctx, session.ID)
		return err
	})
	g.Go(func() error {
		var err error
		sales, err = r.sales.CashSalesForSession(gctx, session.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return Reconciliation{}, err
	}
	return summarize(session, movements, sales), nil
}

func summarize(session Session, movements []Movement, sales []CashSale) Reconciliation {
	ingress, egress := splitTotals(movements)
	cash := decimal.Zero
	others := make(map[string]decimal.Decimal)
	for _, sale := range sales {
		for method, amount := range sale.Tenders {
			if method == TenderCash {
				cash = cash.Add(amount)
				continue
			}
			others[method] = others[method].Add(amount)
		}
	}
	net := ingress.Sub(egress)
	return Reconciliation{
		SessionID:    session.ID,
		BranchID:     session.BranchID,
		Status:       session.Status,
		OpeningFloat: session.OpeningFloat,
		Ingress:      ingress,
		Egress:       egress,
		NetMovements: net,
		CashSales:    cash,
		SalesCount:   len(sales),
		OtherTenders: others,
		Expected:     RoundCurrency(session.OpeningFloat.Add(net).Add(cash)),
	}
}

type noSales struct{}

func (noSales) CashSalesForSession(context.Context, int64) ([]CashSale, error) { return nil, nil }
