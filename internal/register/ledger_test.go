package register

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

func TestRecordMovementAndNetTotal(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	session, err := f.store.OpenSession(ctx, OpenSessionInput{BranchID: 1, OpeningFloat: nullDec("50.00")})
	require.NoError(t, err)

	in, err := f.ledger.RecordMovement(ctx, RecordMovementInput{SessionID: session.ID, Kind: MovementIngress, Amount: dec("20.00"), Description: "petty cash top-up"})
	require.NoError(t, err)
	require.Equal(t, MovementIngress, in.Kind)
	_, err = f.ledger.RecordMovement(ctx, RecordMovementInput{SessionID: session.ID, Kind: MovementEgress, Amount: dec("5.00"), Description: "office supplies"})
	require.NoError(t, err)

	movements, err := f.ledger.ListMovements(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, movements, 2)
	require.Equal(t, "petty cash top-up", movements[0].Description)
	require.Equal(t, "office supplies", movements[1].Description)

	net, err := f.ledger.NetMovementTotal(ctx, session.ID)
	require.NoError(t, err)
	require.True(t, net.Equal(dec("15.00")), net.String())

	require.Equal(t, 1, f.metrics.movements[MovementIngress])
	require.Equal(t, 1, f.metrics.movements[MovementEgress])
	require.Equal(t, []string{EventSessionOpened, EventMovementRecorded, EventMovementRecorded}, f.notifier.types())
}

func TestRecordMovementValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	session, err := f.store.OpenSession(ctx, OpenSessionInput{BranchID: 1, OpeningFloat: nullDec("10")})
	require.NoError(t, err)

	cases := map[string]RecordMovementInput{
		"zero amount":       {SessionID: session.ID, Kind: MovementEgress, Amount: dec("0"), Description: "test"},
		"negative amount":   {SessionID: session.ID, Kind: MovementIngress, Amount: dec("-1"), Description: "test"},
		"blank description": {SessionID: session.ID, Kind: MovementIngress, Amount: dec("1"), Description: "   "},
		"unknown kind":      {SessionID: session.ID, Kind: "REFUND", Amount: dec("1"), Description: "test"},
		"sub-cent amount":   {SessionID: session.ID, Kind: MovementIngress, Amount: dec("0.001"), Description: "test"},
		"missing session":   {Kind: MovementIngress, Amount: dec("1"), Description: "test"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.ledger.RecordMovement(ctx, in)
			require.ErrorIs(t, err, shared.ErrValidation)
		})
	}

	movements, err := f.ledger.ListMovements(ctx, session.ID)
	require.NoError(t, err)
	require.Empty(t, movements)
}

func TestRecordMovementUnknownSession(t *testing.T) {
	f := newFixture()
	_, err := f.ledger.RecordMovement(context.Background(), RecordMovementInput{SessionID: 77, Kind: MovementIngress, Amount: dec("1"), Description: "x"})
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = f.ledger.ListMovements(context.Background(), 77)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRecordMovementAgainstClosedSessionLeavesLedgerUnchanged(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	session, err := f.store.OpenSession(ctx, OpenSessionInput{BranchID: 1, OpeningFloat: nullDec("10")})
	require.NoError(t, err)
	_, err = f.ledger.RecordMovement(ctx, RecordMovementInput{SessionID: session.ID, Kind: MovementIngress, Amount: dec("3"), Description: "float top-up"})
	require.NoError(t, err)
	_, err = f.store.CloseSession(ctx, session.ID, dec("13"))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = f.ledger.RecordMovement(ctx, RecordMovementInput{SessionID: session.ID, Kind: MovementEgress, Amount: dec("1"), Description: "late"})
		require.ErrorIs(t, err, shared.ErrInvalidState)
	}

	movements, err := f.ledger.ListMovements(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, movements, 1)
}

func TestEgressBeyondDrawerCashRejected(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	session, err := f.store.OpenSession(ctx, OpenSessionInput{BranchID: 7, OpeningFloat: nullDec("0")})
	require.NoError(t, err)

	_, err = f.ledger.RecordMovement(ctx, RecordMovementInput{SessionID: session.ID, Kind: MovementEgress, Amount: dec("10"), Description: "supplier"})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Zero(t, f.metrics.movements[MovementEgress])

	movements, err := f.ledger.ListMovements(ctx, session.ID)
	require.NoError(t, err)
	require.Empty(t, movements)

	expected, err := f.reconciler.ExpectedCashBalance(ctx, session.ID)
	require.NoError(t, err)
	require.True(t, expected.IsZero(), expected.String())

	closed, err := f.reconciler.CloseWithCount(ctx, session.ID, dec("0"))
	require.NoError(t, err)
	require.Equal(t, StatusClosed, closed.Status)
}

func TestEgressDrawsOnFloatMovementsAndCashSales(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	session, err := f.store.OpenSession(ctx, OpenSessionInput{BranchID: 8, OpeningFloat: nullDec("5.00")})
	require.NoError(t, err)
	_, err = f.ledger.RecordMovement(ctx, RecordMovementInput{SessionID: session.ID, Kind: MovementIngress, Amount: dec("2.50"), Description: "top-up"})
	require.NoError(t, err)
	f.sales.sales[session.ID] = []CashSale{
		{SaleID: 1, Tenders: TenderBreakdown{TenderCash: dec("12.50"), "CARD": dec("40.00")}},
	}

	// Card tenders never reach the drawer.
	_, err = f.ledger.RecordMovement(ctx, RecordMovementInput{SessionID: session.ID, Kind: MovementEgress, Amount: dec("20.01"), Description: "too much"})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.ledger.RecordMovement(ctx, RecordMovementInput{SessionID: session.ID, Kind: MovementEgress, Amount: dec("20.00"), Description: "bank drop"})
	require.NoError(t, err)

	expected, err := f.reconciler.ExpectedCashBalance(ctx, session.ID)
	require.NoError(t, err)
	require.True(t, expected.IsZero(), expected.String())

	_, err = f.ledger.RecordMovement(ctx, RecordMovementInput{SessionID: session.ID, Kind: MovementEgress, Amount: dec("0.01"), Description: "one more"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestEgressSalesSourceFailureAborts(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	session, err := f.store.OpenSession(ctx, OpenSessionInput{BranchID: 9, OpeningFloat: nullDec("100")})
	require.NoError(t, err)
	f.sales.err = errors.New("sales offline")

	_, err = f.ledger.RecordMovement(ctx, RecordMovementInput{SessionID: session.ID, Kind: MovementEgress, Amount: dec("1"), Description: "x"})
	require.Error(t, err)

	// Ingress does not depend on the drawer balance.
	_, err = f.ledger.RecordMovement(ctx, RecordMovementInput{SessionID: session.ID, Kind: MovementIngress, Amount: dec("1"), Description: "x"})
	require.NoError(t, err)
}

func TestNetTotalOrderIndependent(t *testing.T) {
	movements := []Movement{
		{Kind: MovementIngress, Amount: dec("20.00")},
		{Kind: MovementEgress, Amount: dec("5.00")},
		{Kind: MovementIngress, Amount: dec("0.10")},
		{Kind: MovementIngress, Amount: dec("0.20")},
		{Kind: MovementEgress, Amount: dec("0.30")},
		{Kind: MovementEgress, Amount: dec("12.34")},
		{Kind: MovementIngress, Amount: dec("99.99")},
	}
	want := NetTotal(movements)
	require.True(t, want.Equal(dec("102.65")), want.String())

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		shuffled := append([]Movement(nil), movements...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		require.True(t, NetTotal(shuffled).Equal(want))
	}
}

func TestConcurrentMovementsAllRecorded(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	session, err := f.store.OpenSession(ctx, OpenSessionInput{BranchID: 4, OpeningFloat: nullDec("10.00")})
	require.NoError(t, err)

	var g errgroup.Group
	for i := 0; i < 20; i++ {
		kind := MovementIngress
		if i%4 == 0 {
			kind = MovementEgress
		}
		g.Go(func() error {
			_, err := f.ledger.RecordMovement(ctx, RecordMovementInput{SessionID: session.ID, Kind: kind, Amount: dec("1.25"), Description: "batch"})
			return err
		})
	}
	require.NoError(t, g.Wait())

	net, err := f.ledger.NetMovementTotal(ctx, session.ID)
	require.NoError(t, err)
	// 15 ingress, 5 egress.
	require.True(t, net.Equal(dec("12.50")), net.String())
}
