package register

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// Status enumerates register session lifecycle stages. OPEN -> CLOSED is the
// only transition and closure is terminal.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// MovementKind distinguishes manual cash ingress from egress.
type MovementKind string

const (
	MovementIngress MovementKind = "INGRESS"
	MovementEgress  MovementKind = "EGRESS"
)

// Valid reports whether k is a known movement kind.
func (k MovementKind) Valid() bool {
	return k == MovementIngress || k == MovementEgress
}

// TenderCash is the payment method that settles through the drawer.
const TenderCash = "CASH"

// Session is one open/close cycle of a branch cash drawer.
type Session struct {
	ID           int64
	BranchID     int64
	OpeningFloat decimal.Decimal
	OpenedAt     time.Time
	OperatorID   *int64
	Status       Status
	ClosedAt     *time.Time
	FinalAmount  *decimal.Decimal
}

// IsOpen reports whether the session still accepts movements.
func (s Session) IsOpen() bool {
	return s.Status == StatusOpen
}

// Movement is an immutable manual cash adjustment within a session.
type Movement struct {
	ID          int64
	SessionID   int64
	Kind        MovementKind
	Amount      decimal.Decimal
	Description string
	RecordedAt  time.Time
}

// TenderBreakdown maps a payment method to the amount tendered with it.
type TenderBreakdown map[string]decimal.Decimal

// Cash returns the CASH portion of the breakdown.
func (t TenderBreakdown) Cash() decimal.Decimal {
	return t[TenderCash]
}

// CashSale is the read-only view of a sale used for reconciliation.
type CashSale struct {
	SaleID    int64
	SessionID int64
	Tenders   TenderBreakdown
}

// Reconciliation summarises how the expected drawer balance was derived.
type Reconciliation struct {
	SessionID    int64
	BranchID     int64
	Status       Status
	OpeningFloat decimal.Decimal
	Ingress      decimal.Decimal
	Egress       decimal.Decimal
	NetMovements decimal.Decimal
	CashSales    decimal.Decimal
	SalesCount   int
	OtherTenders map[string]decimal.Decimal
	Expected     decimal.Decimal
}

// OpenSessionInput captures the parameters of a new register session.
type OpenSessionInput struct {
	BranchID     int64
	OpeningFloat decimal.NullDecimal
	OperatorID   *int64
}

// Validate rejects missing branch, missing or negative float.
func (in OpenSessionInput) Validate() error {
	if in.BranchID <= 0 {
		return fmt.Errorf("register: branch id required: %w", shared.ErrValidation)
	}
	if !in.OpeningFloat.Valid {
		return fmt.Errorf("register: opening float required: %w", shared.ErrValidation)
	}
	if err := validateAmount("opening float", in.OpeningFloat.Decimal, true); err != nil {
		return err
	}
	if in.OperatorID != nil && *in.OperatorID <= 0 {
		return fmt.Errorf("register: operator id must be positive: %w", shared.ErrValidation)
	}
	return nil
}

// RecordMovementInput captures a manual cash movement.
type RecordMovementInput struct {
	SessionID   int64
	Kind        MovementKind
	Amount      decimal.Decimal
	Description string
}

// Validate rejects non-positive amounts, unknown kinds and blank descriptions.
func (in RecordMovementInput) Validate() error {
	if in.SessionID <= 0 {
		return fmt.Errorf("register: session id required: %w", shared.ErrValidation)
	}
	if !in.Kind.Valid() {
		return fmt.Errorf("register: unknown movement kind %q: %w", in.Kind, shared.ErrValidation)
	}
	if err := validateAmount("movement amount", in.Amount, false); err != nil {
		return err
	}
	if strings.TrimSpace(in.Description) == "" {
		return fmt.Errorf("register: movement description required: %w", shared.ErrValidation)
	}
	return nil
}

// ErrMismatch matches every *MismatchError via errors.Is.
var ErrMismatch = errors.New("register: reconciliation mismatch")

// MismatchError reports a manual count outside the one-cent tolerance.
type MismatchError struct {
	SessionID int64
	Expected  decimal.Decimal
	Counted   decimal.Decimal
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("register: counted %s does not match expected %s for session %d",
		e.Counted.StringFixed(2), e.Expected.StringFixed(2), e.SessionID)
}

// Is lets errors.Is(err, ErrMismatch) succeed.
func (e *MismatchError) Is(target error) bool {
	return target == ErrMismatch
}

// Difference is counted minus expected; negative means a shortfall.
func (e *MismatchError) Difference() decimal.Decimal {
	return e.Counted.Sub(e.Expected)
}

func errSessionNotFound(id int64) error {
	return fmt.Errorf("register: session %d: %w", id, shared.ErrNotFound)
}

func errSessionClosed(id int64) error {
	return fmt.Errorf("register: session %d already closed: %w", id, shared.ErrInvalidState)
}

func errBranchBusy(branchID int64) error {
	return fmt.Errorf("register: branch %d already has an open session: %w", branchID, shared.ErrConflict)
}
