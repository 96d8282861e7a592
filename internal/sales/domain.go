package sales

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/register"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// Method enumerates accepted payment methods.
type Method string

const (
	MethodCash     Method = register.TenderCash
	MethodCard     Method = "CARD"
	MethodTransfer Method = "TRANSFER"
	MethodQR       Method = "QR"
)

// Valid reports whether m is an accepted payment method.
func (m Method) Valid() bool {
	switch m {
	case MethodCash, MethodCard, MethodTransfer, MethodQR:
		return true
	}
	return false
}

// Tender is the portion of a sale paid with one method.
type Tender struct {
	Method Method
	Amount decimal.Decimal
}

// Sale is a completed sale settled against a register session.
type Sale struct {
	ID         int64
	SessionID  int64
	Total      decimal.Decimal
	Tenders    []Tender
	RecordedAt time.Time
}

// Breakdown converts tenders into the register view of the sale.
func (s Sale) Breakdown() register.TenderBreakdown {
	out := make(register.TenderBreakdown, len(s.Tenders))
	for _, t := range s.Tenders {
		out[string(t.Method)] = out[string(t.Method)].Add(t.Amount)
	}
	return out
}

// RecordSaleInput carries a sale and its payment split.
type RecordSaleInput struct {
	SessionID int64
	Total     decimal.Decimal
	Tenders   []Tender
}

// Validate checks the payment split: known unique methods, positive
// amounts, tenders summing exactly to the total.
func (in RecordSaleInput) Validate() error {
	if in.SessionID <= 0 {
		return fmt.Errorf("sales: session id required: %w", shared.ErrValidation)
	}
	if !in.Total.IsPositive() {
		return fmt.Errorf("sales: total must be greater than zero: %w", shared.ErrValidation)
	}
	if !in.Total.Equal(in.Total.Round(2)) {
		return fmt.Errorf("sales: total has more than two decimal places: %w", shared.ErrValidation)
	}
	if len(in.Tenders) == 0 {
		return fmt.Errorf("sales: at least one tender required: %w", shared.ErrValidation)
	}
	seen := make(map[Method]struct{}, len(in.Tenders))
	sum := decimal.Zero
	for _, t := range in.Tenders {
		if !t.Method.Valid() {
			return fmt.Errorf("sales: unknown payment method %q: %w", t.Method, shared.ErrValidation)
		}
		if _, dup := seen[t.Method]; dup {
			return fmt.Errorf("sales: payment method %s listed twice: %w", t.Method, shared.ErrValidation)
		}
		seen[t.Method] = struct{}{}
		if !t.Amount.IsPositive() {
			return fmt.Errorf("sales: %s amount must be greater than zero: %w", t.Method, shared.ErrValidation)
		}
		if !t.Amount.Equal(t.Amount.Round(2)) {
			return fmt.Errorf("sales: %s amount has more than two decimal places: %w", t.Method, shared.ErrValidation)
		}
		sum = sum.Add(t.Amount)
	}
	if !sum.Equal(in.Total) {
		return fmt.Errorf("sales: tenders sum to %s but total is %s: %w", sum.StringFixed(2), in.Total.StringFixed(2), shared.ErrValidation)
	}
	return nil
}
