package registerhttp

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/register"
	"github.com/odyssey-erp/odyssey-pos/internal/sales"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

type openSessionRequest struct {
	OpeningFloat *decimal.Decimal `json:"opening_float" validate:"required"`
	OperatorID   *int64           `json:"operator_id,omitempty" validate:"omitempty,gt=0"`
}

type movementRequest struct {
	Kind        string           `json:"kind" validate:"required,oneof=INGRESS EGRESS"`
	Amount      *decimal.Decimal `json:"amount" validate:"required"`
	Description string           `json:"description" validate:"required,max=500"`
}

type closeRequest struct {
	ManualCount *decimal.Decimal `json:"manual_count" validate:"required"`
}

type tenderRequest struct {
	Method string           `json:"method" validate:"required,oneof=CASH CARD TRANSFER QR"`
	Amount *decimal.Decimal `json:"amount" validate:"required"`
}

type saleRequest struct {
	Total   *decimal.Decimal `json:"total" validate:"required"`
	Tenders []tenderRequest  `json:"tenders" validate:"required,min=1,dive"`
}

type requestValidator struct {
	v *validator.Validate
}

func newRequestValidator() *requestValidator {
	return &requestValidator{v: validator.New(validator.WithRequiredStructEnabled())}
}

// Struct validates s, reporting failures as validation errors naming the fields.
func (rv *requestValidator) Struct(s any) error {
	err := rv.v.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("invalid request: %v: %w", err, shared.ErrValidation)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid request: %s: %w", strings.Join(msgs, "; "), shared.ErrValidation)
}

type sessionResponse struct {
	ID           int64      `json:"id"`
	BranchID     int64      `json:"branch_id"`
	Status       string     `json:"status"`
	OpeningFloat string     `json:"opening_float"`
	OperatorID   *int64     `json:"operator_id,omitempty"`
	OpenedAt     time.Time  `json:"opened_at"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
	FinalAmount  *string    `json:"final_amount,omitempty"`
}

func toSessionResponse(s register.Session) sessionResponse {
	resp := sessionResponse{
		ID:           s.ID,
		BranchID:     s.BranchID,
		Status:       string(s.Status),
		OpeningFloat: s.OpeningFloat.StringFixed(2),
		OperatorID:   s.OperatorID,
		OpenedAt:     s.OpenedAt,
		ClosedAt:     s.ClosedAt,
	}
	if s.FinalAmount != nil {
		final := s.FinalAmount.StringFixed(2)
		resp.FinalAmount = &final
	}
	return resp
}

type movementResponse struct {
	ID          int64     `json:"id"`
	SessionID   int64     `json:"session_id"`
	Kind        string    `json:"kind"`
	Amount      string    `json:"amount"`
	Description string    `json:"description"`
	RecordedAt  time.Time `json:"recorded_at"`
}

func toMovementResponse(m register.Movement) movementResponse {
	return movementResponse{
		ID:          m.ID,
		SessionID:   m.SessionID,
		Kind:        string(m.Kind),
		Amount:      m.Amount.StringFixed(2),
		Description: m.Description,
		RecordedAt:  m.RecordedAt,
	}
}

type movementListResponse struct {
	Movements []movementResponse `json:"movements"`
	NetTotal  string             `json:"net_total"`
}

type balanceResponse struct {
	SessionID       int64             `json:"session_id"`
	Status          string            `json:"status"`
	OpeningFloat    string            `json:"opening_float"`
	Ingress         string            `json:"ingress"`
	Egress          string            `json:"egress"`
	NetMovements    string            `json:"net_movements"`
	CashSales       string            `json:"cash_sales"`
	SalesCount      int               `json:"sales_count"`
	OtherTenders    map[string]string `json:"other_tenders"`
	Expected        string            `json:"expected"`
	ExpectedDisplay string            `json:"expected_display"`
}

func toBalanceResponse(s register.Reconciliation, amounts *AmountFormatter) balanceResponse {
	others := make(map[string]string, len(s.OtherTenders))
	for method, amount := range s.OtherTenders {
		others[method] = amount.StringFixed(2)
	}
	return balanceResponse{
		SessionID:       s.SessionID,
		Status:          string(s.Status),
		OpeningFloat:    s.OpeningFloat.StringFixed(2),
		Ingress:         s.Ingress.StringFixed(2),
		Egress:          s.Egress.StringFixed(2),
		NetMovements:    s.NetMovements.StringFixed(2),
		CashSales:       s.CashSales.StringFixed(2),
		SalesCount:      s.SalesCount,
		OtherTenders:    others,
		Expected:        s.Expected.StringFixed(2),
		ExpectedDisplay: amounts.Format(s.Expected),
	}
}

type tenderResponse struct {
	Method string `json:"method"`
	Amount string `json:"amount"`
}

type saleResponse struct {
	ID         int64            `json:"id"`
	SessionID  int64            `json:"session_id"`
	Total      string           `json:"total"`
	Tenders    []tenderResponse `json:"tenders"`
	RecordedAt time.Time        `json:"recorded_at"`
}

func toSaleResponse(s sales.Sale) saleResponse {
	tenders := make([]tenderResponse, 0, len(s.Tenders))
	for _, t := range s.Tenders {
		tenders = append(tenders, tenderResponse{Method: string(t.Method), Amount: t.Amount.StringFixed(2)})
	}
	return saleResponse{
		ID:         s.ID,
		SessionID:  s.SessionID,
		Total:      s.Total.StringFixed(2),
		Tenders:    tenders,
		RecordedAt: s.RecordedAt,
	}
}
