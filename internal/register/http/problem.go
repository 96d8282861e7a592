package registerhttp

import (
	"net/http"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-pos/internal/register"
)

// AmountFormatter renders money for operators in a configured locale.
type AmountFormatter struct {
	printer *message.Printer
}

// NewAmountFormatter parses a BCP 47 locale such as "id-ID", falling back to
// English when the tag is empty or invalid.
func NewAmountFormatter(locale string) *AmountFormatter {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	return &AmountFormatter{printer: message.NewPrinter(tag)}
}

// Format returns amount with locale grouping and two decimals.
func (f *AmountFormatter) Format(amount decimal.Decimal) string {
	return f.printer.Sprintf("%.2f", register.RoundCurrency(amount).InexactFloat64())
}

// Mismatch renders the operator-facing mismatch message.
func (f *AmountFormatter) Mismatch(expected, counted decimal.Decimal) string {
	return f.printer.Sprintf("Counted %s but expected %s. Recount the drawer before closing.",
		f.Format(counted), f.Format(expected))
}

type mismatchProblem struct {
	httpx.ProblemDetail
	SessionID  int64  `json:"session_id"`
	Expected   string `json:"expected"`
	Counted    string `json:"counted"`
	Difference string `json:"difference"`
}

func (p mismatchProblem) ProblemStatus() int { return p.Status }

func newMismatchProblem(err *register.MismatchError, amounts *AmountFormatter) mismatchProblem {
	return mismatchProblem{
		ProblemDetail: httpx.ProblemDetail{
			Title:  "Reconciliation Mismatch",
			Status: http.StatusUnprocessableEntity,
			Detail: amounts.Mismatch(err.Expected, err.Counted),
		},
		SessionID:  err.SessionID,
		Expected:   err.Expected.StringFixed(2),
		Counted:    err.Counted.StringFixed(2),
		Difference: err.Difference().StringFixed(2),
	}
}
