package registerhttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-pos/internal/rbac"
	"github.com/odyssey-erp/odyssey-pos/internal/register"
	"github.com/odyssey-erp/odyssey-pos/internal/sales"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// HeaderIdempotencyKey deduplicates movement submissions.
const HeaderIdempotencyKey = "Idempotency-Key"

const idempotencyModule = "register.movement"

// movementScope keys idempotency per session so a client reusing a key on
// another drawer is not turned away.
func movementScope(sessionID int64) string {
	return idempotencyModule + ":" + strconv.FormatInt(sessionID, 10)
}

type sessionService interface {
	OpenSession(ctx context.Context, in register.OpenSessionInput) (register.Session, error)
	ActiveSession(ctx context.Context, branchID int64) (register.Session, bool, error)
	ListSessions(ctx context.Context, branchID int64, limit int) ([]register.Session, error)
	Session(ctx context.Context, id int64) (register.Session, error)
}

type ledgerService interface {
	RecordMovement(ctx context.Context, in register.RecordMovementInput) (register.Movement, error)
	ListMovements(ctx context.Context, sessionID int64) ([]register.Movement, error)
}

type reconcileService interface {
	Summary(ctx context.Context, sessionID int64) (register.Reconciliation, error)
	CloseWithCount(ctx context.Context, sessionID int64, manualCount decimal.Decimal) (register.Session, error)
}

type saleService interface {
	RecordSale(ctx context.Context, in sales.RecordSaleInput) (sales.Sale, error)
}

type idempotencyStore interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// ReportEnqueuer schedules the closing report of a session.
type ReportEnqueuer interface {
	EnqueueCloseReport(ctx context.Context, sessionID int64) error
}

// Services groups the collaborators behind the register endpoints.
// Idempotency and Reports are optional.
type Services struct {
	Sessions    sessionService
	Ledger      ledgerService
	Reconciler  reconcileService
	Sales       saleService
	Idempotency idempotencyStore
	Reports     ReportEnqueuer
}

// Handler wires HTTP endpoints for register sessions, movements and closing.
type Handler struct {
	logger   *slog.Logger
	svc      Services
	rbac     rbac.Middleware
	validate *requestValidator
	amounts  *AmountFormatter
}

// NewHandler constructs a register HTTP handler.
func NewHandler(logger *slog.Logger, svc Services, rbac rbac.Middleware, amounts *AmountFormatter) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if amounts == nil {
		amounts = NewAmountFormatter("")
	}
	return &Handler{
		logger:   logger,
		svc:      svc,
		rbac:     rbac,
		validate: newRequestValidator(),
		amounts:  amounts,
	}
}

// MountRoutes registers HTTP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Authenticate)

		r.Route("/branches/{branchID}/register", func(r chi.Router) {
			r.With(h.rbac.RequireAny(shared.PermRegisterOpen)).Post("/sessions", h.openSession)
			r.Group(func(r chi.Router) {
				r.Use(h.rbac.RequireAny(shared.PermRegisterView))
				r.Get("/active", h.activeSession)
				r.Get("/sessions", h.listSessions)
			})
		})

		r.Route("/register/sessions/{id}", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(h.rbac.RequireAny(shared.PermRegisterView))
				r.Get("/", h.showSession)
				r.Get("/movements", h.listMovements)
				r.Get("/balance", h.balance)
			})
			r.With(h.rbac.RequireAny(shared.PermRegisterMovement)).Post("/movements", h.recordMovement)
			r.With(h.rbac.RequireAny(shared.PermRegisterClose)).Post("/close", h.closeSession)
			r.With(h.rbac.RequireAny(shared.PermSalesRecord)).Post("/sales", h.recordSale)
		})
	})
}

func (h *Handler) openSession(w http.ResponseWriter, r *http.Request) {
	branchID, err := pathID(r, "branchID")
	if err != nil {
		h.fail(w, r, "open session", err)
		return
	}
	var req openSessionRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "open session", err)
		return
	}
	in := register.OpenSessionInput{
		BranchID:     branchID,
		OpeningFloat: decimal.NewNullDecimal(*req.OpeningFloat),
		OperatorID:   req.OperatorID,
	}
	session, err := h.svc.Sessions.OpenSession(r.Context(), in)
	if err != nil {
		h.fail(w, r, "open session", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toSessionResponse(session))
}

func (h *Handler) activeSession(w http.ResponseWriter, r *http.Request) {
	branchID, err := pathID(r, "branchID")
	if err != nil {
		h.fail(w, r, "active session", err)
		return
	}
	session, ok, err := h.svc.Sessions.ActiveSession(r.Context(), branchID)
	if err != nil {
		h.fail(w, r, "active session", err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	httpx.JSON(w, http.StatusOK, toSessionResponse(session))
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	branchID, err := pathID(r, "branchID")
	if err != nil {
		h.fail(w, r, "list sessions", err)
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			h.fail(w, r, "list sessions", fmt.Errorf("invalid limit %q: %w", raw, shared.ErrValidation))
			return
		}
	}
	sessions, err := h.svc.Sessions.ListSessions(r.Context(), branchID, limit)
	if err != nil {
		h.fail(w, r, "list sessions", err)
		return
	}
	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, toSessionResponse(s))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (h *Handler) showSession(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, "show session", err)
		return
	}
	session, err := h.svc.Sessions.Session(r.Context(), id)
	if err != nil {
		h.fail(w, r, "show session", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toSessionResponse(session))
}

func (h *Handler) recordMovement(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, "record movement", err)
		return
	}
	var req movementRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "record movement", err)
		return
	}

	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	scope := movementScope(id)
	if key != "" && h.svc.Idempotency != nil {
		if err := h.svc.Idempotency.CheckAndInsert(r.Context(), key, scope); err != nil {
			h.fail(w, r, "record movement", err)
			return
		}
	}
	movement, err := h.svc.Ledger.RecordMovement(r.Context(), register.RecordMovementInput{
		SessionID:   id,
		Kind:        register.MovementKind(req.Kind),
		Amount:      *req.Amount,
		Description: req.Description,
	})
	if err != nil {
		if key != "" && h.svc.Idempotency != nil {
			if delErr := h.svc.Idempotency.Delete(r.Context(), key, scope); delErr != nil {
				h.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", delErr))
			}
		}
		h.fail(w, r, "record movement", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toMovementResponse(movement))
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, "list movements", err)
		return
	}
	movements, err := h.svc.Ledger.ListMovements(r.Context(), id)
	if err != nil {
		h.fail(w, r, "list movements", err)
		return
	}
	out := make([]movementResponse, 0, len(movements))
	for _, m := range movements {
		out = append(out, toMovementResponse(m))
	}
	httpx.JSON(w, http.StatusOK, movementListResponse{
		Movements: out,
		NetTotal:  register.NetTotal(movements).StringFixed(2),
	})
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, "balance", err)
		return
	}
	summary, err := h.svc.Reconciler.Summary(r.Context(), id)
	if err != nil {
		h.fail(w, r, "balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBalanceResponse(summary, h.amounts))
}

func (h *Handler) closeSession(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, "close session", err)
		return
	}
	var req closeRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "close session", err)
		return
	}
	session, err := h.svc.Reconciler.CloseWithCount(r.Context(), id, *req.ManualCount)
	if err != nil {
		var mismatch *register.MismatchError
		if errors.As(err, &mismatch) {
			httpx.ProblemWith(w, newMismatchProblem(mismatch, h.amounts))
			return
		}
		h.fail(w, r, "close session", err)
		return
	}
	if h.svc.Reports != nil {
		if err := h.svc.Reports.EnqueueCloseReport(r.Context(), session.ID); err != nil {
			h.logger.Warn("enqueue close report", slog.Int64("session_id", session.ID), slog.Any("error", err))
		}
	}
	httpx.JSON(w, http.StatusOK, toSessionResponse(session))
}

func (h *Handler) recordSale(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, "record sale", err)
		return
	}
	var req saleRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "record sale", err)
		return
	}
	in := sales.RecordSaleInput{SessionID: id, Total: *req.Total}
	for _, t := range req.Tenders {
		in.Tenders = append(in.Tenders, sales.Tender{Method: sales.Method(t.Method), Amount: *t.Amount})
	}
	sale, err := h.svc.Sales.RecordSale(r.Context(), in)
	if err != nil {
		h.fail(w, r, "record sale", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toSaleResponse(sale))
}

func (h *Handler) decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return err
	}
	return h.validate.Struct(target)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if httpx.IsClientError(err) {
		h.logger.Info(op+" rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
	} else {
		h.logger.Error(op, slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func pathID(r *http.Request, param string) (int64, error) {
	raw := chi.URLParam(r, param)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q: %w", param, raw, shared.ErrValidation)
	}
	return id, nil
}
