package sales

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/odyssey-erp/odyssey-pos/internal/register"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListSessionSales(ctx context.Context, sessionID int64) ([]Sale, error)
}

// TxRepository exposes transactional writes.
type TxRepository interface {
	// ShareSession returns the session status and blocks a concurrent close
	// until commit.
	ShareSession(ctx context.Context, sessionID int64) (register.Status, error)
	InsertSale(ctx context.Context, in RecordSaleInput, recordedAt time.Time) (Sale, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service records sales and exposes them to reconciliation.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service. audit and logger may be nil.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// RecordSale persists a sale with its tenders against an OPEN session.
func (s *Service) RecordSale(ctx context.Context, in RecordSaleInput) (Sale, error) {
	if err := in.Validate(); err != nil {
		return Sale{}, err
	}
	var sale Sale
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		status, err := tx.ShareSession(ctx, in.SessionID)
		if err != nil {
			return err
		}
		if status != register.StatusOpen {
			return fmt.Errorf("sales: session %d is closed: %w", in.SessionID, shared.ErrInvalidState)
		}
		sale, err = tx.InsertSale(ctx, in, s.now().UTC())
		return err
	})
	if err != nil {
		return Sale{}, err
	}

	if s.audit != nil {
		tenders := make(map[string]any, len(sale.Tenders))
		for _, t := range sale.Tenders {
			tenders[string(t.Method)] = t.Amount.StringFixed(2)
		}
		if err := s.audit.Record(ctx, shared.AuditLog{
			Action:   "sales.record",
			Entity:   "sale",
			EntityID: strconv.FormatInt(sale.ID, 10),
			Meta:     map[string]any{"session_id": sale.SessionID, "total": sale.Total.StringFixed(2), "tenders": tenders},
		}); err != nil {
			s.logger.Warn("sales audit failed", slog.Int64("sale_id", sale.ID), slog.Any("error", err))
		}
	}
	return sale, nil
}

// ListSales returns sales of a session in recording order.
func (s *Service) ListSales(ctx context.Context, sessionID int64) ([]Sale, error) {
	return s.repo.ListSessionSales(ctx, sessionID)
}

// CashSalesForSession implements register.SalesSource. Breakdowns are
// rebuilt from the stored tenders on every call.
func (s *Service) CashSalesForSession(ctx context.Context, sessionID int64) ([]register.CashSale, error) {
	sales, err := s.repo.ListSessionSales(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]register.CashSale, 0, len(sales))
	for _, sale := range sales {
		out = append(out, register.CashSale{
			SaleID:    sale.ID,
			SessionID: sale.SessionID,
			Tenders:   sale.Breakdown(),
		})
	}
	return out, nil
}
