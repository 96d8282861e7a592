package sales

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/db"
	"github.com/odyssey-erp/odyssey-pos/internal/register"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// Repository persists sales and tenders in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository using the provided pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes fn inside a read-committed locking transaction, retried on
// serialization failures.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("sales: repository not initialised")
	}
	return db.WithLockingTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// ListSessionSales returns sales with tenders for a session, oldest first.
func (r *Repository) ListSessionSales(ctx context.Context, sessionID int64) ([]Sale, error) {
	rows, err := r.pool.Query(ctx, `SELECT s.id, s.session_id, s.total::text, s.recorded_at, t.method, t.amount::text
FROM sales s
JOIN sale_tenders t ON t.sale_id = s.id
WHERE s.session_id = $1
ORDER BY s.id, t.method`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]Sale, 0)
	for rows.Next() {
		var (
			sale          Sale
			total, amount string
			method        string
		)
		if err := rows.Scan(&sale.ID, &sale.SessionID, &total, &sale.RecordedAt, &method, &amount); err != nil {
			return nil, err
		}
		tender := Tender{Method: Method(method)}
		if tender.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("sales: parse tender amount: %w", err)
		}
		if n := len(sales); n > 0 && sales[n-1].ID == sale.ID {
			sales[n-1].Tenders = append(sales[n-1].Tenders, tender)
			continue
		}
		if sale.Total, err = decimal.NewFromString(total); err != nil {
			return nil, fmt.Errorf("sales: parse total: %w", err)
		}
		sale.Tenders = []Tender{tender}
		sales = append(sales, sale)
	}
	return sales, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (t *txRepository) ShareSession(ctx context.Context, sessionID int64) (register.Status, error) {
	var status string
	err := t.tx.QueryRow(ctx, `SELECT status FROM register_sessions WHERE id = $1 FOR SHARE`, sessionID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("sales: session %d: %w", sessionID, shared.ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return register.Status(status), nil
}

func (t *txRepository) InsertSale(ctx context.Context, in RecordSaleInput, recordedAt time.Time) (Sale, error) {
	sale := Sale{SessionID: in.SessionID, Total: in.Total, RecordedAt: recordedAt}
	err := t.tx.QueryRow(ctx, `INSERT INTO sales (session_id, total, recorded_at) VALUES ($1, $2, $3) RETURNING id`,
		in.SessionID, in.Total.String(), recordedAt).Scan(&sale.ID)
	if err != nil {
		return Sale{}, err
	}
	batch := &pgx.Batch{}
	for _, tender := range in.Tenders {
		batch.Queue(`INSERT INTO sale_tenders (sale_id, method, amount) VALUES ($1, $2, $3)`, sale.ID, string(tender.Method), tender.Amount.String())
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return Sale{}, err
	}
	sale.Tenders = append([]Tender(nil), in.Tenders...)
	return sale, nil
}
