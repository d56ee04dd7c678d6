package repository

import (
	"context"

	"github.com/ayo6706/saldo-exchange/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type InsertSaldoEntryParams struct {
	UserID  uuid.UUID
	OrderID uuid.UUID
	Kind    string
	Amount  decimal.Decimal
}

const insertSaldoEntry = `INSERT INTO saldo_entries (user_id, order_id, kind, amount)
VALUES ($1, $2, $3, $4)
ON CONFLICT (order_id, kind) DO NOTHING`

// InsertSaldoEntry journals a saldo mutation. Zero rows means the order already has this kind.
func (q *Queries) InsertSaldoEntry(ctx context.Context, arg InsertSaldoEntryParams) (int64, error) {
	tag, err := q.db.Exec(ctx, insertSaldoEntry, arg.UserID, arg.OrderID, arg.Kind, arg.Amount)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const listSaldoEntriesByOrder = `SELECT id, user_id, order_id, kind, amount, created_at
FROM saldo_entries WHERE order_id = $1 ORDER BY id`

func (q *Queries) ListSaldoEntriesByOrder(ctx context.Context, orderID uuid.UUID) ([]models.SaldoEntry, error) {
	rows, err := q.db.Query(ctx, listSaldoEntriesByOrder, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.SaldoEntry
	for rows.Next() {
		var e models.SaldoEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.OrderID, &e.Kind, &e.Amount, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
