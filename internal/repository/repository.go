package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/saldo-exchange/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository serves read-only views for the HTTP layer.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := New(r.db).GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func (r *Repository) GetOrderByCode(ctx context.Context, code string) (*models.Order, error) {
	order, err := New(r.db).GetOrderByCode(ctx, code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

func (r *Repository) ListUserOrders(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Order, error) {
	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := r.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}
	return orders, nil
}

func (r *Repository) ListSaldoEntries(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.SaldoEntry, error) {
	query := `
		SELECT id, user_id, order_id, kind, amount, created_at
		FROM saldo_entries
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get saldo entries: %w", err)
	}
	defer rows.Close()

	var entries []models.SaldoEntry
	for rows.Next() {
		var e models.SaldoEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.OrderID, &e.Kind, &e.Amount, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan saldo entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
