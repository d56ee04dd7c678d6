package repository

import (
	"context"

	"github.com/ayo6706/saldo-exchange/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CreateUserParams struct {
	ID    uuid.UUID
	Email string
	Name  string
	Role  string
	Saldo decimal.Decimal
}

const createUser = `INSERT INTO users (id, email, name, role, saldo)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, email, name, role, saldo, created_at`

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (*models.User, error) {
	var u models.User
	err := q.db.QueryRow(ctx, createUser, arg.ID, arg.Email, arg.Name, arg.Role, arg.Saldo).
		Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.Saldo, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

const getUser = `SELECT id, email, name, role, saldo, created_at FROM users WHERE id = $1`

func (q *Queries) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	if err := q.db.QueryRow(ctx, getUser, id).Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.Saldo, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

const getSaldo = `SELECT saldo FROM users WHERE id = $1`

func (q *Queries) GetSaldo(ctx context.Context, id uuid.UUID) (decimal.Decimal, error) {
	var saldo decimal.Decimal
	err := q.db.QueryRow(ctx, getSaldo, id).Scan(&saldo)
	return saldo, err
}

const debitSaldo = `UPDATE users SET saldo = saldo - $2, updated_at = NOW()
WHERE id = $1 AND saldo >= $2
RETURNING saldo`

// DebitSaldo subtracts amount only when the balance covers it.
// pgx.ErrNoRows means the predicate failed.
func (q *Queries) DebitSaldo(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	var saldo decimal.Decimal
	err := q.db.QueryRow(ctx, debitSaldo, userID, amount).Scan(&saldo)
	return saldo, err
}

const creditSaldo = `UPDATE users SET saldo = saldo + $2, updated_at = NOW() WHERE id = $1`

func (q *Queries) CreditSaldo(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (int64, error) {
	tag, err := q.db.Exec(ctx, creditSaldo, userID, amount)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const countNegativeSaldo = `SELECT COUNT(*) FROM users WHERE saldo < 0`

func (q *Queries) CountNegativeSaldo(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countNegativeSaldo).Scan(&n)
	return n, err
}
