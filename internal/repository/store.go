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

// Store provides access to the query set and transaction scoping.
type Store struct {
	db      *pgxpool.Pool
	queries *Queries
}

// NewStore creates a store wrapper around a pgx connection pool.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{
		db:      db,
		queries: New(db),
	}
}

// Queries returns the non-transactional query set.
func (s *Store) Queries() *Queries {
	return s.queries
}

// RunInTx executes fn within a read-committed transaction.
// Any error from fn rolls the transaction back.
func (s *Store) RunInTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(s.queries.WithTx(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// OrderRef identifies an order by whatever keys a caller happens to hold.
type OrderRef struct {
	ID        uuid.UUID
	Code      string
	GatewayID string
	BatchID   string
}

func (r OrderRef) String() string {
	switch {
	case r.ID != uuid.Nil:
		return r.ID.String()
	case r.Code != "":
		return r.Code
	case r.GatewayID != "":
		return "gateway:" + r.GatewayID
	default:
		return "batch:" + r.BatchID
	}
}

type orderLookup struct {
	present func(OrderRef) bool
	find    func(context.Context, *Queries, OrderRef) (*models.Order, error)
}

// Lookups run in this order; the first key that resolves wins.
var orderLookups = []orderLookup{
	{
		present: func(r OrderRef) bool { return r.ID != uuid.Nil },
		find: func(ctx context.Context, q *Queries, r OrderRef) (*models.Order, error) {
			return q.GetOrderByID(ctx, r.ID)
		},
	},
	{
		present: func(r OrderRef) bool { return r.Code != "" },
		find: func(ctx context.Context, q *Queries, r OrderRef) (*models.Order, error) {
			return q.GetOrderByCode(ctx, r.Code)
		},
	},
	{
		present: func(r OrderRef) bool { return r.GatewayID != "" },
		find: func(ctx context.Context, q *Queries, r OrderRef) (*models.Order, error) {
			return q.GetOrderByGatewayID(ctx, r.GatewayID)
		},
	},
	{
		present: func(r OrderRef) bool { return r.BatchID != "" },
		find: func(ctx context.Context, q *Queries, r OrderRef) (*models.Order, error) {
			return q.GetOrderByBatchID(ctx, r.BatchID)
		},
	},
}

// FindOrder resolves ref through the ordered fallback lookups.
// It returns models.ErrOrderNotFound when no key matches.
func (q *Queries) FindOrder(ctx context.Context, ref OrderRef) (*models.Order, error) {
	for _, l := range orderLookups {
		if !l.present(ref) {
			continue
		}
		order, err := l.find(ctx, q, ref)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("find order %s: %w", ref, err)
		}
	}
	return nil, models.ErrOrderNotFound
}
