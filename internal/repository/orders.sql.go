package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/saldo-exchange/internal/domain"
	"github.com/ayo6706/saldo-exchange/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const orderColumns = `id, order_code, user_id, guest_email, channel, direction, status,
	crypto_symbol, network, amount_input, amount_idr, rate, network_fee_idr, settled_idr,
	wallet_address, wallet_tag, external_email, bank_name, bank_account_number, bank_account_name,
	paid_with_saldo, gateway_payment_id, gateway_payout_id, gateway_batch_id, pay_address,
	payment_status, payout_status, payout_hash, gateway_error, actually_paid,
	payment_note, proof_path, proof_mime, proof_uploaded_at, expires_at, created_at, updated_at, completed_at`

func scanOrder(row pgx.Row) (*models.Order, error) {
	var o models.Order
	err := row.Scan(
		&o.ID, &o.Code, &o.UserID, &o.GuestEmail, &o.Channel, &o.Direction, &o.Status,
		&o.CryptoSymbol, &o.Network, &o.AmountInput, &o.AmountIDR, &o.Rate, &o.NetworkFeeIDR, &o.SettledIDR,
		&o.WalletAddress, &o.WalletTag, &o.ExternalEmail, &o.BankName, &o.BankAccountNumber, &o.BankAccountName,
		&o.PaidWithSaldo, &o.GatewayPaymentID, &o.GatewayPayoutID, &o.GatewayBatchID, &o.PayAddress,
		&o.PaymentStatus, &o.PayoutStatus, &o.PayoutHash, &o.GatewayError, &o.ActuallyPaid,
		&o.PaymentNote, &o.ProofPath, &o.ProofMIME, &o.ProofUploadedAt, &o.ExpiresAt, &o.CreatedAt, &o.UpdatedAt, &o.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func collectOrders(rows pgx.Rows) ([]models.Order, error) {
	defer rows.Close()
	var out []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

const insertOrder = `INSERT INTO orders (
	id, order_code, user_id, guest_email, channel, direction, status,
	crypto_symbol, network, amount_input, amount_idr, rate, network_fee_idr,
	wallet_address, wallet_tag, external_email, bank_name, bank_account_number, bank_account_name,
	paid_with_saldo, gateway_payment_id, pay_address, payment_status, expires_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7,
	$8, $9, $10, $11, $12, $13,
	$14, $15, $16, $17, $18, $19,
	$20, $21, $22, $23, $24
) RETURNING ` + orderColumns

// InsertOrder persists a new order row exactly as given.
func (q *Queries) InsertOrder(ctx context.Context, o *models.Order) (*models.Order, error) {
	row := q.db.QueryRow(ctx, insertOrder,
		o.ID, o.Code, o.UserID, o.GuestEmail, o.Channel, o.Direction, o.Status,
		o.CryptoSymbol, o.Network, o.AmountInput, o.AmountIDR, o.Rate, o.NetworkFeeIDR,
		o.WalletAddress, o.WalletTag, o.ExternalEmail, o.BankName, o.BankAccountNumber, o.BankAccountName,
		o.PaidWithSaldo, o.GatewayPaymentID, o.PayAddress, o.PaymentStatus, o.ExpiresAt,
	)
	return scanOrder(row)
}

const getOrderByID = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

func (q *Queries) GetOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrderByID, id))
}

const getOrderByIDForUpdate = getOrderByID + ` FOR UPDATE`

// GetOrderByIDForUpdate locks the row until the surrounding transaction ends.
func (q *Queries) GetOrderByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrderByIDForUpdate, id))
}

const getOrderByCode = `SELECT ` + orderColumns + ` FROM orders WHERE order_code = $1`

func (q *Queries) GetOrderByCode(ctx context.Context, code string) (*models.Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrderByCode, code))
}

const getOrderByGatewayID = `SELECT ` + orderColumns + ` FROM orders
WHERE gateway_payment_id = $1 OR gateway_payout_id = $1
ORDER BY created_at DESC
LIMIT 1`

func (q *Queries) GetOrderByGatewayID(ctx context.Context, gatewayID string) (*models.Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrderByGatewayID, gatewayID))
}

const getOrderByBatchID = `SELECT ` + orderColumns + ` FROM orders
WHERE gateway_batch_id = $1
ORDER BY created_at DESC
LIMIT 1`

func (q *Queries) GetOrderByBatchID(ctx context.Context, batchID string) (*models.Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrderByBatchID, batchID))
}

type MirrorGatewayStatusParams struct {
	ID            uuid.UUID
	PaymentStatus *string
	PayoutStatus  *string
	PayoutHash    *string
	GatewayError  *string
	ActuallyPaid  decimal.NullDecimal
}

const mirrorGatewayStatus = `UPDATE orders SET
	payment_status = COALESCE($2::text, payment_status),
	payout_status = COALESCE($3::text, payout_status),
	payout_hash = COALESCE($4::text, payout_hash),
	gateway_error = COALESCE($5::text, gateway_error),
	actually_paid = COALESCE($6::numeric, actually_paid),
	updated_at = NOW()
WHERE id = $1`

// MirrorGatewayStatus copies upstream status fields. Nil fields are left untouched.
func (q *Queries) MirrorGatewayStatus(ctx context.Context, arg MirrorGatewayStatusParams) (int64, error) {
	tag, err := q.db.Exec(ctx, mirrorGatewayStatus, arg.ID, arg.PaymentStatus, arg.PayoutStatus, arg.PayoutHash, arg.GatewayError, arg.ActuallyPaid)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type TransitionOrderParams struct {
	ID           uuid.UUID
	Target       domain.Status
	AllowedFrom  []string
	PaymentNote  string
	SettledIDR   decimal.NullDecimal
	ActuallyPaid decimal.NullDecimal
}

const transitionOrder = `UPDATE orders SET
	status = $2::text,
	payment_note = CASE WHEN $3::text = '' THEN payment_note ELSE $3::text END,
	settled_idr = COALESCE($4::numeric, settled_idr),
	actually_paid = COALESCE($5::numeric, actually_paid),
	completed_at = CASE WHEN $2::text = 'completed' THEN NOW() ELSE completed_at END,
	updated_at = NOW()
WHERE id = $1 AND status = ANY($6::text[])`

// TransitionOrder moves the order to Target only when its current status is in AllowedFrom.
// Zero affected rows means another writer got there first.
func (q *Queries) TransitionOrder(ctx context.Context, arg TransitionOrderParams) (int64, error) {
	tag, err := q.db.Exec(ctx, transitionOrder, arg.ID, string(arg.Target), arg.PaymentNote, arg.SettledIDR, arg.ActuallyPaid, arg.AllowedFrom)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type SetPayoutLinkageParams struct {
	ID           uuid.UUID
	PayoutID     string
	BatchID      string
	PayoutStatus string
}

const setPayoutLinkage = `UPDATE orders SET
	gateway_payout_id = $2,
	gateway_batch_id = $3,
	payout_status = $4,
	updated_at = NOW()
WHERE id = $1`

func (q *Queries) SetPayoutLinkage(ctx context.Context, arg SetPayoutLinkageParams) (int64, error) {
	tag, err := q.db.Exec(ctx, setPayoutLinkage, arg.ID, arg.PayoutID, arg.BatchID, arg.PayoutStatus)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const setGatewayError = `UPDATE orders SET gateway_error = $2, updated_at = NOW() WHERE id = $1`

func (q *Queries) SetGatewayError(ctx context.Context, id uuid.UUID, msg string) error {
	_, err := q.db.Exec(ctx, setGatewayError, id, msg)
	return err
}

type AttachProofParams struct {
	ID   uuid.UUID
	Path string
	MIME string
}

const attachProof = `UPDATE orders SET
	status = 'pending',
	proof_path = $2,
	proof_mime = $3,
	proof_uploaded_at = NOW(),
	expires_at = NULL,
	updated_at = NOW()
WHERE id = $1
	AND status = 'pending_proof'
	AND (expires_at IS NULL OR expires_at > NOW())`

// AttachProof records uploaded evidence and takes the order out of the expiry window.
func (q *Queries) AttachProof(ctx context.Context, arg AttachProofParams) (int64, error) {
	tag, err := q.db.Exec(ctx, attachProof, arg.ID, arg.Path, arg.MIME)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type ExpiredOrderRow struct {
	ID   uuid.UUID
	Code string
}

const listExpiredSellOrders = `SELECT id, order_code FROM orders
WHERE direction = 'sell'
	AND status IN ('pending', 'pending_proof')
	AND expires_at IS NOT NULL
	AND expires_at < $1
	AND proof_uploaded_at IS NULL
ORDER BY expires_at
LIMIT $2`

// ListExpiredSellOrders returns sweep candidates. Buy orders and orders with proof never match.
func (q *Queries) ListExpiredSellOrders(ctx context.Context, now time.Time, limit int32) ([]ExpiredOrderRow, error) {
	rows, err := q.db.Query(ctx, listExpiredSellOrders, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ExpiredOrderRow
	for rows.Next() {
		var r ExpiredOrderRow
		if err := rows.Scan(&r.ID, &r.Code); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const listOutstandingGatewayOrders = `SELECT ` + orderColumns + ` FROM orders
WHERE status IN ('pending', 'confirmed', 'processing')
	AND (gateway_payout_id <> '' OR gateway_payment_id <> '')
ORDER BY updated_at
LIMIT $1`

// ListOutstandingGatewayOrders returns non-terminal orders the gateway still owes an answer for.
func (q *Queries) ListOutstandingGatewayOrders(ctx context.Context, limit int32) ([]models.Order, error) {
	rows, err := q.db.Query(ctx, listOutstandingGatewayOrders, limit)
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

type CountRecentOrdersParams struct {
	UserID    uuid.UUID
	Channel   string
	Direction string
	Amount    decimal.Decimal
	Since     time.Time
}

const countRecentOrders = `SELECT COUNT(*) FROM orders
WHERE user_id = $1
	AND channel = $2
	AND direction = $3
	AND amount_input = $4
	AND created_at >= $5
	AND status NOT IN ('cancelled', 'failed')`

func (q *Queries) CountRecentOrders(ctx context.Context, arg CountRecentOrdersParams) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countRecentOrders, arg.UserID, arg.Channel, arg.Direction, arg.Amount, arg.Since).Scan(&n)
	return n, err
}

const lockOrderSubmission = `SELECT pg_advisory_xact_lock(hashtext($1))`

// LockOrderSubmission serialises creation for one submission key until the transaction ends.
func (q *Queries) LockOrderSubmission(ctx context.Context, key string) error {
	if _, err := q.db.Exec(ctx, lockOrderSubmission, key); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}
	return nil
}

const listCompletedSellsMissingCredit = `SELECT o.order_code FROM orders o
LEFT JOIN saldo_entries e ON e.order_id = o.id AND e.kind = 'credit'
WHERE o.direction = 'sell' AND o.status = 'completed' AND o.user_id IS NOT NULL AND e.id IS NULL
ORDER BY o.completed_at
LIMIT $1`

func (q *Queries) ListCompletedSellsMissingCredit(ctx context.Context, limit int32) ([]string, error) {
	return q.listCodes(ctx, listCompletedSellsMissingCredit, limit)
}

const listRefundableBuysMissingRefund = `SELECT o.order_code FROM orders o
LEFT JOIN saldo_entries e ON e.order_id = o.id AND e.kind = 'refund'
WHERE o.direction = 'buy' AND o.paid_with_saldo AND o.status IN ('cancelled', 'failed') AND e.id IS NULL
ORDER BY o.updated_at
LIMIT $1`

func (q *Queries) ListRefundableBuysMissingRefund(ctx context.Context, limit int32) ([]string, error) {
	return q.listCodes(ctx, listRefundableBuysMissingRefund, limit)
}

func (q *Queries) listCodes(ctx context.Context, sql string, limit int32) ([]string, error) {
	rows, err := q.db.Query(ctx, sql, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}
