package repository

import "context"

type IdempotencyKey struct {
	IdempotencyKey string
	RequestHash    string
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	InProgress     bool
}

const getIdempotencyKey = `SELECT idempotency_key, request_hash, response_status, response_body, content_type, in_progress
FROM idempotency_keys WHERE idempotency_key = $1`

func (q *Queries) GetIdempotencyKey(ctx context.Context, key string) (IdempotencyKey, error) {
	var i IdempotencyKey
	err := q.db.QueryRow(ctx, getIdempotencyKey, key).Scan(&i.IdempotencyKey, &i.RequestHash, &i.ResponseStatus, &i.ResponseBody, &i.ContentType, &i.InProgress)
	return i, err
}

type ReserveIdempotencyKeyParams struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
}

const reserveIdempotencyKey = `INSERT INTO idempotency_keys (idempotency_key, request_hash, method, path)
VALUES ($1, $2, $3, $4)
ON CONFLICT (idempotency_key) DO NOTHING
RETURNING idempotency_key`

// ReserveIdempotencyKey returns pgx.ErrNoRows when the key is already taken.
func (q *Queries) ReserveIdempotencyKey(ctx context.Context, arg ReserveIdempotencyKeyParams) (string, error) {
	var key string
	err := q.db.QueryRow(ctx, reserveIdempotencyKey, arg.IdempotencyKey, arg.RequestHash, arg.Method, arg.Path).Scan(&key)
	return key, err
}

type FinalizeIdempotencyKeyParams struct {
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	IdempotencyKey string
	RequestHash    string
}

const finalizeIdempotencyKey = `UPDATE idempotency_keys SET
	response_status = $1,
	response_body = $2,
	content_type = $3,
	in_progress = FALSE,
	updated_at = NOW()
WHERE idempotency_key = $4 AND request_hash = $5
RETURNING idempotency_key, request_hash, response_status, response_body, content_type, in_progress`

func (q *Queries) FinalizeIdempotencyKey(ctx context.Context, arg FinalizeIdempotencyKeyParams) (IdempotencyKey, error) {
	var i IdempotencyKey
	err := q.db.QueryRow(ctx, finalizeIdempotencyKey, arg.ResponseStatus, arg.ResponseBody, arg.ContentType, arg.IdempotencyKey, arg.RequestHash).
		Scan(&i.IdempotencyKey, &i.RequestHash, &i.ResponseStatus, &i.ResponseBody, &i.ContentType, &i.InProgress)
	return i, err
}

const deleteIdempotencyKey = `DELETE FROM idempotency_keys WHERE idempotency_key = $1 AND in_progress`

// DeleteIdempotencyKey releases a reservation whose handler never produced a response.
func (q *Queries) DeleteIdempotencyKey(ctx context.Context, key string) error {
	_, err := q.db.Exec(ctx, deleteIdempotencyKey, key)
	return err
}
