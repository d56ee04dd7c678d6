package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

type InsertAuditLogParams struct {
	EntityType string
	EntityID   pgtype.UUID
	ActorID    pgtype.UUID
	Action     string
	PrevState  *string
	NextState  *string
	Metadata   []byte
}

const insertAuditLog = `INSERT INTO audit_log (entity_type, entity_id, actor_id, action, prev_state, next_state, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id`

func (q *Queries) InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, insertAuditLog, arg.EntityType, arg.EntityID, arg.ActorID, arg.Action, arg.PrevState, arg.NextState, arg.Metadata).Scan(&id)
	return id, err
}

type AuditLogRow struct {
	ID        int64
	Action    string
	PrevState *string
	NextState *string
	Metadata  []byte
}

const listAuditLog = `SELECT id, action, prev_state, next_state, metadata
FROM audit_log WHERE entity_type = $1 AND entity_id = $2 ORDER BY id`

func (q *Queries) ListAuditLog(ctx context.Context, entityType string, entityID pgtype.UUID) ([]AuditLogRow, error) {
	rows, err := q.db.Query(ctx, listAuditLog, entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AuditLogRow
	for rows.Next() {
		var r AuditLogRow
		if err := rows.Scan(&r.ID, &r.Action, &r.PrevState, &r.NextState, &r.Metadata); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
