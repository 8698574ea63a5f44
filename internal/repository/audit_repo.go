package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"parking_barrier/internal/models"

	"github.com/google/uuid"
)

const (
	insertAuditSQL = `
		INSERT INTO historial (id, user_id, user_email, action, timestamp_ms)
		VALUES (?, ?, ?, ?, ?)
	`
	selectAuditByUserSQL = `
		SELECT id, user_id, user_email, action, timestamp_ms
		FROM historial WHERE user_id = ?
		ORDER BY timestamp_ms DESC, rowid DESC
		LIMIT ?
	`

	defaultHistoryLimit = 100
)

var errEmptyUserID = errors.New("audit record requires a user id")

type AuditSQLite struct {
	db *sql.DB
}

func NewAuditSQLite(db *sql.DB) *AuditSQLite { return &AuditSQLite{db: db} }

var _ AuditRepo = (*AuditSQLite)(nil)

// Append inserts one record. If ID or TimestampMillis are empty, they’re set.
func (r *AuditSQLite) Append(ctx context.Context, rec models.AuditRecord) error {
	if strings.TrimSpace(rec.UserID) == "" {
		return errEmptyUserID
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.TimestampMillis == 0 {
		rec.TimestampMillis = time.Now().UnixMilli()
	}

	_, err := r.db.ExecContext(ctx, insertAuditSQL,
		rec.ID,
		rec.UserID,
		rec.UserEmail,
		rec.Action,
		rec.TimestampMillis,
	)
	return err
}

// ListByUser returns the user's records newest first. limit <= 0 means the default.
func (r *AuditSQLite) ListByUser(ctx context.Context, userID string, limit int) ([]models.AuditRecord, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx, selectAuditByUserSQL, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.AuditRecord, 0, 16)
	for rows.Next() {
		var rec models.AuditRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.UserEmail, &rec.Action, &rec.TimestampMillis); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
