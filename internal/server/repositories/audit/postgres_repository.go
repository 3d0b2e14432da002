package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/complyscan/scanstore/internal/dbx"
	"github.com/complyscan/scanstore/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Append(ctx context.Context, entry *models.AuditLogEntry) error {

	details := entry.Details
	if details == nil {
		details = map[string]string{}
	}
	blob, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}

	query := `INSERT INTO audit_log (log_id, username, action, timestamp, details)
		VALUES ($1, $2, $3, $4, $5)`

	_, err = r.db.ExecContext(ctx, query,
		entry.LogID, entry.Username, entry.Action, entry.Timestamp, blob)
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}

	return nil
}

func (r *PostgresRepository) SelectRecent(ctx context.Context, limit int) ([]*models.AuditLogEntry, error) {

	query := `SELECT log_id, username, action, timestamp, details
		FROM audit_log ORDER BY timestamp DESC LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditLogEntry
	for rows.Next() {
		entry := &models.AuditLogEntry{}
		var blob []byte
		if err := rows.Scan(&entry.LogID, &entry.Username, &entry.Action, &entry.Timestamp, &blob); err != nil {
			return nil, fmt.Errorf("error scanning row: %w", err)
		}
		if len(blob) > 0 {
			if err := json.Unmarshal(blob, &entry.Details); err != nil {
				return nil, fmt.Errorf("unmarshal details: %w", err)
			}
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return entries, nil
}

// DeleteOlderThan enforces the retention policy, the only permitted removal
// from the audit log.
func (r *PostgresRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {

	query := `DELETE FROM audit_log WHERE timestamp < $1`

	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("error performing sql request: %w", err)
	}
	return res.RowsAffected()
}
