package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"lumen/core"
	"lumen/metrics"
)

// AuditStorage is the append-only sink for mutation records. Entries are
// written after the business transaction has committed: a failed audit write
// is logged and counted but never rolls the mutation back.
type AuditStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewAuditStorage creates the audit log storage.
func NewAuditStorage(sqlite *SQLite, logger *zap.SugaredLogger) *AuditStorage {
	return &AuditStorage{
		sqlite: sqlite,
		logger: logger,
	}
}

// Append writes one audit entry.
func (as *AuditStorage) Append(ctx context.Context, entry *core.AuditEntry) error {
	if entry == nil {
		return fmt.Errorf("audit entry cannot be nil")
	}
	if entry.Action == "" {
		return fmt.Errorf("action is required")
	}
	if entry.TableName == "" {
		return fmt.Errorf("table_name is required")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	var userID interface{}
	if entry.UserID != "" {
		userID = entry.UserID
	}

	query := `
		INSERT INTO audit_log (user_id, action, table_name, record_id, old_values, new_values, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := as.sqlite.DB.ExecContext(ctx, query,
		userID,
		entry.Action,
		entry.TableName,
		entry.RecordID,
		entry.OldValues,
		entry.NewValues,
		entry.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}

	entry.ID, _ = result.LastInsertId()
	return nil
}

// Record appends an audit entry for an already-committed mutation. Failures
// are logged and counted, never propagated: the business transaction has
// committed and must not be rolled back by a log write.
func (as *AuditStorage) Record(ctx context.Context, userID, action, table, recordID, oldValues, newValues string) {
	entry := &core.AuditEntry{
		UserID:    userID,
		Action:    action,
		TableName: table,
		RecordID:  recordID,
		OldValues: oldValues,
		NewValues: newValues,
	}
	if err := as.Append(ctx, entry); err != nil {
		metrics.AuditWriteFailures.Inc()
		as.logger.Errorw("Audit write failed",
			"action", action,
			"table", table,
			"record_id", recordID,
			"error", err)
	}
}

// List returns audit entries newest-first.
func (as *AuditStorage) List(ctx context.Context, limit, offset int) ([]*core.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, user_id, action, table_name, record_id, old_values, new_values, created_at
		FROM audit_log
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := as.sqlite.ReadDB.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []*core.AuditEntry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log: %w", err)
	}

	return entries, nil
}

// ListByRecord returns the audit trail for one record, newest-first.
func (as *AuditStorage) ListByRecord(ctx context.Context, table, recordID string) ([]*core.AuditEntry, error) {
	query := `
		SELECT id, user_id, action, table_name, record_id, old_values, new_values, created_at
		FROM audit_log
		WHERE table_name = ? AND record_id = ?
		ORDER BY created_at DESC, id DESC
	`

	rows, err := as.sqlite.ReadDB.QueryContext(ctx, query, table, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []*core.AuditEntry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log: %w", err)
	}

	return entries, nil
}

func scanAuditEntry(rows *sql.Rows) (*core.AuditEntry, error) {
	var entry core.AuditEntry
	var userID sql.NullString
	var createdAt string

	err := rows.Scan(
		&entry.ID,
		&userID,
		&entry.Action,
		&entry.TableName,
		&entry.RecordID,
		&entry.OldValues,
		&entry.NewValues,
		&createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit entry: %w", err)
	}

	if userID.Valid {
		entry.UserID = userID.String
	}
	entry.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	return &entry, nil
}
