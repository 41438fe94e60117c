package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// AuditEntry is one executed (or attempted) operation in the audit trail.
type AuditEntry struct {
	ID           int64
	Timestamp    time.Time
	TraceID      string
	Actor        string
	Operation    string
	ArgsJSON     sql.NullString
	Result       string
	ErrorMessage sql.NullString
}

// WriteAudit records an operation attempt. args should already be redacted;
// the store serializes it verbatim.
func (s *Store) WriteAudit(ctx context.Context, traceID, actor, operation string, args map[string]string, result, errorMsg string) error {
	var argsJSON sql.NullString
	if len(args) > 0 {
		b, err := json.Marshal(args)
		if err != nil {
			return fmt.Errorf("marshal audit args: %w", err)
		}
		argsJSON = sql.NullString{String: string(b), Valid: true}
	}

	var errNull sql.NullString
	if errorMsg != "" {
		errNull = sql.NullString{String: errorMsg, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (ts, trace_id, actor, operation, args_json, result, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, time.Now(), traceID, actor, operation, argsJSON, result, errNull)
	if err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

// RecentAudit returns the newest audit entries, most recent first.
func (s *Store) RecentAudit(ctx context.Context, limit int) ([]*AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, trace_id, actor, operation, args_json, result, error_message
		FROM audit_log
		ORDER BY ts DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	return collectAudit(rows)
}

// AuditByTrace returns every entry written under one trace ID, oldest first.
func (s *Store) AuditByTrace(ctx context.Context, traceID string) ([]*AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, trace_id, actor, operation, args_json, result, error_message
		FROM audit_log
		WHERE trace_id = ?
		ORDER BY ts ASC
	`, traceID)
	if err != nil {
		return nil, fmt.Errorf("query audit log by trace: %w", err)
	}
	defer rows.Close()

	return collectAudit(rows)
}

func collectAudit(rows *sql.Rows) ([]*AuditEntry, error) {
	var entries []*AuditEntry
	for rows.Next() {
		e := &AuditEntry{}
		if err := rows.Scan(
			&e.ID, &e.Timestamp, &e.TraceID, &e.Actor,
			&e.Operation, &e.ArgsJSON, &e.Result, &e.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit log: %w", err)
	}
	return entries, nil
}
