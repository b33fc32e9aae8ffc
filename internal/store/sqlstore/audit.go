package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"residencial.org/internal/audit"
)

// AuditLogs stores audit rows.
type AuditLogs struct {
	db *DB
}

var _ audit.Store = (*AuditLogs)(nil)

// NewAuditLogs returns the audit repository.
func NewAuditLogs(db *DB) *AuditLogs {
	return &AuditLogs{db: db}
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// Insert appends one row.
func (a *AuditLogs) Insert(ctx context.Context, e *audit.Log) error {
	changed, err := json.Marshal(e.ChangedFields)
	if err != nil {
		return err
	}
	if e.ChangedFields == nil {
		changed = []byte("[]")
	}
	_, err = a.db.ExecContext(ctx, a.db.Rebind(`
		INSERT INTO audit_logs (id, table_name, record_id, operation, old_values, new_values, changed_fields,
			user_id, ip_address, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		e.ID, e.TableName, e.RecordID, string(e.Operation), nullableJSON(e.OldValues), nullableJSON(e.NewValues),
		string(changed), nullIfEmpty(e.UserID), e.IPAddress, e.UserAgent, e.CreatedAt.UTC())
	return err
}

// List returns a page of rows, newest first, plus the total match count.
func (a *AuditLogs) List(ctx context.Context, f audit.Filter) ([]audit.Log, int, error) {
	f = f.Normalize()
	var (
		where []string
		args  []any
	)
	if f.TableName != "" {
		where = append(where, "table_name = ?")
		args = append(args, f.TableName)
	}
	if f.Operation != "" {
		where = append(where, "operation = ?")
		args = append(args, string(f.Operation))
	}
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.CreatedAfter != nil {
		where = append(where, "created_at >= ?")
		args = append(args, f.CreatedAfter.UTC())
	}
	if f.CreatedBefore != nil {
		where = append(where, "created_at < ?")
		args = append(args, f.CreatedBefore.UTC())
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := a.db.QueryRowContext(ctx, a.db.Rebind(`SELECT COUNT(*) FROM audit_logs`+clause), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit logs: %w", err)
	}

	query := `SELECT id, table_name, record_id, operation, old_values, new_values, changed_fields,
		user_id, ip_address, user_agent, created_at
		FROM audit_logs` + clause + ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := a.db.QueryContext(ctx, a.db.Rebind(query), append(args, f.Limit, f.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	var out []audit.Log
	for rows.Next() {
		var (
			l                audit.Log
			op               string
			oldVals, newVals sql.NullString
			changed          string
			userID           sql.NullString
		)
		if err := rows.Scan(&l.ID, &l.TableName, &l.RecordID, &op, &oldVals, &newVals, &changed,
			&userID, &l.IPAddress, &l.UserAgent, &l.CreatedAt); err != nil {
			return nil, 0, err
		}
		l.Operation = audit.Operation(op)
		if oldVals.Valid {
			l.OldValues = json.RawMessage(oldVals.String)
		}
		if newVals.Valid {
			l.NewValues = json.RawMessage(newVals.String)
		}
		l.ChangedFields = []string{}
		if changed != "" {
			if err := json.Unmarshal([]byte(changed), &l.ChangedFields); err != nil {
				return nil, 0, fmt.Errorf("decode changed_fields: %w", err)
			}
		}
		l.UserID = userID.String
		l.CreatedAt = l.CreatedAt.UTC()
		out = append(out, l)
	}
	return out, total, rows.Err()
}

// DeleteBefore removes rows created strictly before the cutoff.
func (a *AuditLogs) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := a.db.ExecContext(ctx, a.db.Rebind(`DELETE FROM audit_logs WHERE created_at < ?`), before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
