// Package audit records and queries the append-only change log.
package audit

import (
	"context"
	"encoding/json"
	"time"
)

// Operation is the kind of mutation being recorded.
type Operation string

const (
	OpCreate  Operation = "CREATE"
	OpUpdate  Operation = "UPDATE"
	OpDelete  Operation = "DELETE"
	OpRestore Operation = "RESTORE"
)

// Operations lists every accepted operation.
var Operations = []Operation{OpCreate, OpUpdate, OpDelete, OpRestore}

// Valid reports whether op is a known operation.
func (op Operation) Valid() bool {
	for _, known := range Operations {
		if op == known {
			return true
		}
	}
	return false
}

// Log is one persisted audit row.
type Log struct {
	ID            string          `json:"id"`
	TableName     string          `json:"table_name"`
	RecordID      string          `json:"record_id"`
	Operation     Operation       `json:"operation"`
	OldValues     json.RawMessage `json:"old_values,omitempty"`
	NewValues     json.RawMessage `json:"new_values,omitempty"`
	ChangedFields []string        `json:"changed_fields"`
	UserID        string          `json:"user_id,omitempty"`
	IPAddress     string          `json:"ip_address,omitempty"`
	UserAgent     string          `json:"user_agent,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Filter narrows List results. Zero fields are ignored. CreatedAfter is
// inclusive and CreatedBefore exclusive.
type Filter struct {
	TableName     string
	Operation     Operation
	UserID        string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Page          int
	Limit         int
}

// Normalize clamps paging to sane bounds.
func (f Filter) Normalize() Filter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	return f
}

// Offset is the row offset of the requested page.
func (f Filter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// Page is a slice of audit rows plus paging metadata.
type Page struct {
	Items []Log `json:"items"`
	Total int   `json:"total"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Pages int   `json:"pages"`
}

// Store persists audit rows.
type Store interface {
	Insert(ctx context.Context, entry *Log) error
	List(ctx context.Context, f Filter) ([]Log, int, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
