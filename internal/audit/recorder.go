package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"residencial.org/internal/ids"
	"residencial.org/internal/obs"
)

// Entry is a mutation to be recorded.
type Entry struct {
	TableName string
	RecordID  string
	Operation Operation
	Old       any
	New       any
}

// Outcome reports what happened to a best-effort write.
type Outcome struct {
	ID       string
	Recorded bool
	Err      error
}

// Recorder writes audit rows without ever failing the caller's operation.
type Recorder struct {
	store   Store
	logger  *zap.Logger
	now     func() time.Time
	timeout time.Duration
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// WithWriteTimeout bounds a single write.
func WithWriteTimeout(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewRecorder constructs a Recorder. A nil logger is replaced by a no-op one.
func NewRecorder(store Store, logger *zap.Logger, opts ...Option) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recorder{
		store:   store,
		logger:  logger,
		now:     time.Now,
		timeout: 3 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record persists e. Failures are logged and returned in the Outcome only.
// The write is detached from ctx cancellation so an aborted request still leaves a trail.
func (r *Recorder) Record(ctx context.Context, e Entry) Outcome {
	meta := MetaFromContext(ctx)
	row, err := r.build(e, meta)
	if err != nil {
		return r.fail(e, meta, err)
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if err := r.store.Insert(wctx, row); err != nil {
		return r.fail(e, meta, err)
	}
	obs.ObserveAuditWrite(true)
	return Outcome{ID: row.ID, Recorded: true}
}

func (r *Recorder) build(e Entry, meta Meta) (*Log, error) {
	if strings.TrimSpace(e.TableName) == "" || strings.TrimSpace(e.RecordID) == "" {
		return nil, errors.New("table name and record id are required")
	}
	if !e.Operation.Valid() {
		return nil, fmt.Errorf("unknown operation %q", e.Operation)
	}
	oldMap, oldRaw, err := toMap(e.Old)
	if err != nil {
		return nil, fmt.Errorf("encode old values: %w", err)
	}
	newMap, newRaw, err := toMap(e.New)
	if err != nil {
		return nil, fmt.Errorf("encode new values: %w", err)
	}
	changed := ChangedFields(oldMap, newMap)
	if changed == nil {
		changed = []string{}
	}
	return &Log{
		ID:            ids.New(),
		TableName:     e.TableName,
		RecordID:      e.RecordID,
		Operation:     e.Operation,
		OldValues:     oldRaw,
		NewValues:     newRaw,
		ChangedFields: changed,
		UserID:        meta.ActorID,
		IPAddress:     meta.IPAddress,
		UserAgent:     meta.UserAgent,
		CreatedAt:     r.now().UTC(),
	}, nil
}

func (r *Recorder) fail(e Entry, meta Meta, err error) Outcome {
	obs.ObserveAuditWrite(false)
	r.logger.Warn("audit write failed",
		zap.String("table_name", e.TableName),
		zap.String("record_id", e.RecordID),
		zap.String("operation", string(e.Operation)),
		zap.String("actor_id", meta.ActorID),
		zap.String("request_id", meta.RequestID),
		zap.Error(err),
	)
	return Outcome{Err: err}
}

// List returns one page of audit rows matching f.
func (r *Recorder) List(ctx context.Context, f Filter) (Page, error) {
	f = f.Normalize()
	items, total, err := r.store.List(ctx, f)
	if err != nil {
		return Page{}, fmt.Errorf("list audit logs: %w", err)
	}
	if items == nil {
		items = []Log{}
	}
	pages := 0
	if total > 0 {
		pages = (total + f.Limit - 1) / f.Limit
	}
	return Page{Items: items, Total: total, Page: f.Page, Limit: f.Limit, Pages: pages}, nil
}

// ErrInvalidRetention is returned by Clean for a non-positive day count.
var ErrInvalidRetention = errors.New("audit: days must be at least 1")

// Clean deletes rows created before now minus days and reports how many went.
func (r *Recorder) Clean(ctx context.Context, days int) (int64, error) {
	if days < 1 {
		return 0, ErrInvalidRetention
	}
	cutoff := r.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	n, err := r.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("clean audit logs: %w", err)
	}
	r.logger.Info("audit logs cleaned", zap.Int("days", days), zap.Int64("deleted", n))
	return n, nil
}
