package audit

import "context"

type metaKey struct{}

// Meta describes who performed a request and from where.
type Meta struct {
	ActorID   string
	IPAddress string
	UserAgent string
	RequestID string
}

// WithMeta attaches request metadata consumed by Recorder.
func WithMeta(ctx context.Context, m Meta) context.Context {
	return context.WithValue(ctx, metaKey{}, m)
}

// WithActor sets the actor on top of whatever metadata is already present.
func WithActor(ctx context.Context, actorID string) context.Context {
	m := MetaFromContext(ctx)
	m.ActorID = actorID
	return WithMeta(ctx, m)
}

// MetaFromContext returns the attached metadata or the zero value.
func MetaFromContext(ctx context.Context) Meta {
	if ctx == nil {
		return Meta{}
	}
	m, _ := ctx.Value(metaKey{}).(Meta)
	return m
}
