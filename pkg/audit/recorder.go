package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/acesso/pkg/contextkeys"
)

// Recorder appends audit entries
type Recorder interface {
	Record(ctx context.Context, entry *Entry) error
}

// Querier reads audit entries
type Querier interface {
	Query(ctx context.Context, filter Filter) ([]*Entry, error)
	Get(ctx context.Context, id string) (*Entry, error)
}

// RecorderFunc adapts a function to Recorder
type RecorderFunc func(ctx context.Context, entry *Entry) error

// Record calls f
func (f RecorderFunc) Record(ctx context.Context, entry *Entry) error {
	return f(ctx, entry)
}

// NopRecorder discards entries
type NopRecorder struct{}

// Record discards the entry
func (NopRecorder) Record(context.Context, *Entry) error { return nil }

// WithOrigin stores the request origin in the context
func WithOrigin(ctx context.Context, origin Origin) context.Context {
	return context.WithValue(ctx, contextkeys.OriginKey, origin)
}

// OriginFromContext returns the request origin, zero when unknown
func OriginFromContext(ctx context.Context) Origin {
	origin, _ := ctx.Value(contextkeys.OriginKey).(Origin)
	return origin
}

// WithActor stores the actor entries recorded during a request are attributed to
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, contextkeys.AuditActorKey, actor)
}

// ActorFromContext returns the actor set by WithActor
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(contextkeys.AuditActorKey).(Actor)
	return actor, ok
}

// ActorOrEmpty returns the actor set by WithActor or the zero Actor
func ActorOrEmpty(ctx context.Context) Actor {
	actor, _ := ActorFromContext(ctx)
	return actor
}

// prepare fills the fields a recorder owns. It only sets empty fields so
// every sink of a fan-out sees the same id and timestamp.
func prepare(ctx context.Context, entry *Entry, now func() time.Time) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = now().UTC()
	}
	if entry.IPAddress == "" && entry.UserAgent == "" {
		origin := OriginFromContext(ctx)
		entry.IPAddress = origin.IPAddress
		entry.UserAgent = origin.UserAgent
	}
}
