// Package activitymap flattens gate activity events into a record shape
// that log pipelines and audit stores can ingest without knowing the gate
// types.
package activitymap

import (
	"context"
	"maps"
	"strings"
	"time"

	gate "github.com/goliatone/go-auth-gate"
)

const (
	// MetadataKeyEmail carries the email of the event when there is one
	MetadataKeyEmail = "email"
	// MetadataKeyClient carries the browser client id
	MetadataKeyClient = "client_id"
)

const (
	defaultChannel    = "tourgate"
	defaultObjectType = "session"
	anonymousActor    = "anonymous"
)

// Record is the normalized activity shape.
type Record struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization.
type Option func(*options)

type options struct {
	channel    string
	objectType string
	now        func() time.Time
}

// WithChannel overrides the record channel
func WithChannel(channel string) Option {
	return func(o *options) {
		o.channel = strings.TrimSpace(channel)
	}
}

// WithObjectType overrides the record object type
func WithObjectType(objectType string) Option {
	return func(o *options) {
		o.objectType = strings.TrimSpace(objectType)
	}
}

// WithClock sets the clock used when the event has no timestamp
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// Normalize converts event. The actor is the user id, then the email, then
// "anonymous". The object is the client session the event happened on.
func Normalize(event gate.ActivityEvent, opts ...Option) Record {
	o := options{
		channel:    defaultChannel,
		objectType: defaultObjectType,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	email := strings.ToLower(strings.TrimSpace(event.Email))
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = o.now()
	}

	return Record{
		ActorID:    firstNonEmpty(strings.TrimSpace(event.UserID), email, anonymousActor),
		Verb:       string(event.EventType),
		ObjectType: o.objectType,
		ObjectID:   strings.TrimSpace(event.ClientID),
		Channel:    o.channel,
		Metadata:   metadata(event, email),
		OccurredAt: occurredAt.UTC(),
	}
}

// Sink returns a gate.ActivitySink that normalizes every event before
// handing it to emit.
func Sink(emit func(Record) error, opts ...Option) gate.ActivitySink {
	return gate.ActivitySinkFunc(func(_ context.Context, event gate.ActivityEvent) error {
		return emit(Normalize(event, opts...))
	})
}

func metadata(event gate.ActivityEvent, email string) map[string]any {
	var out map[string]any
	if len(event.Metadata) > 0 {
		out = maps.Clone(event.Metadata)
	}

	set := func(key, value string) {
		if value == "" {
			return
		}
		if out == nil {
			out = map[string]any{}
		}
		if _, exists := out[key]; !exists {
			out[key] = value
		}
	}
	set(MetadataKeyEmail, email)
	set(MetadataKeyClient, strings.TrimSpace(event.ClientID))

	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
