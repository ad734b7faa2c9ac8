package activitymap_test

import (
	"context"
	"testing"
	"time"

	gate "github.com/goliatone/go-auth-gate"
	"github.com/goliatone/go-auth-gate/activitymap"
)

func TestNormalizeDefaults(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC)
	event := gate.ActivityEvent{
		EventType: gate.ActivityEventLoginSuccess,
		ClientID:  "client-7",
		UserID:    "uid-100",
		Email:     " Ana@Example.com ",
		Metadata: map[string]any{
			"method": "password",
		},
		OccurredAt: ts,
	}

	out := activitymap.Normalize(event)

	if out.ActorID != "uid-100" {
		t.Fatalf("expected actor_id uid-100, got %q", out.ActorID)
	}
	if out.Verb != string(gate.ActivityEventLoginSuccess) {
		t.Fatalf("expected verb %q, got %q", gate.ActivityEventLoginSuccess, out.Verb)
	}
	if out.ObjectType != "session" || out.ObjectID != "client-7" {
		t.Fatalf("expected session client-7, got %q %q", out.ObjectType, out.ObjectID)
	}
	if out.Channel != "tourgate" {
		t.Fatalf("expected channel tourgate, got %q", out.Channel)
	}
	if !out.OccurredAt.Equal(ts) {
		t.Fatalf("expected occurred_at %s, got %s", ts, out.OccurredAt)
	}
	if out.Metadata["method"] != "password" {
		t.Fatalf("expected method metadata to survive, got %#v", out.Metadata)
	}
	if out.Metadata[activitymap.MetadataKeyEmail] != "ana@example.com" {
		t.Fatalf("expected normalized email, got %#v", out.Metadata[activitymap.MetadataKeyEmail])
	}
	if event.Metadata[activitymap.MetadataKeyEmail] != nil {
		t.Fatalf("source metadata must not be modified")
	}
}

func TestNormalizeActorFallbacks(t *testing.T) {
	t.Parallel()

	byEmail := activitymap.Normalize(gate.ActivityEvent{
		EventType: gate.ActivityEventLoginFailure,
		Email:     "ghost@example.com",
	})
	if byEmail.ActorID != "ghost@example.com" {
		t.Fatalf("expected email actor, got %q", byEmail.ActorID)
	}

	anonymous := activitymap.Normalize(gate.ActivityEvent{EventType: gate.ActivityEventForbidden})
	if anonymous.ActorID != "anonymous" {
		t.Fatalf("expected anonymous actor, got %q", anonymous.ActorID)
	}
	if anonymous.Metadata != nil {
		t.Fatalf("expected no metadata, got %#v", anonymous.Metadata)
	}
}

func TestNormalizeOptions(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	out := activitymap.Normalize(
		gate.ActivityEvent{EventType: gate.ActivityEventLogout, ClientID: "c1"},
		activitymap.WithChannel("audit"),
		activitymap.WithObjectType("browser"),
		activitymap.WithClock(func() time.Time { return fixed }),
	)

	if out.Channel != "audit" || out.ObjectType != "browser" {
		t.Fatalf("expected overrides, got %q %q", out.Channel, out.ObjectType)
	}
	if !out.OccurredAt.Equal(fixed) {
		t.Fatalf("expected clock fallback, got %s", out.OccurredAt)
	}
}

func TestSink(t *testing.T) {
	t.Parallel()

	var got []activitymap.Record
	sink := activitymap.Sink(func(r activitymap.Record) error {
		got = append(got, r)
		return nil
	})

	if err := sink.Record(context.Background(), gate.ActivityEvent{EventType: gate.ActivityEventTokenExpired, ClientID: "c1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Verb != string(gate.ActivityEventTokenExpired) {
		t.Fatalf("expected one token expired record, got %#v", got)
	}
}
