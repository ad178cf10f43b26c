package eventstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/hermes-tts/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	es, err := Open(ctx, config.EventStoreConfig{RetentionMode: "ephemeral"}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if err := es.Append(ctx, Event{RequestID: "r1", Type: TypeSayReceived}); err != nil {
		t.Fatalf("append: %v", err)
	}
	events, err := es.ListRequestEvents(ctx, "r1", 10)
	if err != nil || len(events) != 0 {
		t.Fatalf("expected nothing stored, got %v, %v", events, err)
	}
}

func TestAppendAndQuery(t *testing.T) {
	cfg := config.EventStoreConfig{Path: filepath.Join(t.TempDir(), "events.db"), RetentionMode: "persistent"}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	ctx := context.Background()
	steps := []Event{
		{RequestID: "r1", SessionID: "s1", SiteID: "kitchen", Type: TypeSayReceived, Detail: "hello"},
		{RequestID: "r1", SiteID: "kitchen", PlaybackID: "p1", Type: TypePlaybackIssued},
		{RequestID: "r1", PlaybackID: "p1", Type: TypeSayFinished},
		{RequestID: "r2", Type: TypeSayReceived},
	}
	for _, e := range steps {
		if err := es.Append(ctx, e); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}
	events, err := es.ListRequestEvents(ctx, "r1", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Type != TypeSayReceived || events[0].Detail != "hello" || events[0].SessionID != "s1" {
		t.Fatalf("unexpected first event %+v", events[0])
	}
	if events[2].Type != TypeSayFinished || events[2].PlaybackID != "p1" {
		t.Fatalf("unexpected last event %+v", events[2])
	}
}

func TestPruneByDays(t *testing.T) {
	cfg := config.EventStoreConfig{Path: filepath.Join(t.TempDir(), "events.db"), RetentionMode: "persistent", RetentionDays: 1}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	ctx := context.Background()

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.Append(ctx, Event{RequestID: "old", Type: TypeSayReceived}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.Append(ctx, Event{RequestID: "new", Type: TypeSayReceived}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	if events, _ := es.ListRequestEvents(ctx, "old", 10); len(events) != 0 {
		t.Fatalf("expected old request pruned")
	}
	if events, _ := es.ListRequestEvents(ctx, "new", 10); len(events) != 1 {
		t.Fatalf("expected new request kept")
	}
}
