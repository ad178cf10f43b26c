package natsserver

import (
	"io"
	"log/slog"
	"testing"

	"github.com/loqalabs/hermes-tts/internal/config"
)

func TestStartDisabled(t *testing.T) {
	es, err := Start(config.BusConfig{Embedded: false}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if es != nil {
		t.Fatal("expected nil server when embedded mode is off")
	}
	// nil receiver is safe
	es.Shutdown()
}

func TestStartEmbedded(t *testing.T) {
	cfg := config.BusConfig{
		Embedded: true,
		ClientID: "hermes-tts-test",
		Port:     -1,
		StoreDir: t.TempDir(),
	}
	es, err := Start(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("start embedded server: %v", err)
	}
	defer es.Shutdown()
	if es.ClientURL() == "" {
		t.Fatal("expected client url")
	}
}
