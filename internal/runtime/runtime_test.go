package runtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/loqalabs/hermes-tts/internal/bus"
	"github.com/loqalabs/hermes-tts/internal/config"
	"github.com/loqalabs/hermes-tts/internal/correlation"
	"github.com/loqalabs/hermes-tts/internal/hermes"
)

type nopResolver struct{}

func (nopResolver) ResolveAudio(context.Context, string, string) ([]byte, error) {
	return nil, nil
}

func TestReadyReflectsComponents(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := New(config.Default(), logger)

	check := func(want int) {
		t.Helper()
		rec := httptest.NewRecorder()
		r.handleReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		if rec.Code != want {
			t.Fatalf("expected status %d, got %d", want, rec.Code)
		}
	}

	check(http.StatusServiceUnavailable)

	mem := bus.NewMemory()
	r.bus = mem
	r.service = hermes.NewService(context.Background(), config.Default().TTS, mem, nopResolver{}, correlation.NewTable(), nil, logger)
	if err := r.service.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	r.ready.Store(true)
	check(http.StatusOK)

	mem.Close()
	check(http.StatusServiceUnavailable)
}

func TestHealthAlwaysOK(t *testing.T) {
	r := New(config.Default(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	rec := httptest.NewRecorder()
	r.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestStartFailsWithoutBroker(t *testing.T) {
	cfg := config.Default()
	cfg.HTTP.Enabled = false
	cfg.Bus.Transport = "nats"
	cfg.Bus.Servers = []string{"nats://127.0.0.1:1"}
	cfg.Bus.ConnectTimeout = 200
	cfg.EventStore.RetentionMode = "ephemeral"
	cfg.TTS.Mode = "mock"
	cfg.Telemetry.OTLPEndpoint = ""

	r := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	err := r.Start(context.Background())
	if !errors.Is(err, bus.ErrConnect) {
		t.Fatalf("expected ErrConnect, got %v", err)
	}
}
