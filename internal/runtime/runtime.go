package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/hermes-tts/internal/audiocache"
	"github.com/loqalabs/hermes-tts/internal/bus"
	"github.com/loqalabs/hermes-tts/internal/config"
	"github.com/loqalabs/hermes-tts/internal/convert"
	"github.com/loqalabs/hermes-tts/internal/correlation"
	"github.com/loqalabs/hermes-tts/internal/eventstore"
	"github.com/loqalabs/hermes-tts/internal/hermes"
	"github.com/loqalabs/hermes-tts/internal/natsserver"
	"github.com/loqalabs/hermes-tts/internal/tts"
)

type Runtime struct {
	cfg        config.Config
	logger     *slog.Logger
	httpServer *http.Server
	telemetry  *telemetry
	embedded   *natsserver.EmbeddedServer
	bus        bus.Client
	events     *eventstore.Store
	service    *hermes.Service
	ready      atomic.Bool
	wg         sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start wires every component, serves until ctx is cancelled and then shuts
// down in reverse order. Errors during wiring abort startup.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tel, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetry = tel
	defer r.closeTelemetry()

	if err := r.startBus(ctx); err != nil {
		return err
	}
	defer r.closeBus()

	if err := r.startService(ctx); err != nil {
		return err
	}
	defer r.closeEvents()
	defer r.service.Close()

	if r.cfg.HTTP.Enabled {
		r.startHTTP(tel.metrics)
	}

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("transport", r.cfg.Bus.Transport),
		slog.String("tts_mode", r.cfg.TTS.Mode),
		slog.String("cache_dir", r.cfg.Cache.Directory))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	if r.httpServer != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slogError(err))
		}
	}
	r.wg.Wait()
	return nil
}

func (r *Runtime) startBus(ctx context.Context) error {
	busCfg := r.cfg.Bus
	es, err := natsserver.Start(busCfg, r.logger.With(slog.String("component", "natsserver")))
	if err != nil {
		return fmt.Errorf("start embedded broker: %w", err)
	}
	r.embedded = es
	if es != nil {
		busCfg.Servers = []string{es.ClientURL()}
	}

	client, err := bus.Connect(ctx, busCfg, r.logger.With(slog.String("component", "bus")))
	if err != nil {
		r.embedded.Shutdown()
		return err
	}
	r.bus = client
	return nil
}

func (r *Runtime) startService(ctx context.Context) error {
	events, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger.With(slog.String("component", "eventstore")))
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	r.events = events

	converter, err := convert.New(r.cfg.Converter)
	if err != nil {
		r.closeEvents()
		return fmt.Errorf("build converter: %w", err)
	}
	cache, err := audiocache.New(r.cfg.Cache.Directory, converter, r.logger)
	if err != nil {
		r.closeEvents()
		return fmt.Errorf("open audio cache: %w", err)
	}
	synth, err := tts.New(ctx, r.cfg.TTS)
	if err != nil {
		r.closeEvents()
		return fmt.Errorf("build synthesizer: %w", err)
	}
	timeout := time.Duration(r.cfg.TTS.TimeoutMS) * time.Millisecond
	resolver, err := tts.NewResolver(synth, cache, timeout, r.logger)
	if err != nil {
		r.closeEvents()
		return fmt.Errorf("build resolver: %w", err)
	}

	r.service = hermes.NewService(ctx, r.cfg.TTS, r.bus, resolver, correlation.NewTable(), events, r.logger)
	if err := r.service.Start(); err != nil {
		r.closeEvents()
		return fmt.Errorf("start hermes service: %w", err)
	}
	return nil
}

func (r *Runtime) startHTTP(metricsHandler http.Handler) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slogError(err))
		}
	}()
	r.logger.Info("http listening", slog.String("addr", addr))
}

func (r *Runtime) closeBus() {
	if r.bus != nil {
		r.bus.Close()
	}
	r.embedded.Shutdown()
}

func (r *Runtime) closeEvents() {
	if r.events == nil {
		return
	}
	if err := r.events.Close(); err != nil {
		r.logger.Error("event store close error", slogError(err))
	}
	r.events = nil
}

func (r *Runtime) closeTelemetry() {
	if r.telemetry == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.telemetry.Shutdown(ctx); err != nil {
		r.logger.Error("telemetry shutdown error", slogError(err))
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.isReady() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) isReady() bool {
	if !r.ready.Load() {
		return false
	}
	if r.bus == nil || !r.bus.Healthy() {
		return false
	}
	return r.service != nil && r.service.Healthy()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
