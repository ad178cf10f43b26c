package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/hermes-tts/internal/audiocache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// AudioStore is the cache the Resolver reads from and populates.
type AudioStore interface {
	Exists(ctx context.Context, key audiocache.Key) bool
	Read(key audiocache.Key) ([]byte, error)
	Write(ctx context.Context, key audiocache.Key, compressed []byte) (string, error)
}

// Resolver returns playable audio for a voice and text, synthesizing it only
// when the cache has no entry. Concurrent misses for the same key share a
// single synthesis call.
type Resolver struct {
	synth   Synthesizer
	store   AudioStore
	timeout time.Duration
	group   singleflight.Group
	logger  *slog.Logger
	tracer  trace.Tracer
	calls   metric.Int64Counter
	latency metric.Float64Histogram
}

// NewResolver wires a synthesizer to a store. A zero timeout leaves remote
// calls bounded only by ctx.
func NewResolver(synth Synthesizer, store AudioStore, timeout time.Duration, log *slog.Logger) (*Resolver, error) {
	meter := otel.Meter("github.com/loqalabs/hermes-tts/tts")
	calls, err := meter.Int64Counter("hermes_tts.synthesis.calls", metric.WithDescription("Remote synthesis calls"))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("hermes_tts.synthesis.duration", metric.WithUnit("s"), metric.WithDescription("Remote synthesis latency"))
	if err != nil {
		return nil, err
	}
	return &Resolver{
		synth:   synth,
		store:   store,
		timeout: timeout,
		logger:  log.With(slog.String("component", "tts-resolver")),
		tracer:  otel.Tracer("github.com/loqalabs/hermes-tts/tts"),
		calls:   calls,
		latency: latency,
	}, nil
}

func (r *Resolver) ResolveAudio(ctx context.Context, voice, text string) ([]byte, error) {
	key := audiocache.DeriveKey(voice, text)
	ctx, span := r.tracer.Start(ctx, "tts.resolve", trace.WithAttributes(
		attribute.String("tts.voice", voice),
		attribute.String("tts.cache_key", string(key)),
	))
	defer span.End()

	if r.store.Exists(ctx, key) {
		data, err := r.store.Read(key)
		if err == nil {
			span.SetAttributes(attribute.Bool("tts.cache_hit", true))
			r.logger.Debug("using cached audio", slog.String("key", string(key)))
			return data, nil
		}
		r.logger.Warn("cached audio unreadable, synthesizing again", slog.String("key", string(key)), slogError(err))
	}
	span.SetAttributes(attribute.Bool("tts.cache_hit", false))

	v, err, shared := r.group.Do(string(key), func() (interface{}, error) {
		return r.synthesize(ctx, key, voice, text)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if shared {
		r.logger.Debug("joined in-flight synthesis", slog.String("key", string(key)))
	}
	return v.([]byte), nil
}

func (r *Resolver) synthesize(ctx context.Context, key audiocache.Key, voice, text string) ([]byte, error) {
	// A flight that finished between our miss and this call already wrote it.
	if data, err := r.store.Read(key); err == nil {
		return data, nil
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	r.logger.Info("cached file not found, synthesizing", slog.String("key", string(key)), slog.String("voice", voice))
	ctx, span := r.tracer.Start(ctx, "tts.synthesize")
	start := time.Now()
	compressed, err := r.synth.Synthesize(ctx, SynthRequest{Text: text, Voice: voice, Format: FormatMP3})
	r.latency.Record(ctx, time.Since(start).Seconds())
	r.calls.Add(ctx, 1, metric.WithAttributes(attribute.Bool("error", err != nil)))
	span.End()
	if err != nil {
		if !errors.Is(err, ErrSynthesisFailed) {
			err = NewSynthesisError("backend", voice, err)
		}
		return nil, err
	}

	if _, err := r.store.Write(ctx, key, compressed); err != nil {
		return nil, fmt.Errorf("store %s: %w", key, err)
	}
	data, err := r.store.Read(key)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
