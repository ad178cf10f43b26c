// Package hermes implements the Hermes TTS protocol: it answers
// hermes/tts/say with playBytes commands and turns the audio server's
// playFinished notifications into hermes/tts/sayFinished.
package hermes

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/hermes-tts/internal/bus"
	"github.com/loqalabs/hermes-tts/internal/config"
	"github.com/loqalabs/hermes-tts/internal/convert"
	"github.com/loqalabs/hermes-tts/internal/correlation"
	"github.com/loqalabs/hermes-tts/internal/eventstore"
	"github.com/loqalabs/hermes-tts/internal/protocol"
	"github.com/loqalabs/hermes-tts/internal/tts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Resolver produces playable audio for a voice and text.
type Resolver interface {
	ResolveAudio(ctx context.Context, voice, text string) ([]byte, error)
}

// Journal records utterance lifecycle events. Failures are logged only.
type Journal interface {
	Append(ctx context.Context, evt eventstore.Event) error
}

type Service struct {
	bus          bus.Client
	resolver     Resolver
	table        *correlation.Table
	journal      Journal
	defaultVoice string
	voices       map[string]string
	newID        func() string
	logger       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	subs   []bus.Subscription

	requests metric.Int64Counter
	dropped  metric.Int64Counter
	failed   metric.Int64Counter
	finished metric.Int64Counter
}

func NewService(parent context.Context, cfg config.TTSConfig, busClient bus.Client, resolver Resolver, table *correlation.Table, journal Journal, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		bus:          busClient,
		resolver:     resolver,
		table:        table,
		journal:      journal,
		defaultVoice: cfg.DefaultVoice,
		voices:       cfg.Voices,
		newID:        uuid.NewString,
		logger:       log.With(slog.String("component", "hermes-tts")),
		ctx:          ctx,
		cancel:       cancel,
	}
	s.setupMetrics(otel.Meter(meterName))
	return s
}

func (s *Service) Start() error {
	sub, err := s.bus.Subscribe(protocol.TopicSay, s.handleSay)
	if err != nil {
		return err
	}
	subFinished, err := s.bus.Subscribe(protocol.TopicPlayFinished, s.handlePlayFinished)
	if err != nil {
		_ = sub.Unsubscribe()
		return err
	}
	s.mu.Lock()
	s.subs = []bus.Subscription{sub, subFinished}
	s.mu.Unlock()
	s.logger.Info("listening for say requests", slog.String("topic", protocol.TopicSay))
	return nil
}

func (s *Service) Close() {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
}

func (s *Service) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs) == 2
}

func (s *Service) handleSay(msg bus.Message) {
	req, err := protocol.DecodeSayRequest(msg.Payload)
	if err != nil {
		s.logger.Warn("dropping say request", slogError(err))
		s.dropped.Add(s.ctx, 1, metric.WithAttributes(attribute.String("topic", protocol.TopicSay)))
		return
	}
	s.requests.Add(s.ctx, 1)

	var sessionID string
	if req.SessionID != nil {
		sessionID = *req.SessionID
	}
	logger := s.logger.With(slog.String("request_id", req.ID), slog.String("site_id", req.SiteID))
	s.record(eventstore.Event{RequestID: req.ID, SessionID: sessionID, SiteID: req.SiteID, Type: eventstore.TypeSayReceived, Detail: req.Text})

	voice := s.voiceFor(req)
	audio, err := s.resolver.ResolveAudio(s.ctx, voice, req.Text)
	if err != nil {
		logger.Warn("say request failed", slog.String("kind", failureKind(err)), slog.String("voice", voice), slogError(err))
		s.failed.Add(s.ctx, 1, metric.WithAttributes(attribute.String("kind", failureKind(err))))
		s.record(eventstore.Event{RequestID: req.ID, SessionID: sessionID, SiteID: req.SiteID, Type: eventstore.TypeSayFailed, Detail: err.Error()})
		return
	}

	playbackID := s.newID()
	entry := correlation.Entry{RequestID: req.ID, SessionID: sessionID, SiteID: req.SiteID, IssuedAt: time.Now().UTC()}
	if !s.table.Record(playbackID, entry) {
		logger.Error("playback id collision", slog.String("playback_id", playbackID))
		s.failed.Add(s.ctx, 1, metric.WithAttributes(attribute.String("kind", "collision")))
		return
	}

	topic := protocol.PlayBytesTopic(req.SiteID, playbackID)
	if err := s.bus.Publish(topic, audio); err != nil {
		s.table.Resolve(playbackID)
		logger.Warn("failed to publish playBytes", slogError(err))
		s.failed.Add(s.ctx, 1, metric.WithAttributes(attribute.String("kind", "publish")))
		s.record(eventstore.Event{RequestID: req.ID, SessionID: sessionID, SiteID: req.SiteID, PlaybackID: playbackID, Type: eventstore.TypeSayFailed, Detail: err.Error()})
		return
	}
	logger.Info("playback issued", slog.String("playback_id", playbackID), slog.Int("bytes", len(audio)))
	s.record(eventstore.Event{RequestID: req.ID, SessionID: sessionID, SiteID: req.SiteID, PlaybackID: playbackID, Type: eventstore.TypePlaybackIssued})
}

func (s *Service) handlePlayFinished(msg bus.Message) {
	evt, err := protocol.DecodePlayFinished(msg.Payload)
	if err != nil {
		s.logger.Warn("dropping playFinished", slog.String("topic", msg.Topic), slogError(err))
		s.dropped.Add(s.ctx, 1, metric.WithAttributes(attribute.String("topic", protocol.TopicPlayFinished)))
		return
	}

	entry, ok := s.table.Resolve(evt.ID)
	if !ok {
		// other audio (dialogue sounds, other TTS) shares this topic
		s.logger.Debug("ignoring playFinished for unknown playback", slog.String("playback_id", evt.ID))
		return
	}

	data, err := json.Marshal(protocol.SayFinished{ID: entry.RequestID})
	if err != nil {
		s.logger.Warn("failed to marshal sayFinished", slogError(err))
		return
	}
	if err := s.bus.Publish(protocol.TopicSayFinished, data); err != nil {
		s.logger.Warn("failed to publish sayFinished", slog.String("request_id", entry.RequestID), slogError(err))
		return
	}
	s.finished.Add(s.ctx, 1)
	s.logger.Info("say finished",
		slog.String("request_id", entry.RequestID),
		slog.String("playback_id", evt.ID),
		slog.Duration("elapsed", time.Since(entry.IssuedAt)))
	s.record(eventstore.Event{RequestID: entry.RequestID, SessionID: entry.SessionID, SiteID: entry.SiteID, PlaybackID: evt.ID, Type: eventstore.TypeSayFinished})
}

func (s *Service) voiceFor(req protocol.SayRequest) string {
	if req.Voice != "" {
		return req.Voice
	}
	if v, ok := s.voices[req.Lang]; ok && req.Lang != "" {
		return v
	}
	return s.defaultVoice
}

func (s *Service) record(evt eventstore.Event) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Append(s.ctx, evt); err != nil {
		s.logger.Warn("failed to journal event", slog.String("type", evt.Type), slogError(err))
	}
}

const meterName = "github.com/loqalabs/hermes-tts/hermes"

// setupMetrics falls back to noop instruments so handlers never see a nil
// counter.
func (s *Service) setupMetrics(meter metric.Meter) {
	if err := s.initMetrics(meter); err != nil {
		s.logger.Warn("failed to initialize metrics", slogError(err))
		_ = s.initMetrics(noop.NewMeterProvider().Meter(meterName))
	}
}

func (s *Service) initMetrics(meter metric.Meter) error {
	var err error
	if s.requests, err = meter.Int64Counter("hermes_tts.say.requests", metric.WithDescription("Accepted say requests")); err != nil {
		return err
	}
	if s.dropped, err = meter.Int64Counter("hermes_tts.events.malformed", metric.WithDescription("Dropped malformed bus events")); err != nil {
		return err
	}
	if s.failed, err = meter.Int64Counter("hermes_tts.say.failed", metric.WithDescription("Say requests that produced no playback")); err != nil {
		return err
	}
	if s.finished, err = meter.Int64Counter("hermes_tts.say.finished", metric.WithDescription("Acknowledged say requests")); err != nil {
		return err
	}
	inflight, err := meter.Int64ObservableGauge("hermes_tts.playback.inflight", metric.WithDescription("Playbacks awaiting playFinished"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		obs.ObserveInt64(inflight, int64(s.table.Len()))
		return nil
	}, inflight)
	return err
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, tts.ErrSynthesisFailed):
		return "synthesis"
	case errors.Is(err, convert.ErrConversionFailed):
		return "conversion"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "cache"
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
