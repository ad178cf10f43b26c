package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/loqalabs/hermes-tts/internal/config"
)

// ErrConnect is returned when the broker cannot be reached at startup.
var ErrConnect = errors.New("bus connect failed")

// ErrInvalidTopic is returned when a topic cannot be expressed on the transport.
var ErrInvalidTopic = errors.New("invalid topic")

// Message is a payload delivered on an MQTT-style topic.
type Message struct {
	Topic   string
	Payload []byte
}

// Handler receives messages for a subscription. Handlers may be invoked
// concurrently for different messages.
type Handler func(Message)

type Subscription interface {
	Unsubscribe() error
}

// Client is the publish/subscribe surface used by the services. Topics use
// MQTT syntax regardless of the transport.
type Client interface {
	Subscribe(topic string, h Handler) (Subscription, error)
	Publish(topic string, payload []byte) error
	Healthy() bool
	Close()
}

// Connect dials the transport selected in cfg.
func Connect(ctx context.Context, cfg config.BusConfig, log *slog.Logger) (Client, error) {
	switch cfg.Transport {
	case "mqtt":
		return ConnectMQTT(ctx, cfg, log)
	case "nats":
		return ConnectNATS(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("%w: unknown transport %q", ErrConnect, cfg.Transport)
	}
}
