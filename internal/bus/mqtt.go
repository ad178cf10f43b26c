package bus

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/loqalabs/hermes-tts/internal/config"
)

// MQTTClient talks to a Hermes MQTT broker (mosquitto in a Snips install).
type MQTTClient struct {
	client  mqtt.Client
	timeout time.Duration
	log     *slog.Logger

	mu   sync.Mutex
	subs map[string]mqtt.MessageHandler
}

func ConnectMQTT(ctx context.Context, cfg config.BusConfig, log *slog.Logger) (*MQTTClient, error) {
	timeout := time.Duration(cfg.ConnectTimeout) * time.Millisecond
	c := &MQTTClient{
		timeout: timeout,
		log:     log,
		subs:    make(map[string]mqtt.MessageHandler),
	}

	scheme := "tcp"
	opts := mqtt.NewClientOptions()
	if cfg.TLSInsecure {
		scheme = "ssl"
		opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.AddBroker(fmt.Sprintf("%s://%s", scheme, cfg.Address))
	opts.SetClientID(cfg.ClientID)
	opts.SetConnectTimeout(timeout)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetAutoReconnect(true)
	// Handlers run in their own goroutines so a slow synthesis does not hold
	// back playFinished notifications.
	opts.SetOrderMatters(false)
	if cfg.Username != "" || cfg.Password != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetOnConnectHandler(c.resubscribe)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("mqtt connection lost", slog.String("error", err.Error()))
	})

	c.client = mqtt.NewClient(opts)
	if err := c.wait(ctx, c.client.Connect()); err != nil {
		return nil, fmt.Errorf("%w: mqtt %s: %w", ErrConnect, cfg.Address, err)
	}

	log.Info("connected to MQTT", slog.String("broker", cfg.Address))
	return c, nil
}

func (c *MQTTClient) Subscribe(topic string, h Handler) (Subscription, error) {
	handler := func(_ mqtt.Client, m mqtt.Message) {
		h(Message{Topic: m.Topic(), Payload: m.Payload()})
	}
	if err := c.wait(context.Background(), c.client.Subscribe(topic, 0, handler)); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	c.mu.Lock()
	c.subs[topic] = handler
	c.mu.Unlock()
	return &mqttSubscription{client: c, topic: topic}, nil
}

func (c *MQTTClient) Publish(topic string, payload []byte) error {
	if err := c.wait(context.Background(), c.client.Publish(topic, 0, false, payload)); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (c *MQTTClient) Healthy() bool {
	return c != nil && c.client != nil && c.client.IsConnectionOpen()
}

func (c *MQTTClient) Close() {
	if c == nil {
		return
	}
	c.log.Info("closing MQTT connection")
	c.client.Disconnect(250)
}

// resubscribe restores subscriptions after an automatic reconnect; the broker
// drops them with a clean session.
func (c *MQTTClient) resubscribe(client mqtt.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for topic, handler := range c.subs {
		tok := client.Subscribe(topic, 0, handler)
		go func(topic string, tok mqtt.Token) {
			if tok.WaitTimeout(c.timeout) && tok.Error() != nil {
				c.log.Warn("mqtt resubscribe failed", slog.String("topic", topic), slog.String("error", tok.Error().Error()))
			}
		}(topic, tok)
	}
}

func (c *MQTTClient) wait(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.timeout):
		return fmt.Errorf("timed out after %s", c.timeout)
	}
}

type mqttSubscription struct {
	client *MQTTClient
	topic  string
}

func (s *mqttSubscription) Unsubscribe() error {
	s.client.mu.Lock()
	delete(s.client.subs, s.topic)
	s.client.mu.Unlock()
	return s.client.wait(context.Background(), s.client.client.Unsubscribe(s.topic))
}
