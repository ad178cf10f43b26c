package bus

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/hermes-tts/internal/config"
	"github.com/nats-io/nats.go"
)

// NATSClient carries Hermes topics over NATS. Topic names are translated the
// same way the NATS server's MQTT gateway does, so MQTT components attached to
// the same server see identical traffic.
type NATSClient struct {
	conn *nats.Conn
	log  *slog.Logger
}

func ConnectNATS(ctx context.Context, cfg config.BusConfig, log *slog.Logger) (*NATSClient, error) {
	if len(cfg.Servers) == 0 {
		return nil, fmt.Errorf("%w: no NATS servers configured", ErrConnect)
	}

	options := []nats.Option{
		nats.Name(cfg.ClientID),
		nats.Timeout(time.Duration(cfg.ConnectTimeout) * time.Millisecond),
	}

	if cfg.Username != "" || cfg.Password != "" {
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}
	if cfg.TLSInsecure {
		options = append(options, nats.Secure(&tls.Config{InsecureSkipVerify: true}))
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("%w: nats: %w", ErrConnect, err)
	}
	if err := ctx.Err(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}

	log.Info("connected to NATS", slog.String("servers", url))

	return &NATSClient{
		conn: conn,
		log:  log,
	}, nil
}

func (c *NATSClient) Subscribe(topic string, h Handler) (Subscription, error) {
	subject, err := natsSubject(topic)
	if err != nil {
		return nil, err
	}
	sub, err := c.conn.Subscribe(subject, func(m *nats.Msg) {
		h(Message{Topic: TopicForSubject(m.Subject), Payload: m.Data})
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return sub, nil
}

func (c *NATSClient) Publish(topic string, payload []byte) error {
	subject, err := natsSubject(topic)
	if err != nil {
		return err
	}
	if err := c.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (c *NATSClient) Close() {
	if c == nil {
		return
	}
	c.log.Info("closing NATS connection")
	if err := c.conn.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		c.log.Warn("nats drain failed", slog.String("error", err.Error()))
	}
	c.conn.Close()
}

func (c *NATSClient) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

// SubjectForTopic maps an MQTT topic or filter to a NATS subject.
func SubjectForTopic(topic string) string {
	levels := strings.Split(topic, "/")
	for i, l := range levels {
		switch l {
		case "+":
			levels[i] = "*"
		case "#":
			levels[i] = ">"
		}
	}
	return strings.Join(levels, ".")
}

// natsSubject translates topic and rejects levels that NATS would split into
// extra tokens, such as a siteId of "living.room".
func natsSubject(topic string) (string, error) {
	for _, level := range strings.Split(topic, "/") {
		if level == "" || strings.ContainsAny(level, ". \t\r\n") {
			return "", fmt.Errorf("%w: level %q of %s cannot be carried over NATS", ErrInvalidTopic, level, topic)
		}
	}
	return SubjectForTopic(topic), nil
}

// TopicForSubject is the inverse of SubjectForTopic for concrete subjects.
func TopicForSubject(subject string) string {
	return strings.ReplaceAll(subject, ".", "/")
}
