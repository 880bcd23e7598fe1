package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/typelesshq/typeless-core/internal/config"
)

// Client wraps the NATS connection used for internal progress and
// transcript events.
type Client struct {
	conn *nats.Conn
	log  *slog.Logger
}

func Connect(cfg config.BusConfig, log *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}

	options := []nats.Option{
		nats.Name("typeless-core"),
		nats.Timeout(time.Duration(cfg.ConnectTimeout) * time.Millisecond),
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.Info("connected to NATS", slog.String("servers", url))

	return &Client{conn: conn, log: log}, nil
}

func (c *Client) Close() {
	if c == nil || c.conn == nil {
		return
	}
	c.log.Info("closing NATS connection")
	c.conn.Drain()
	c.conn.Close()
}

func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

func (c *Client) Conn() *nats.Conn {
	return c.conn
}

// PublishJSON marshals payload and publishes it on subject. Failures are
// logged, not returned; eventing is best-effort.
func (c *Client) PublishJSON(subject string, payload any) {
	if c == nil || c.conn == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		c.log.Warn("failed to marshal bus event", slog.String("subject", subject), slog.String("error", err.Error()))
		return
	}
	if err := c.conn.Publish(subject, data); err != nil {
		c.log.Warn("failed to publish bus event", slog.String("subject", subject), slog.String("error", err.Error()))
	}
}

// SubscribeJSON subscribes to subject and decodes each message into a fresh
// value produced by newValue, invoking handler with it.
func (c *Client) SubscribeJSON(subject string, newValue func() any, handler func(any)) (*nats.Subscription, error) {
	if c == nil || c.conn == nil {
		return nil, errors.New("bus not connected")
	}
	return c.conn.Subscribe(subject, func(msg *nats.Msg) {
		v := newValue()
		if err := json.Unmarshal(msg.Data, v); err != nil {
			c.log.Warn("failed to decode bus event", slog.String("subject", subject), slog.String("error", err.Error()))
			return
		}
		handler(v)
	})
}
