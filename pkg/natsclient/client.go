package natsclient

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Config holds NATS connection settings.
type Config struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
}

// Client is a thin publishing wrapper around a NATS connection.
type Client struct {
	conn *nats.Conn
	log  zerolog.Logger
}

// Connect dials NATS. Reconnects are handled by the nats client.
func Connect(cfg Config, log zerolog.Logger) (*Client, error) {
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = -1
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 2 * time.Second
	}

	log = log.With().Str("component", "nats").Logger()
	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", cfg.URL, err)
	}
	return &Client{conn: conn, log: log}, nil
}

// Publish sends data on subject. The nats client buffers writes, so this does
// not wait for the server.
func (c *Client) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.conn.Publish(subject, data)
}

// Close drains pending messages and closes the connection.
func (c *Client) Close() {
	if err := c.conn.Drain(); err != nil {
		c.log.Warn().Err(err).Msg("NATS drain failed")
	}
}
