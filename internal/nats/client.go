// Package nats archives chat transcripts to NATS JetStream.
package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/reading-room/persona-chat/pkg/logger"
)

const defaultClientName = "reading-room"

// Config holds the archive connection settings. TLS is enabled when all
// three of CAFile, CertFile and KeyFile are set.
type Config struct {
	URL      string
	Name     string
	CAFile   string
	CertFile string
	KeyFile  string
	Token    string
}

func (c Config) tlsEnabled() bool {
	return c.CAFile != "" && c.CertFile != "" && c.KeyFile != ""
}

// Client holds the archive connection and its JetStream handle.
type Client struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	logger *logger.Logger
}

// connectOptions builds the connection options. Reconnects are unbounded so
// the archive recovers on its own; sessions never wait on it.
func connectOptions(cfg Config, log *logger.Logger) []nats.Option {
	name := cfg.Name
	if name == "" {
		name = defaultClientName
	}

	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("transcript archive disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("transcript archive reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error("transcript archive error", zap.Error(err))
		}),
	}

	if cfg.tlsEnabled() {
		opts = append(opts,
			nats.RootCAs(cfg.CAFile),
			nats.ClientCert(cfg.CertFile, cfg.KeyFile),
		)
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	return opts
}

// Connect dials the archive server and opens JetStream on it.
func Connect(ctx context.Context, cfg Config, log *logger.Logger) (*Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	nc, err := nats.Connect(cfg.URL, connectOptions(cfg, log)...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	log.Info("transcript archive connected",
		zap.String("url", nc.ConnectedUrl()),
		zap.Bool("tls", cfg.tlsEnabled()),
	)

	return &Client{
		conn:   nc,
		js:     js,
		logger: log,
	}, nil
}

// JetStream returns the JetStream handle.
func (c *Client) JetStream() jetstream.JetStream {
	return c.js
}

// Close drains pending publishes, then closes the connection.
func (c *Client) Close() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Drain(); err != nil {
		c.logger.Warn("transcript archive drain failed", zap.Error(err))
		c.conn.Close()
	}
}

// IsConnected reports whether the archive connection is up.
func (c *Client) IsConnected() bool {
	return c != nil && c.conn != nil && c.conn.IsConnected()
}
