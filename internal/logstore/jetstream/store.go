// Package jetstream implements logstore.Store on NATS JetStream streams and
// lists durable consumers as workers.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/faultwatch/faultwatch/internal/logging"
	"github.com/faultwatch/faultwatch/internal/logstore"
)

// Config configures the NATS connection.
type Config struct {
	URL   string `yaml:"url" env:"FAULTWATCH_NATS_URL"`
	Token string `yaml:"token" env:"FAULTWATCH_NATS_TOKEN"`
	Creds string `yaml:"creds"`
}

// Store implements logstore.Store on JetStream.
type Store struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// Connect dials NATS and opens a JetStream context.
func Connect(cfg Config, logger *logging.Logger) (*Store, error) {
	if cfg.URL == "" {
		return nil, errors.New("jetstream: url is required")
	}
	if logger == nil {
		logger = logging.Global()
	}

	opts := []nats.Option{
		nats.Name("faultwatch"),
		nats.Timeout(10 * time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warnf("nats disconnected", map[string]any{"error": err.Error()})
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infof("nats reconnected", map[string]any{"url": nc.ConnectedUrl()})
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	if cfg.Creds != "" {
		opts = append(opts, nats.UserCredentials(cfg.Creds))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("jetstream: failed to connect: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: failed to create context: %w", err)
	}
	return &Store{conn: nc, js: js}, nil
}

// JetStream returns the JetStream context.
func (s *Store) JetStream() nats.JetStreamContext {
	return s.js
}

// Close closes the connection.
func (s *Store) Close() error {
	s.conn.Close()
	return nil
}

// Ping flushes the connection. Used as a readiness check.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.conn.FlushWithContext(ctx); err != nil {
		return logstore.Unavailable("ping", "", err)
	}
	return nil
}

func (s *Store) info(ctx context.Context, stream string) (*nats.StreamInfo, error) {
	info, err := s.js.StreamInfo(stream, nats.Context(ctx))
	if err != nil {
		return nil, classify("info", stream, err)
	}
	return info, nil
}

// Length implements logstore.Store.
func (s *Store) Length(ctx context.Context, stream string) (int64, error) {
	info, err := s.info(ctx, stream)
	if err != nil {
		return 0, err
	}
	return int64(info.State.Msgs), nil
}

// ConsumerGroupCount implements logstore.Store. Each JetStream consumer is
// a group.
func (s *Store) ConsumerGroupCount(ctx context.Context, stream string) (int, error) {
	info, err := s.info(ctx, stream)
	if err != nil {
		return 0, err
	}
	return info.State.Consumers, nil
}

// Trim implements logstore.Store with a purge that keeps the newest target
// messages. JetStream purges are always exact, so approximate is ignored.
func (s *Store) Trim(ctx context.Context, stream string, target int64, _ bool) (int64, error) {
	if target < 0 {
		target = 0
	}
	info, err := s.info(ctx, stream)
	if err != nil {
		return 0, err
	}
	before := int64(info.State.Msgs)
	if before <= target {
		return 0, nil
	}

	req := &nats.StreamPurgeRequest{Keep: uint64(target)}
	if target == 0 {
		req = &nats.StreamPurgeRequest{}
	}
	if err := s.js.PurgeStream(stream, req, nats.Context(ctx)); err != nil {
		return 0, classify("trim", stream, err)
	}
	return before - target, nil
}

func classify(op, stream string, err error) error {
	if errors.Is(err, nats.ErrStreamNotFound) {
		return logstore.NotFound(stream)
	}
	return logstore.Unavailable(op, stream, err)
}

var _ logstore.Store = (*Store)(nil)
