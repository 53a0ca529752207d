// Package redisstream implements logstore.Store on Redis Streams and
// derives a worker registry from stream consumer metadata.
package redisstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/faultwatch/faultwatch/internal/logstore"
)

// Config configures the Redis connection.
type Config struct {
	Addr         string `yaml:"addr" env:"FAULTWATCH_REDIS_ADDR"`
	Password     string `yaml:"password" env:"FAULTWATCH_REDIS_PASSWORD"`
	DB           int    `yaml:"db" env:"FAULTWATCH_REDIS_DB"`
	PoolSize     int    `yaml:"poolSize"`
	MinIdleConns int    `yaml:"minIdleConns"`

	// Timeouts in seconds. Zero keeps the go-redis default.
	DialTimeout  int `yaml:"dialTimeout"`
	ReadTimeout  int `yaml:"readTimeout"`
	WriteTimeout int `yaml:"writeTimeout"`

	// ApproxTrimLimit caps the entries evicted by one approximate XTRIM
	// (the LIMIT clause). Zero leaves it to the server.
	ApproxTrimLimit int64 `yaml:"approxTrimLimit"`
}

// Options converts the config into go-redis client options.
func (c Config) Options() *redis.Options {
	opts := &redis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
	}
	if c.DialTimeout > 0 {
		opts.DialTimeout = time.Duration(c.DialTimeout) * time.Second
	}
	if c.ReadTimeout > 0 {
		opts.ReadTimeout = time.Duration(c.ReadTimeout) * time.Second
	}
	if c.WriteTimeout > 0 {
		opts.WriteTimeout = time.Duration(c.WriteTimeout) * time.Second
	}
	return opts
}

// Store implements logstore.Store on Redis Streams.
type Store struct {
	client     redis.UniversalClient
	trimLimit  int64
	ownsClient bool
}

// New connects to Redis and verifies the connection with PING.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redisstream: address is required")
	}

	client := redis.NewClient(cfg.Options())

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redisstream: failed to connect to %s: %w", cfg.Addr, err)
	}

	return &Store{client: client, trimLimit: cfg.ApproxTrimLimit, ownsClient: true}, nil
}

// NewWithClient wraps an existing client. Close does not close it.
func NewWithClient(client redis.UniversalClient, approxTrimLimit int64) *Store {
	return &Store{client: client, trimLimit: approxTrimLimit}
}

// Client returns the underlying client.
func (s *Store) Client() redis.UniversalClient {
	return s.client
}

// Ping checks connectivity. Used as a readiness check.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return logstore.Unavailable("ping", "", err)
	}
	return nil
}

// Close closes the client if the store created it.
func (s *Store) Close() error {
	if !s.ownsClient {
		return nil
	}
	return s.client.Close()
}

// Length implements logstore.Store. XLEN reports 0 for a missing key, so
// the key type is fetched in the same round trip to tell the two apart.
func (s *Store) Length(ctx context.Context, stream string) (int64, error) {
	pipe := s.client.Pipeline()
	typ := pipe.Type(ctx, stream)
	n := pipe.XLen(ctx, stream)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, classify("length", stream, err)
	}
	if err := checkType(stream, typ.Val()); err != nil {
		return 0, err
	}
	return n.Val(), nil
}

// ConsumerGroupCount implements logstore.Store.
func (s *Store) ConsumerGroupCount(ctx context.Context, stream string) (int, error) {
	groups, err := s.client.XInfoGroups(ctx, stream).Result()
	if err != nil {
		return 0, classify("groups", stream, err)
	}
	return len(groups), nil
}

// Trim implements logstore.Store with XTRIM MAXLEN. Approximate trims use
// the "~" modifier, which only evicts whole radix tree nodes.
func (s *Store) Trim(ctx context.Context, stream string, target int64, approximate bool) (int64, error) {
	if target < 0 {
		target = 0
	}
	pipe := s.client.Pipeline()
	typ := pipe.Type(ctx, stream)
	var trim *redis.IntCmd
	if approximate {
		trim = pipe.XTrimMaxLenApprox(ctx, stream, target, s.trimLimit)
	} else {
		trim = pipe.XTrimMaxLen(ctx, stream, target)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, classify("trim", stream, err)
	}
	if err := checkType(stream, typ.Val()); err != nil {
		return 0, err
	}
	return trim.Val(), nil
}

func checkType(stream, typ string) error {
	switch typ {
	case "stream":
		return nil
	case "none", "":
		return logstore.NotFound(stream)
	default:
		return fmt.Errorf("%w: %s is a %s, not a stream", logstore.ErrNotFound, stream, typ)
	}
}

// classify maps Redis replies onto the logstore error taxonomy. A missing
// key surfaces as "ERR no such key" from XINFO.
func classify(op, stream string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case errors.Is(err, redis.Nil),
		strings.Contains(msg, "no such key"):
		return logstore.NotFound(stream)
	case strings.HasPrefix(msg, "WRONGTYPE"):
		return fmt.Errorf("%w: %s: %v", logstore.ErrNotFound, stream, err)
	}
	return logstore.Unavailable(op, stream, err)
}

var _ logstore.Store = (*Store)(nil)
