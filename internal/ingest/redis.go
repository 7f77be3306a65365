package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gyaneshwarpardhi/fraudwatch/internal/domain"
)

// heartbeatInterval is how long a subscription may stay silent before it is
// pinged. A failed ping counts as a disconnect.
const heartbeatInterval = 30 * time.Second

// RedisTransport subscribes to Redis Pub/Sub channels carrying batch envelopes.
type RedisTransport struct {
	client  *redis.Client
	decoder *Decoder
	logger  *slog.Logger
}

// RedisOptions holds connection settings.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisTransport creates a client for opts. No connection is made until
// the first Subscribe.
func NewRedisTransport(opts RedisOptions, logger *slog.Logger) *RedisTransport {
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	return &RedisTransport{
		client:  client,
		decoder: NewDecoder("redis", logger),
		logger:  logger,
	}
}

// Subscribe joins topic. The join is confirmed by the server's subscription
// acknowledgement.
func (t *RedisTransport) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	ps := t.client.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return &redisSubscription{ps: ps, topic: topic, decoder: t.decoder, logger: t.logger}, nil
}

// Close releases the underlying client.
func (t *RedisTransport) Close() error {
	return t.client.Close()
}

type redisSubscription struct {
	ps      *redis.PubSub
	topic   string
	decoder *Decoder
	logger  *slog.Logger
}

func (s *redisSubscription) Next(ctx context.Context) (domain.Batch, error) {
	for {
		msg, err := s.ps.ReceiveTimeout(ctx, heartbeatInterval)
		if err != nil {
			if ctx.Err() != nil {
				return domain.Batch{}, ctx.Err()
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				if err := s.ps.Ping(ctx); err != nil {
					return domain.Batch{}, fmt.Errorf("%w: heartbeat: %w", ErrDisconnected, err)
				}
				continue
			}
			return domain.Batch{}, fmt.Errorf("%w: %w", ErrDisconnected, err)
		}

		switch m := msg.(type) {
		case *redis.Message:
			b, ok, err := s.decoder.Message([]byte(m.Payload))
			if err != nil {
				s.logger.Warn("dropping malformed channel message", "topic", s.topic, "err", err)
				continue
			}
			if ok {
				return b, nil
			}
		case *redis.Subscription:
			if m.Kind == "unsubscribe" && m.Count == 0 {
				return domain.Batch{}, fmt.Errorf("%w: unsubscribed from %s", ErrDisconnected, s.topic)
			}
		}
	}
}

func (s *redisSubscription) Close() error {
	return s.ps.Close()
}
