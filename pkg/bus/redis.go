package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBus implements Bus over a Redis connection pool. Redis lists carry the
// downstream and upstream queues, Redis channels carry the interactive
// instruction traffic.
type RedisBus struct {
	client *redis.Client
}

// Config holds the Redis connection parameters.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisBus builds a RedisBus and verifies the connection with one ping.
func NewRedisBus(ctx context.Context, cfg Config) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to bus at %s: %w", cfg.Addr, err)
	}

	return &RedisBus{client: client}, nil
}

// LPop removes and returns the left-most element of queue.
func (b *RedisBus) LPop(ctx context.Context, queue string) (string, error) {
	val, err := b.client.LPop(ctx, queue).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrEmpty
	}
	if err != nil {
		return "", fmt.Errorf("failed to pop from %s: %w", queue, err)
	}
	return val, nil
}

// RPush appends message to the right end of queue.
func (b *RedisBus) RPush(ctx context.Context, queue string, message string) error {
	if err := b.client.RPush(ctx, queue, message).Err(); err != nil {
		return fmt.Errorf("failed to push to %s: %w", queue, err)
	}
	return nil
}

// Publish sends message to every subscriber of channel.
func (b *RedisBus) Publish(ctx context.Context, channel string, message string) error {
	if err := b.client.Publish(ctx, channel, message).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe opens a subscription on channel.
func (b *RedisBus) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ps := b.client.Subscribe(ctx, channel)

	// Force the SUBSCRIBE round-trip now so a dead bus surfaces here, not on
	// the first Receive.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	return &redisSubscription{ps: ps}, nil
}

// Close releases the connection pool.
func (b *RedisBus) Close() error {
	return b.client.Close()
}

type redisSubscription struct {
	ps *redis.PubSub
}

// Receive waits up to timeout for the next data message. Non-data frames
// (subscription counts, pings) are skipped.
func (s *redisSubscription) Receive(ctx context.Context, timeout time.Duration) (string, error) {
	raw, err := s.ps.ReceiveTimeout(ctx, timeout)
	if err != nil {
		// go-redis wraps the poll deadline in a net timeout error.
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "", ErrEmpty
		}
		return "", err
	}

	msg, ok := raw.(*redis.Message)
	if !ok {
		return "", ErrEmpty
	}
	return msg.Payload, nil
}

func (s *redisSubscription) Close() error {
	return s.ps.Close()
}
