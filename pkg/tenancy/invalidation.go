package tenancy

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Invalidator tells peer processes that a tenant's cached state is stale.
type Invalidator interface {
	Publish(ctx context.Context, tenantID string) error
}

// NoopInvalidator is used when the service runs as a single process.
type NoopInvalidator struct{}

// Publish does nothing.
func (NoopInvalidator) Publish(context.Context, string) error { return nil }

type invalidationMessage struct {
	TenantID string `json:"tenant_id"`
	Origin   string `json:"origin"`
}

// RedisInvalidator broadcasts invalidations over a Redis pub/sub channel.
// Messages a process published itself are ignored by its own listener.
type RedisInvalidator struct {
	client  *redis.Client
	channel string
	origin  string
	logger  *zap.Logger
}

// NewRedisInvalidator creates an invalidator publishing on channel.
func NewRedisInvalidator(client *redis.Client, channel string, logger *zap.Logger) *RedisInvalidator {
	return &RedisInvalidator{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		logger:  logger.Named("invalidator"),
	}
}

// Publish announces that tenantID changed.
func (i *RedisInvalidator) Publish(ctx context.Context, tenantID string) error {
	payload, err := json.Marshal(invalidationMessage{TenantID: tenantID, Origin: i.origin})
	if err != nil {
		return fmt.Errorf("marshal invalidation: %w", err)
	}
	if err := i.client.Publish(ctx, i.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish invalidation for tenant %s: %w", tenantID, err)
	}
	return nil
}

// Listen subscribes to the channel and calls handle for every invalidation
// published by another process. The subscription is active when Listen
// returns. It ends when ctx is cancelled or stop is called; stop waits for
// the receive loop to exit.
func (i *RedisInvalidator) Listen(ctx context.Context, handle func(tenantID string)) (stop func(), err error) {
	pubsub := i.client.Subscribe(ctx, i.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", i.channel, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	messages := pubsub.Channel()

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var m invalidationMessage
				if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
					i.logger.Warn("Ignoring malformed invalidation", zap.Error(err))
					continue
				}
				if m.Origin == i.origin || m.TenantID == "" {
					continue
				}
				handle(m.TenantID)
			}
		}
	}()

	i.logger.Info("Listening for tenant invalidations", zap.String("channel", i.channel))

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			_ = pubsub.Close()
			<-done
		})
	}, nil
}
