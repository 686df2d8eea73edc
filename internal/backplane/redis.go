package backplane

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	eventsTopic    = "chatcore:events"
	publishTimeout = time.Second
)

// RedisBackplane publishes every envelope to a single shared topic; each
// process filters locally by its own channel subscriptions.
type RedisBackplane struct {
	rdb    *redis.Client
	origin string
	log    *log.Logger
	cancel context.CancelFunc
}

func NewRedisBackplane(rdb *redis.Client, logger *log.Logger) (*RedisBackplane, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("backplane ping: %w", err)
	}

	return &RedisBackplane{
		rdb:    rdb,
		origin: uuid.NewString(),
		log:    logger,
	}, nil
}

// Origin is this process's backplane identity.
func (b *RedisBackplane) Origin() string {
	return b.origin
}

func (b *RedisBackplane) Publish(env Envelope) error {
	env.Origin = b.origin

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := b.rdb.Publish(ctx, eventsTopic, data).Err(); err != nil {
		return fmt.Errorf("publish envelope: %w", err)
	}

	return nil
}

func (b *RedisBackplane) Subscribe(handler func(Envelope)) error {
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	sub := b.rdb.Subscribe(ctx, eventsTopic)
	if _, err := sub.Receive(ctx); err != nil {
		cancel()
		return fmt.Errorf("subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					b.log.Println("backplane: bad envelope:", err)
					continue
				}

				if env.Origin == b.origin {
					continue
				}

				handler(env)
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

func (b *RedisBackplane) Close() error {
	if b.cancel != nil {
		b.cancel()
	}
	return nil
}
