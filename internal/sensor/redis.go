package sensor

import (
	"context"
	"fmt"
	"sync"

	"backend-runhub/internal/run"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisSource reads samples that devices publish on a per-run channel.
type RedisSource struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

func NewRedisSource(client *redis.Client, runID string, logger *zap.Logger) *RedisSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSource{
		client:  client,
		channel: RedisChannel(runID),
		logger:  logger,
	}
}

func RedisChannel(runID string) string {
	return "sensor:" + runID + ":events"
}

func (r *RedisSource) Start(ctx context.Context) (<-chan run.SensorEvent, error) {
	r.Stop()

	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	out := make(chan run.SensorEvent, 64)
	done := make(chan struct{})

	r.mu.Lock()
	r.pubsub = pubsub
	r.done = done
	r.mu.Unlock()

	go r.forward(ctx, pubsub.Channel(), out, done)
	return out, nil
}

func (r *RedisSource) Stop() {
	r.mu.Lock()
	pubsub, done := r.pubsub, r.done
	r.pubsub, r.done = nil, nil
	r.mu.Unlock()

	if pubsub == nil {
		return
	}
	if err := pubsub.Close(); err != nil {
		r.logger.Warn("redis unsubscribe failed", zap.String("channel", r.channel), zap.Error(err))
	}
	<-done
}

func (r *RedisSource) forward(ctx context.Context, in <-chan *redis.Message, out chan<- run.SensorEvent, done chan struct{}) {
	defer close(done)
	defer close(out)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			ev, err := DecodeSample([]byte(msg.Payload))
			if err != nil {
				r.logger.Warn("dropping malformed sample", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}
