package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/armature/armature/internal/logging"
)

// DefaultRedisChannel is the pub/sub channel used when none is configured
const DefaultRedisChannel = "armature:deployments"

// RedisNotifier forwards bus events to a Redis pub/sub channel so
// out-of-process consumers receive the same push notifications as
// in-process subscribers.
type RedisNotifier struct {
	client  *redis.Client
	channel string
	sub     *Subscription
	logger  *logging.Logger

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

// NewRedisNotifier connects to Redis and validates the connection
func NewRedisNotifier(ctx context.Context, redisURL, channel string) (*RedisNotifier, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisNotifier{
		client:  client,
		channel: channel,
		logger:  logging.NewLogger("redis-notifier"),
	}, nil
}

// Start subscribes to the bus and begins forwarding events
func (n *RedisNotifier) Start(bus *Bus) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.running {
		return
	}
	n.sub = bus.Subscribe(0)
	n.done = make(chan struct{})
	n.running = true

	go n.forward()
	n.logger.Infof("forwarding deployment events to redis channel %s", n.channel)
}

func (n *RedisNotifier) forward() {
	defer close(n.done)

	for event := range n.sub.C {
		payload, err := json.Marshal(event)
		if err != nil {
			n.logger.Errorf("failed to encode event for %s: %v", event.DeploymentName(), err)
			continue
		}
		if err := n.client.Publish(context.Background(), n.channel, payload).Err(); err != nil {
			n.logger.Warnf("failed to publish event for %s: %v", event.DeploymentName(), err)
		}
	}
}

// Stop detaches from the bus and closes the Redis connection
func (n *RedisNotifier) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.running {
		return
	}
	n.sub.Cancel()
	<-n.done
	n.running = false

	if err := n.client.Close(); err != nil {
		n.logger.Warnf("error closing redis client: %v", err)
	}
}
