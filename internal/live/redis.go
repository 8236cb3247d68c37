package live

import (
	"context"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const channelPrefix = "presence:organization:"

// ChannelName returns the Redis channel carrying change notices for an organization
func ChannelName(organizationID uuid.UUID) string {
	return channelPrefix + organizationID.String()
}

// RedisNotifier fans change notices out to every instance through Redis pub/sub.
// When Redis is unreachable it falls back to refreshing the local hub.
type RedisNotifier struct {
	client *redis.Client
	hub    *Hub
	logger *zap.Logger
}

// NewRedisNotifier creates a new RedisNotifier
func NewRedisNotifier(client *redis.Client, hub *Hub, logger *zap.Logger) *RedisNotifier {
	return &RedisNotifier{client: client, hub: hub, logger: logger}
}

// NotifyOrganizationChanged publishes a change notice for the organization
func (n *RedisNotifier) NotifyOrganizationChanged(ctx context.Context, organizationID uuid.UUID) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	if err := n.client.Publish(pubCtx, ChannelName(organizationID), organizationID.String()).Err(); err != nil {
		n.logger.Warn("Failed to publish presence change, refreshing locally",
			zap.String("organization_id", organizationID.String()),
			zap.Error(err),
		)
		n.hub.Refresh(ctx, organizationID)
	}
}

// RedisListener refreshes the hub for every change notice published by any instance
type RedisListener struct {
	client *redis.Client
	hub    *Hub
	logger *zap.Logger
}

// NewRedisListener creates a new RedisListener
func NewRedisListener(client *redis.Client, hub *Hub, logger *zap.Logger) *RedisListener {
	return &RedisListener{client: client, hub: hub, logger: logger}
}

// Run listens until ctx is cancelled. Once the subscription is confirmed every
// watched organization is refreshed, then ready is closed; ready may be nil.
func (l *RedisListener) Run(ctx context.Context, ready chan<- struct{}) error {
	pubsub := l.client.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	l.logger.Info("Listening for presence changes", zap.String("pattern", channelPrefix+"*"))

	// notices published while we were not subscribed are lost
	l.hub.RefreshAll(ctx)
	if ready != nil {
		close(ready)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			orgID, err := uuid.Parse(strings.TrimPrefix(msg.Channel, channelPrefix))
			if err != nil {
				l.logger.Warn("Ignoring presence notice on unexpected channel", zap.String("channel", msg.Channel))
				continue
			}
			l.refresh(ctx, orgID)
		}
	}
}

func (l *RedisListener) refresh(ctx context.Context, organizationID uuid.UUID) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Recovered from panic while refreshing presence",
				zap.Any("panic", r),
				zap.String("organization_id", organizationID.String()),
			)
		}
	}()
	l.hub.Refresh(ctx, organizationID)
}
