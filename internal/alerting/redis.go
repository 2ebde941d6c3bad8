package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// RedisNotifier publishes alerts on a per-owner pub/sub channel.
type RedisNotifier struct {
	client publisher
	prefix string
	logger zerolog.Logger
}

// RedisOptions configure the pub/sub connection.
type RedisOptions struct {
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string
}

// NewRedisNotifier connects lazily; the first publish dials.
func NewRedisNotifier(opts RedisOptions, logger zerolog.Logger) *RedisNotifier {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return newRedisNotifier(client, opts.ChannelPrefix, logger)
}

func newRedisNotifier(client publisher, prefix string, logger zerolog.Logger) *RedisNotifier {
	return &RedisNotifier{
		client: client,
		prefix: prefix,
		logger: logger.With().Str("component", "alert_redis").Logger(),
	}
}

// Channel names the pub/sub channel of an owner.
func (n *RedisNotifier) Channel(ownerID uint64) string {
	return n.prefix + strconv.FormatUint(ownerID, 10)
}

// Notify publishes note as JSON.
func (n *RedisNotifier) Notify(ctx context.Context, note Notification) error {
	payload, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("marshal alert payload: %w", err)
	}

	channel := n.Channel(note.OwnerID)
	receivers, err := n.client.Publish(ctx, channel, payload).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}

	n.logger.Debug().Str("channel", channel).Int64("receivers", receivers).Msg("alert sent (redis)")
	return nil
}

// Close closes the client.
func (n *RedisNotifier) Close() error {
	return n.client.Close()
}

var _ Notifier = (*RedisNotifier)(nil)
