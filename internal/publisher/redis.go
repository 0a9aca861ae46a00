// Package publisher fans the validated market-data stream out to Redis:
// streams for replay, pub/sub for live consumers, and a latest-value key
// per symbol.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"ctp-md-gateway/internal/config"
	"ctp-md-gateway/internal/model"
)

const (
	tickStreamMaxLen = 10000
	barStreamMaxLen  = 1000
	latestTTL        = 5 * time.Minute
)

// RedisPublisher publishes ticks and bars to Redis.
type RedisPublisher struct {
	client *redis.Client
	prefix string
}

// NewRedisPublisher connects and verifies the server with a ping.
func NewRedisPublisher(cfg config.RedisConfig) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		DB:       cfg.DB,
		Password: cfg.Password,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := cfg.ChannelPrefix
	if prefix == "" {
		prefix = "market:"
	}
	return &RedisPublisher{client: client, prefix: prefix}, nil
}

// Client returns the underlying Redis client.
func (p *RedisPublisher) Client() *redis.Client {
	return p.client
}

// Close closes the Redis connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// PublishTick writes the tick to its stream, the live pub/sub channel and
// the latest-value key. Stream key: {prefix}tick:{exchange}:{symbol}.
func (p *RedisPublisher) PublishTick(ctx context.Context, tick *model.Tick) error {
	data, err := json.Marshal(tick.ToMap())
	if err != nil {
		return err
	}

	key := fmt.Sprintf("%stick:%s:%s", p.prefix, tick.Exchange, tick.Symbol)

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: tickStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": string(data)},
	}).Err(); err != nil {
		return err
	}

	if err := p.client.Publish(ctx, key, string(data)).Err(); err != nil {
		return err
	}

	// Latest value with expiry so dead symbols fall out of the keyspace.
	latest := fmt.Sprintf("%slatest:%s", p.prefix, tick.Symbol)
	return p.client.Set(ctx, latest, data, latestTTL).Err()
}

// PublishBar writes the completed bar to its stream and pub/sub channel.
// Stream key: {prefix}bar:{period}:{symbol}.
func (p *RedisPublisher) PublishBar(ctx context.Context, bar *model.Bar) error {
	data, err := json.Marshal(bar)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("%sbar:%s:%s", p.prefix, bar.Period, bar.Symbol)

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: barStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": string(data)},
	}).Err(); err != nil {
		return err
	}
	return p.client.Publish(ctx, key, string(data)).Err()
}

// TickSink adapts PublishTick to the gateway callback signature.
// Publishing is best-effort; failures are logged, never propagated into
// the dispatch loop.
func (p *RedisPublisher) TickSink() func(*model.Tick) {
	return func(tick *model.Tick) {
		if err := p.PublishTick(context.Background(), tick); err != nil {
			log.Warn().Err(err).Str("symbol", tick.Symbol).Msg("Redis tick publish failed")
		}
	}
}

// BarSink adapts PublishBar to the gateway callback signature.
func (p *RedisPublisher) BarSink() func(*model.Bar) {
	return func(bar *model.Bar) {
		if err := p.PublishBar(context.Background(), bar); err != nil {
			log.Warn().Err(err).Str("symbol", bar.Symbol).Msg("Redis bar publish failed")
		}
	}
}
