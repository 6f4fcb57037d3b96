// Package cache は取得済みの参照画像を Redis に保存するキャッシュを提供します。
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config は Redis 接続の設定です。
type Config struct {
	Addr       string
	Password   string
	DB         int
	DefaultTTL time.Duration
	PoolSize   int
}

// DefaultConfig は既定の設定を返します。
func DefaultConfig() Config {
	return Config{
		Addr:       "localhost:6379",
		DefaultTTL: time.Hour,
		PoolSize:   10,
	}
}

// RedisImageCache は画像のバイト列を TTL 付きで Redis に保存します。
// キャッシュは最適化のためのものなので、障害時はミスとして扱いエラーを返しません。
type RedisImageCache struct {
	client     *redis.Client
	defaultTTL time.Duration
	logger     *zap.Logger
}

// NewRedisImageCache は Redis に接続して RedisImageCache を生成します。
func NewRedisImageCache(ctx context.Context, cfg Config, logger *zap.Logger) (*RedisImageCache, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisImageCacheFromClient(client, cfg.DefaultTTL, logger), nil
}

// NewRedisImageCacheFromClient は既存のクライアントから RedisImageCache を生成します。
func NewRedisImageCacheFromClient(client *redis.Client, defaultTTL time.Duration, logger *zap.Logger) *RedisImageCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &RedisImageCache{
		client:     client,
		defaultTTL: defaultTTL,
		logger:     logger.Named("cache"),
	}
}

// Get はキーに対応するデータを返します。存在しない場合と障害時は false です。
func (c *RedisImageCache) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("キャッシュの取得に失敗しました", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return data, true
}

// Set はデータを保存します。ttl が 0 以下なら既定の TTL を使います。
func (c *RedisImageCache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.logger.Warn("キャッシュの保存に失敗しました", zap.String("key", key), zap.Error(err))
	}
}

// Close は Redis との接続を閉じます。
func (c *RedisImageCache) Close() error {
	return c.client.Close()
}
