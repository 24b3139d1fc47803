package urlcache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/tweetarchive/tweets/pkg/config"
	"github.com/tweetarchive/tweets/pkg/logging"
)

const namespace = "tweets"

// Mirror is a Redis second tier for resolved URLs, shared between runs and
// machines. The JSON file stays the source of truth.
type Mirror struct {
	client *redis.Client
	ttl    time.Duration
}

// NewMirror connects to Redis. A disabled config yields a nil mirror, which
// every method treats as ErrCacheDisabled.
func NewMirror(cfg *config.RedisConfig) (*Mirror, error) {
	if !cfg.Enabled {
		logging.GetLogger().Debug("Redis mirror disabled")
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.GetLogger().Info("Redis mirror connection established")

	return &Mirror{client: client, ttl: cfg.TTL}, nil
}

// HashKey returns the md5 hex digest of the joined parts
func HashKey(parts ...string) string {
	sum := md5.Sum([]byte(strings.Join(parts, ":")))
	return hex.EncodeToString(sum[:])
}

func (m *Mirror) namespaceKey(key string) string {
	return namespace + ":" + key
}

func (m *Mirror) urlKey(url string) string {
	return m.namespaceKey("url:" + HashKey(url))
}

// Get looks up a URL. A missing key returns ErrNotFound.
func (m *Mirror) Get(ctx context.Context, url string) (Value, error) {
	if m == nil || m.client == nil {
		return Value{}, ErrCacheDisabled
	}
	raw, err := m.client.Get(ctx, m.urlKey(url)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Value{}, ErrNotFound
	}
	if err != nil {
		return Value{}, err
	}
	var v Value
	if err := v.UnmarshalJSON(raw); err != nil {
		return Value{}, err
	}
	return v, nil
}

// Set stores a URL's entry with the configured TTL
func (m *Mirror) Set(ctx context.Context, url string, v Value) error {
	if m == nil || m.client == nil {
		return ErrCacheDisabled
	}
	raw, err := v.MarshalJSON()
	if err != nil {
		return err
	}
	return m.client.Set(ctx, m.urlKey(url), raw, m.ttl).Err()
}

// Delete removes a URL's entry
func (m *Mirror) Delete(ctx context.Context, url string) error {
	if m == nil || m.client == nil {
		return ErrCacheDisabled
	}
	return m.client.Del(ctx, m.urlKey(url)).Err()
}

// Close closes the Redis connection
func (m *Mirror) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Close()
}

// Health checks Redis health
func (m *Mirror) Health(ctx context.Context) error {
	if m == nil || m.client == nil {
		return ErrCacheDisabled
	}
	return m.client.Ping(ctx).Err()
}

var (
	// ErrCacheDisabled is returned when mirror operations are attempted but Redis is not configured
	ErrCacheDisabled = errors.New("cache is disabled")
	// ErrNotFound is returned when the mirror has no entry for a URL
	ErrNotFound = errors.New("url not in cache")
)
