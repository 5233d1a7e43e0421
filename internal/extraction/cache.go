package extraction

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/biomarker-normalizer/internal/domain"
)

// ResponseStore keeps extraction answers by key
type ResponseStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, content string, ttl time.Duration) error
}

// CacheClient wraps a Redis client to cache extraction answers
type CacheClient struct {
	redis      *redis.Client
	defaultTTL time.Duration
}

// NewCacheClient creates a new cache client
func NewCacheClient(config domain.CacheConfig) (*CacheClient, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.PoolTimeout > 0 {
		opts.PoolTimeout = config.PoolTimeout
	}
	opts.MaxRetries = config.MaxRetries

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &CacheClient{
		redis:      client,
		defaultTTL: config.DefaultTTL,
	}, nil
}

// CachedExtraction is a cached extraction answer with metadata
type CachedExtraction struct {
	Content   string    `json:"data"`
	CachedAt  time.Time `json:"cached_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Get retrieves a cached answer. A corrupt or expired entry is removed and
// reported as a miss.
func (c *CacheClient) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get extraction cache: %w", err)
	}

	var cached CachedExtraction
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		c.redis.Del(ctx, key)
		return "", false, nil
	}

	if time.Now().After(cached.ExpiresAt) {
		c.redis.Del(ctx, key)
		return "", false, nil
	}

	return cached.Content, true, nil
}

// Set caches an answer. A zero ttl uses the default.
func (c *CacheClient) Set(ctx context.Context, key, content string, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.defaultTTL
	}

	now := time.Now()
	jsonData, err := json.Marshal(CachedExtraction{
		Content:   content,
		CachedAt:  now,
		ExpiresAt: now.Add(ttl),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal extraction cache data: %w", err)
	}

	return c.redis.Set(ctx, key, jsonData, ttl).Err()
}

// Ping checks the Redis connection
func (c *CacheClient) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *CacheClient) Close() error {
	return c.redis.Close()
}

// CacheKey derives the cache key of a file sent to model.
func CacheKey(model string, fileBytes []byte) string {
	h := sha256.New()
	h.Write(fileBytes)
	h.Write([]byte(model))
	return "extraction:" + hex.EncodeToString(h.Sum(nil))
}

// CachedClient serves repeated lab reports from a ResponseStore. Store
// errors are logged and never fail an extraction.
type CachedClient struct {
	next   domain.ExtractionClient
	store  ResponseStore
	model  string
	ttl    time.Duration
	logger *logrus.Logger
}

// NewCachedClient wraps next with store
func NewCachedClient(next domain.ExtractionClient, store ResponseStore, model string, ttl time.Duration, logger *logrus.Logger) *CachedClient {
	return &CachedClient{
		next:   next,
		store:  store,
		model:  model,
		ttl:    ttl,
		logger: logger,
	}
}

// Extract implements domain.ExtractionClient
func (c *CachedClient) Extract(ctx context.Context, req domain.ExtractionRequest) (string, error) {
	key := CacheKey(c.model, req.FileBytes)

	content, hit, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.WithError(err).WithField("cache_key", key).Warn("Extraction cache read failed")
	}
	if hit {
		c.logger.WithField("cache_key", key).Debug("Extraction cache hit")
		return content, nil
	}

	content, err = c.next.Extract(ctx, req)
	if err != nil {
		return "", err
	}

	// Only answers the pipeline can use are replayed; anything else must
	// reach the model again on resubmission.
	if !cacheable(content) {
		c.logger.WithField("cache_key", key).Debug("Extraction answer carries no biomarkers, not cached")
		return content, nil
	}

	if err := c.store.Set(ctx, key, content, c.ttl); err != nil {
		c.logger.WithError(err).WithField("cache_key", key).Warn("Extraction cache write failed")
	}
	return content, nil
}

func cacheable(content string) bool {
	payload, err := ParsePayload(content)
	return err == nil && len(payload.Biomarkers) > 0
}
