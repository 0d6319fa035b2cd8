package subscription

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/latticefact/runtime/internal/spec"
)

// FeedCache caches a specification's decomposed feed strings keyed by its
// canonical hash, avoiding re-running internal/feed's decomposition on every
// Subscribe call for a specification this process has already seen.
// Mirrors pkg/kernel's Redis-backed limiter store: a small, TTL'd
// key/value wrapper around *redis.Client rather than a bespoke cache
// implementation.
type FeedCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewFeedCache connects to a Redis instance at addr for feed-string and MRU-
// date caching.
func NewFeedCache(addr, password string, db int, ttl time.Duration) *FeedCache {
	return &FeedCache{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		ttl:    ttl,
	}
}

// SpecHash computes the cache key for a specification: the hex SHA-256 of
// its JSON encoding. Used both as the feed-cache key and as the MRU-date
// key, matching spec.md §5's "feed cache maps specification-hash -> feed-
// string list".
func SpecHash(s spec.Specification) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Feeds returns the cached feed-string list for specHash, or (nil, false)
// on a cache miss.
func (c *FeedCache) Feeds(ctx context.Context, specHash string) ([]string, bool, error) {
	raw, err := c.client.Get(ctx, feedCacheKey(specHash)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var feeds []string
	if err := json.Unmarshal([]byte(raw), &feeds); err != nil {
		return nil, false, err
	}
	return feeds, true, nil
}

// SetFeeds caches feeds under specHash.
func (c *FeedCache) SetFeeds(ctx context.Context, specHash string, feeds []string) error {
	data, err := json.Marshal(feeds)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, feedCacheKey(specHash), data, c.ttl).Err()
}

// Invalidate drops the cached feed list for specHash. Per spec.md §5, any
// feed-level error invalidates the cache entry for the specification it
// came from, forcing the next Subscribe to re-decompose it.
func (c *FeedCache) Invalidate(ctx context.Context, specHash string) error {
	return c.client.Del(ctx, feedCacheKey(specHash)).Err()
}

// MRUDate returns the cached most-recently-updated timestamp for specHash.
func (c *FeedCache) MRUDate(ctx context.Context, specHash string) (time.Time, bool, error) {
	raw, err := c.client.Get(ctx, mruCacheKey(specHash)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	when, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, err
	}
	return when, true, nil
}

// SetMRUDate caches when as the MRU timestamp for specHash.
func (c *FeedCache) SetMRUDate(ctx context.Context, specHash string, when time.Time) error {
	return c.client.Set(ctx, mruCacheKey(specHash), when.Format(time.RFC3339Nano), c.ttl).Err()
}

func feedCacheKey(specHash string) string { return "feedcache:" + specHash }
func mruCacheKey(specHash string) string  { return "mrucache:" + specHash }
