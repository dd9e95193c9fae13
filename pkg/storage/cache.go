package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/acesso/pkg/observability"
)

// CacheOptions configures CachedStore
type CacheOptions struct {
	// TTL of cached documents
	TTL time.Duration
	// Collections whose Get results are cached. Empty caches nothing.
	Collections []string
	// KeyPrefix namespaces cache keys
	KeyPrefix string
	// Logger receives Redis failures that do not fail the call
	Logger *observability.Logger
}

// CachedStore is a Redis read-through cache in front of a DocumentStore.
// Only Get is cached; Query and List always hit the backing store.
//
// Every cached key has a version key that invalidation increments. A fill
// watches the version key, so a read that started before a write is never
// stored after that write dropped the key.
type CachedStore struct {
	next        DocumentStore
	redis       *redis.Client
	ttl         time.Duration
	prefix      string
	collections map[string]bool
	logger      *observability.Logger
}

type cacheEntry struct {
	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NewCachedStore wraps next with a Redis cache
func NewCachedStore(next DocumentStore, client *redis.Client, opts CacheOptions) *CachedStore {
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "acesso:doc:"
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewNopLogger()
	}

	collections := make(map[string]bool, len(opts.Collections))
	for _, c := range opts.Collections {
		collections[c] = true
	}

	return &CachedStore{
		next:        next,
		redis:       client,
		ttl:         opts.TTL,
		prefix:      opts.KeyPrefix,
		collections: collections,
		logger:      opts.Logger,
	}
}

// Get reads through the cache. Redis failures fall back to the backing store.
func (c *CachedStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	if !c.collections[collection] {
		return c.next.Get(ctx, collection, id)
	}

	key := c.key(collection, id)
	cached, err := c.redis.Get(ctx, key).Bytes()
	if err == nil {
		var entry cacheEntry
		if err := json.Unmarshal(cached, &entry); err == nil {
			return &Document{Collection: collection, ID: id, Data: entry.Data, UpdatedAt: entry.UpdatedAt}, nil
		}
	}

	var (
		doc     *Document
		readErr error
	)
	err = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		doc, readErr = c.next.Get(ctx, collection, id)
		if readErr != nil {
			return readErr
		}
		data, err := json.Marshal(cacheEntry{Data: doc.Data, UpdatedAt: doc.UpdatedAt})
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, c.ttl)
			return nil
		})
		return err
	}, c.versionKey(key))

	switch {
	case readErr != nil:
		return nil, readErr
	case doc == nil:
		// redis unavailable before the read started
		return c.next.Get(ctx, collection, id)
	case errors.Is(err, redis.TxFailedErr):
		// invalidated while reading; the next Get fills again
	case err != nil:
		c.logger.WithError(err).WithField("key", key).Warn("failed to fill document cache")
	}
	return doc, nil
}

// Set writes to the backing store and drops the cached copy. Once the
// backing write succeeded a Redis failure is only logged.
func (c *CachedStore) Set(ctx context.Context, collection, id string, data json.RawMessage) error {
	if err := c.next.Set(ctx, collection, id, data); err != nil {
		return err
	}
	c.invalidateAfterWrite(ctx, collection, id)
	return nil
}

// Merge writes to the backing store and drops the cached copy. Once the
// backing write succeeded a Redis failure is only logged.
func (c *CachedStore) Merge(ctx context.Context, collection, id string, data json.RawMessage) error {
	if err := c.next.Merge(ctx, collection, id, data); err != nil {
		return err
	}
	c.invalidateAfterWrite(ctx, collection, id)
	return nil
}

func (c *CachedStore) invalidateAfterWrite(ctx context.Context, collection, id string) {
	if err := c.Invalidate(ctx, collection, id); err != nil {
		// the cached copy expires with its TTL
		c.logger.WithError(err).WithFields(map[string]interface{}{
			"collection": collection,
			"id":         id,
		}).Error("stale document may be served from cache")
	}
}

// Query is not cached
func (c *CachedStore) Query(ctx context.Context, collection string, filters ...Filter) ([]*Document, error) {
	return c.next.Query(ctx, collection, filters...)
}

// List is not cached
func (c *CachedStore) List(ctx context.Context, collection string) ([]*Document, error) {
	return c.next.List(ctx, collection)
}

// Invalidate bumps the version of a cached document and removes it
func (c *CachedStore) Invalidate(ctx context.Context, collection, id string) error {
	if !c.collections[collection] {
		return nil
	}
	key := c.key(collection, id)
	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, c.versionKey(key))
		pipe.Expire(ctx, c.versionKey(key), 2*c.ttl)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to invalidate cached document %s/%s: %w", collection, id, err)
	}
	return nil
}

func (c *CachedStore) key(collection, id string) string {
	return c.prefix + collection + ":" + id
}

func (c *CachedStore) versionKey(key string) string {
	return key + ":version"
}
