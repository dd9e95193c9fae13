package storage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStore counts Get calls on the backing store. afterRead, when
// set, runs between reading a document and returning it.
type countingStore struct {
	*MemoryStore
	gets      int
	err       error
	afterRead func()
}

func (s *countingStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	s.gets++
	if s.err != nil {
		return nil, s.err
	}
	doc, err := s.MemoryStore.Get(ctx, collection, id)
	if s.afterRead != nil {
		s.afterRead()
	}
	return doc, err
}

func setupCachedStore(t *testing.T) (*CachedStore, *countingStore, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	backing := &countingStore{MemoryStore: NewMemoryStore()}
	cached := NewCachedStore(backing, client, CacheOptions{
		TTL:         time.Minute,
		Collections: []string{CollectionPermissions},
	})
	return cached, backing, mr
}

func TestCachedStore_ReadThrough(t *testing.T) {
	ctx := context.Background()
	cached, backing, mr := setupCachedStore(t)

	require.NoError(t, cached.Set(ctx, CollectionPermissions, "ana", json.RawMessage(`{"employeeId":"ana"}`)))

	doc, err := cached.Get(ctx, CollectionPermissions, "ana")
	require.NoError(t, err)
	assert.JSONEq(t, `{"employeeId":"ana"}`, string(doc.Data))
	assert.Equal(t, 1, backing.gets)
	assert.True(t, mr.Exists("acesso:doc:employee_permissions:ana"))

	doc, err = cached.Get(ctx, CollectionPermissions, "ana")
	require.NoError(t, err)
	assert.JSONEq(t, `{"employeeId":"ana"}`, string(doc.Data))
	assert.Equal(t, 1, backing.gets, "second read should be served from redis")
}

func TestCachedStore_WriteInvalidates(t *testing.T) {
	ctx := context.Background()
	cached, backing, mr := setupCachedStore(t)

	require.NoError(t, cached.Set(ctx, CollectionPermissions, "ana", json.RawMessage(`{"v":1}`)))
	_, err := cached.Get(ctx, CollectionPermissions, "ana")
	require.NoError(t, err)

	require.NoError(t, cached.Set(ctx, CollectionPermissions, "ana", json.RawMessage(`{"v":2}`)))
	assert.False(t, mr.Exists("acesso:doc:employee_permissions:ana"))

	doc, err := cached.Get(ctx, CollectionPermissions, "ana")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(doc.Data))

	require.NoError(t, cached.Merge(ctx, CollectionPermissions, "ana", json.RawMessage(`{"w":3}`)))
	doc, err = cached.Get(ctx, CollectionPermissions, "ana")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2,"w":3}`, string(doc.Data))
	assert.Equal(t, 3, backing.gets)
}

func TestCachedStore_UncachedCollection(t *testing.T) {
	ctx := context.Background()
	cached, backing, mr := setupCachedStore(t)

	require.NoError(t, cached.Set(ctx, CollectionEmployees, "ana", json.RawMessage(`{}`)))
	_, err := cached.Get(ctx, CollectionEmployees, "ana")
	require.NoError(t, err)
	_, err = cached.Get(ctx, CollectionEmployees, "ana")
	require.NoError(t, err)

	assert.Equal(t, 2, backing.gets)
	assert.Empty(t, mr.Keys())
}

func TestCachedStore_NotFoundIsNotCached(t *testing.T) {
	ctx := context.Background()
	cached, _, mr := setupCachedStore(t)

	_, err := cached.Get(ctx, CollectionPermissions, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, mr.Keys())
}

func TestCachedStore_RedisDownFallsBack(t *testing.T) {
	ctx := context.Background()
	cached, backing, mr := setupCachedStore(t)

	require.NoError(t, backing.MemoryStore.Set(ctx, CollectionPermissions, "ana", json.RawMessage(`{"v":1}`)))
	mr.Close()

	doc, err := cached.Get(ctx, CollectionPermissions, "ana")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, string(doc.Data))
}

func TestCachedStore_BackingError(t *testing.T) {
	ctx := context.Background()
	cached, backing, _ := setupCachedStore(t)
	backing.err = errors.New("connection refused")

	_, err := cached.Get(ctx, CollectionPermissions, "ana")
	assert.EqualError(t, err, "connection refused")
}

func TestCachedStore_WriteDuringFillIsNotOverwritten(t *testing.T) {
	ctx := context.Background()
	cached, backing, mr := setupCachedStore(t)
	key := "acesso:doc:employee_permissions:ana"

	require.NoError(t, backing.MemoryStore.Set(ctx, CollectionPermissions, "ana", json.RawMessage(`{"status":"active"}`)))

	read := make(chan struct{})
	release := make(chan struct{})
	backing.afterRead = func() {
		close(read)
		<-release
	}

	done := make(chan *Document)
	go func() {
		doc, err := cached.Get(ctx, CollectionPermissions, "ana")
		assert.NoError(t, err)
		done <- doc
	}()

	<-read
	require.NoError(t, cached.Merge(ctx, CollectionPermissions, "ana", json.RawMessage(`{"status":"suspended"}`)))
	close(release)

	stale := <-done
	assert.JSONEq(t, `{"status":"active"}`, string(stale.Data), "the racing read returns what it read")
	assert.False(t, mr.Exists(key), "a read older than the write must not be cached")

	backing.afterRead = nil
	doc, err := cached.Get(ctx, CollectionPermissions, "ana")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"suspended"}`, string(doc.Data))
	assert.True(t, mr.Exists(key))
}

func TestCachedStore_WriteSucceedsWhenRedisDown(t *testing.T) {
	ctx := context.Background()
	cached, backing, mr := setupCachedStore(t)
	mr.Close()

	require.NoError(t, cached.Set(ctx, CollectionPermissions, "ana", json.RawMessage(`{"v":1}`)))
	require.NoError(t, cached.Merge(ctx, CollectionPermissions, "ana", json.RawMessage(`{"w":2}`)))

	doc, err := backing.MemoryStore.Get(ctx, CollectionPermissions, "ana")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1,"w":2}`, string(doc.Data))

	assert.Error(t, cached.Invalidate(ctx, CollectionPermissions, "ana"))
}
