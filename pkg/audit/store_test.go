package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/acesso/pkg/observability"
	"github.com/platinummonkey/acesso/pkg/storage"
)

// flakyStore fails the first failures writes
type flakyStore struct {
	*storage.MemoryStore
	mu       sync.Mutex
	failures int
	writes   int
	queryErr error
}

func (s *flakyStore) Set(ctx context.Context, collection, id string, data json.RawMessage) error {
	s.mu.Lock()
	s.writes++
	fail := s.writes <= s.failures
	s.mu.Unlock()
	if fail {
		return errors.New("write timeout")
	}
	return s.MemoryStore.Set(ctx, collection, id, data)
}

func (s *flakyStore) Query(ctx context.Context, collection string, filters ...storage.Filter) ([]*storage.Document, error) {
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return s.MemoryStore.Query(ctx, collection, filters...)
}

func newTestStore(t *testing.T, docs storage.DocumentStore) (*Store, *observability.Metrics) {
	t.Helper()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	store := NewStore(docs, StoreConfig{WriteTimeout: time.Second, MaxAttempts: 3}, observability.NewNopLogger(), metrics)
	return store, metrics
}

var (
	admin = Actor{ID: "emp-1", Name: "Carla Souza", Role: "Admin"}
	ana   = Actor{ID: "emp-2", Name: "Ana Lima", Role: "Atendimento"}
)

func seed(t *testing.T, store *Store, base time.Time) {
	t.Helper()
	ctx := context.Background()
	entries := []*Entry{
		NewEntry(admin, "funcionarios", ActionPermissionChange).Target("employee", "emp-2"),
		NewEntry(ana, "clientes", ActionCreate).Target("cliente", "c-1"),
		NewEntry(ana, "cobrancas", ActionAccessDenied),
		NewEntry(admin, "clientes", ActionDelete).Target("cliente", "c-1"),
		NewEntry(admin, "auth", ActionLogin),
	}
	for i, e := range entries {
		e.Timestamp = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, store.Record(ctx, e))
	}
}

func TestStore_RecordAssignsIdentity(t *testing.T) {
	store, metrics := newTestStore(t, storage.NewMemoryStore())
	ctx := WithOrigin(context.Background(), Origin{IPAddress: "10.0.0.7", UserAgent: "curl/8"})

	entry := NewEntry(admin, "clientes", ActionUpdate).Target("cliente", "c-9")
	require.NoError(t, store.Record(ctx, entry))

	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.Timestamp.IsZero())
	assert.Equal(t, time.UTC, entry.Timestamp.Location())
	assert.Equal(t, "10.0.0.7", entry.IPAddress)

	got, err := store.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, entry.ActorName, got.ActorName)
	assert.Equal(t, "curl/8", got.UserAgent)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AuditRecordsTotal.WithLabelValues("update", "success")))
}

func TestStore_RecordRejectsUnknownAction(t *testing.T) {
	store, _ := newTestStore(t, storage.NewMemoryStore())

	err := store.Record(context.Background(), NewEntry(admin, "clientes", Action("rename")))
	assert.ErrorIs(t, err, ErrRecordFailed)
	assert.ErrorIs(t, err, ErrInvalidAction)
}

func TestStore_RecordSurvivesCanceledCaller(t *testing.T) {
	store, _ := newTestStore(t, storage.NewMemoryStore())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	entry := NewEntry(admin, "funcionarios", ActionSuspend).Target("employee", "emp-2")
	require.NoError(t, store.Record(ctx, entry))

	entries, err := store.Query(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStore_RecordRetries(t *testing.T) {
	docs := &flakyStore{MemoryStore: storage.NewMemoryStore(), failures: 2}
	store, _ := newTestStore(t, docs)

	require.NoError(t, store.Record(context.Background(), NewEntry(admin, "auth", ActionLogout)))
	assert.Equal(t, 3, docs.writes)
}

func TestStore_RecordGivesUp(t *testing.T) {
	docs := &flakyStore{MemoryStore: storage.NewMemoryStore(), failures: 10}
	store, metrics := newTestStore(t, docs)

	entry := NewEntry(admin, "auth", ActionLoginFailed)
	err := store.Record(context.Background(), entry)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRecordFailed)

	var recErr *RecordError
	require.ErrorAs(t, err, &recErr)
	assert.Same(t, entry, recErr.Entry)
	assert.Equal(t, 3, docs.writes)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AuditRecordsTotal.WithLabelValues("login_failed", "failure")))
}

func TestStore_QueryMissingCollection(t *testing.T) {
	docs := &flakyStore{MemoryStore: storage.NewMemoryStore(), queryErr: storage.ErrCollectionNotFound}
	store, _ := newTestStore(t, docs)

	entries, err := store.Query(context.Background(), Filter{Module: "clientes"})
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestStore_QueryError(t *testing.T) {
	docs := &flakyStore{MemoryStore: storage.NewMemoryStore(), queryErr: errors.New("connection reset")}
	store, _ := newTestStore(t, docs)

	_, err := store.Query(context.Background(), Filter{})
	assert.ErrorContains(t, err, "connection reset")
}

func TestStore_QueryNewestFirst(t *testing.T) {
	store, _ := newTestStore(t, storage.NewMemoryStore())
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	seed(t, store, base)

	entries, err := store.Query(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 5)
	for i := 1; i < len(entries); i++ {
		assert.False(t, entries[i].Timestamp.After(entries[i-1].Timestamp))
	}
	assert.Equal(t, ActionLogin, entries[0].Action)
}

func TestStore_QueryFilters(t *testing.T) {
	store, _ := newTestStore(t, storage.NewMemoryStore())
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	seed(t, store, base)

	start := base.Add(time.Hour)
	end := base.Add(3 * time.Hour)

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"no filter", Filter{}, 5},
		{"actor substring case insensitive", Filter{ActorName: "ana"}, 2},
		{"module exact", Filter{Module: "clientes"}, 2},
		{"module is not a prefix match", Filter{Module: "client"}, 0},
		{"action exact", Filter{Action: ActionAccessDenied}, 1},
		{"actor and module", Filter{ActorName: "CARLA", Module: "clientes"}, 1},
		{"range is inclusive", Filter{Start: &start, End: &end}, 3},
		{"all criteria", Filter{ActorName: "souza", Module: "clientes", Action: ActionDelete, Start: &start, End: &end}, 1},
		{"conflicting criteria", Filter{ActorName: "ana", Action: ActionLogin}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := store.Query(context.Background(), tt.filter)
			require.NoError(t, err)
			assert.Len(t, entries, tt.want)
			for _, e := range entries {
				assert.True(t, tt.filter.Match(e))
			}
		})
	}
}

func TestStore_QueryPaging(t *testing.T) {
	store, _ := newTestStore(t, storage.NewMemoryStore())
	seed(t, store, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))

	all, err := store.Query(context.Background(), Filter{})
	require.NoError(t, err)

	page, err := store.Query(context.Background(), Filter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, all[1].ID, page[0].ID)
	assert.Equal(t, all[2].ID, page[1].ID)

	past, err := store.Query(context.Background(), Filter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, past)
}

func TestStore_GetMissing(t *testing.T) {
	store, _ := newTestStore(t, storage.NewMemoryStore())

	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestStore_Stats(t *testing.T) {
	store, _ := newTestStore(t, storage.NewMemoryStore())
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	seed(t, store, base)

	stats, err := store.Stats(context.Background(), Filter{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Total)
	assert.Equal(t, 2, stats.ByModule["clientes"])
	assert.Equal(t, 1, stats.ByAction[ActionPermissionChange])
	require.NotNil(t, stats.Earliest)
	assert.True(t, base.Equal(*stats.Earliest))
	assert.True(t, base.Add(4*time.Hour).Equal(*stats.Latest))
}

func TestSortNewestFirst_TieBreaksOnID(t *testing.T) {
	ts := time.Now()
	entries := []*Entry{{ID: "a", Timestamp: ts}, {ID: "c", Timestamp: ts}, {ID: "b", Timestamp: ts}}
	SortNewestFirst(entries)
	assert.Equal(t, []string{"c", "b", "a"}, []string{entries[0].ID, entries[1].ID, entries[2].ID})
}
