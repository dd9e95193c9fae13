package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/acesso/pkg/audit"
	"github.com/platinummonkey/acesso/pkg/observability"
	"github.com/platinummonkey/acesso/pkg/storage"
)

// faultyStore injects errors in front of a MemoryStore
type faultyStore struct {
	*storage.MemoryStore
	getErr error
	setErr error
	gets   atomic.Int32
	// afterGet runs once a read completed, its error replaces the result
	afterGet func(ctx context.Context, collection, id string) error
}

func (s *faultyStore) Get(ctx context.Context, collection, id string) (*storage.Document, error) {
	s.gets.Add(1)
	if s.getErr != nil {
		return nil, s.getErr
	}
	doc, err := s.MemoryStore.Get(ctx, collection, id)
	if s.afterGet != nil {
		if hookErr := s.afterGet(ctx, collection, id); hookErr != nil {
			return nil, hookErr
		}
	}
	return doc, err
}

func (s *faultyStore) Set(ctx context.Context, collection, id string, data json.RawMessage) error {
	if s.setErr != nil {
		return s.setErr
	}
	return s.MemoryStore.Set(ctx, collection, id, data)
}

// fakeOverrides is an OverrideSource returning fixed results
type fakeOverrides struct {
	matrix PermissionMatrix
	err    error
	panics bool
}

func (f *fakeOverrides) Get(context.Context, string) (PermissionMatrix, error) {
	if f.panics {
		panic("corrupt cache")
	}
	return f.matrix.Clone(), f.err
}

// failingRecorder rejects every entry
type failingRecorder struct {
	mu      sync.Mutex
	entries []*audit.Entry
}

func (f *failingRecorder) Record(_ context.Context, entry *audit.Entry) error {
	f.mu.Lock()
	f.entries = append(f.entries, entry)
	f.mu.Unlock()
	return &audit.RecordError{Entry: entry, Err: errors.New("audit store down")}
}

type testEnv struct {
	docs      *faultyStore
	audit     *audit.Store
	overrides *OverrideStore
	directory *Directory
	resolver  *Resolver
	metrics   *observability.Metrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	docs := &faultyStore{MemoryStore: storage.NewMemoryStore()}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	auditStore := audit.NewStore(docs, audit.StoreConfig{WriteTimeout: time.Second, MaxAttempts: 1}, nil, metrics)
	overrides := NewOverrideStore(docs, auditStore, OverrideStoreConfig{CacheSize: 64, CacheTTL: time.Minute}, nil, metrics)

	return &testEnv{
		docs:      docs,
		audit:     auditStore,
		overrides: overrides,
		directory: NewDirectory(docs, auditStore, nil),
		resolver:  NewResolver(overrides, nil, metrics),
		metrics:   metrics,
	}
}

func (e *testEnv) addEmployee(t *testing.T, id, name string, role Role, status Status) *Employee {
	t.Helper()
	emp := &Employee{ID: id, Name: name, Role: role, Status: status}
	require.NoError(t, e.directory.Create(context.Background(), emp, audit.Actor{ID: "system", Name: "system"}))
	return emp
}

func (e *testEnv) entries(t *testing.T, action audit.Action) []*audit.Entry {
	t.Helper()
	entries, err := e.audit.Query(context.Background(), audit.Filter{Action: action})
	require.NoError(t, err)
	return entries
}

var adminActor = audit.Actor{ID: "admin-1", Name: "Carla", Role: string(RoleAdmin)}
