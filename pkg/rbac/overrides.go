package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/acesso/pkg/audit"
	"github.com/platinummonkey/acesso/pkg/observability"
	"github.com/platinummonkey/acesso/pkg/storage"
)

// OverrideSource reads an employee's sparse override matrix
type OverrideSource interface {
	Get(ctx context.Context, employeeID string) (PermissionMatrix, error)
}

// OverrideStoreConfig tunes the in-process read cache
type OverrideStoreConfig struct {
	// CacheSize is the number of employees kept, 0 disables the cache.
	// Save only invalidates the local replica, so other replicas may serve
	// a revoked grant for up to CacheTTL.
	CacheSize int
	// CacheTTL bounds staleness across replicas
	CacheTTL time.Duration
	// LoadTimeout bounds a shared read, which outlives any single caller.
	// Defaults to 5s.
	LoadTimeout time.Duration
}

const defaultOverrideLoadTimeout = 5 * time.Second

// OverrideStore persists per-employee overrides in employee_permissions
type OverrideStore struct {
	docs     storage.DocumentStore
	recorder audit.Recorder
	cache    *expirable.LRU[string, PermissionMatrix]
	group    singleflight.Group
	timeout  time.Duration
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   trace.Tracer
	now      func() time.Time

	// mu orders cache fills against invalidations; gen counts invalidations
	mu  sync.Mutex
	gen uint64
}

// NewOverrideStore creates an override store
func NewOverrideStore(docs storage.DocumentStore, recorder audit.Recorder, config OverrideStoreConfig, logger *observability.Logger, metrics *observability.Metrics) *OverrideStore {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if config.LoadTimeout <= 0 {
		config.LoadTimeout = defaultOverrideLoadTimeout
	}

	s := &OverrideStore{
		docs:     docs,
		recorder: recorder,
		timeout:  config.LoadTimeout,
		logger:   logger,
		metrics:  metrics,
		tracer:   observability.Tracer(),
		now:      time.Now,
	}
	if config.CacheSize > 0 {
		s.cache = expirable.NewLRU[string, PermissionMatrix](config.CacheSize, nil, config.CacheTTL)
	}
	return s
}

// Get returns the sparse overrides of employeeID, empty when none were
// ever saved. Callers own the returned matrix.
func (s *OverrideStore) Get(ctx context.Context, employeeID string) (PermissionMatrix, error) {
	if s.cache != nil {
		if m, ok := s.cache.Get(employeeID); ok {
			s.metrics.RecordOverrideCache(true)
			return m.Clone(), nil
		}
		s.metrics.RecordOverrideCache(false)
	}

	// concurrent misses for one employee share a single read, detached from
	// the first caller so its cancellation does not fail the others
	ch := s.group.DoChan(employeeID, func() (interface{}, error) {
		gen := s.generation()
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()

		m, err := s.load(loadCtx, employeeID)
		if err != nil {
			return nil, err
		}
		s.fill(employeeID, m, gen)
		return m, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(PermissionMatrix).Clone(), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: overrides for %s: %w", ErrStoreUnavailable, employeeID, ctx.Err())
	}
}

func (s *OverrideStore) generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// fill caches m unless an invalidation happened since gen was read, in
// which case m may predate the write that caused it
func (s *OverrideStore) fill(employeeID string, m PermissionMatrix, gen uint64) {
	if s.cache == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen {
		s.cache.Add(employeeID, m)
	}
}

// Editable returns the full matrix for the permission editor
func (s *OverrideStore) Editable(ctx context.Context, employeeID string) (PermissionMatrix, error) {
	m, err := s.Get(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	return EditableMatrix(m), nil
}

func (s *OverrideStore) load(ctx context.Context, employeeID string) (PermissionMatrix, error) {
	ctx, span := s.tracer.Start(ctx, "rbac.OverrideStore.load",
		trace.WithAttributes(attribute.String("employee.id", employeeID)),
	)
	defer span.End()

	doc, err := s.docs.Get(ctx, storage.CollectionPermissions, employeeID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrCollectionNotFound) {
			return make(PermissionMatrix), nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "override read failed")
		s.metrics.RecordOverrideStoreError("get")
		return nil, fmt.Errorf("%w: failed to load overrides for %s: %w", ErrStoreUnavailable, employeeID, err)
	}

	var stored storedOverrideDocument
	if err := doc.Decode(&stored); err != nil {
		s.logger.WithError(err).WithField("employee_id", employeeID).Warn("malformed override document ignored")
		return make(PermissionMatrix), nil
	}
	return DecodeMatrix(stored.Permissions), nil
}

// Save replaces the whole override matrix of employeeID and records a
// permission_change entry with the previous and new matrices. Saving the
// same matrix twice is harmless and audited twice.
//
// When the write succeeds but the audit append fails, the write stands and
// the returned error matches audit.ErrRecordFailed.
func (s *OverrideStore) Save(ctx context.Context, employeeID string, matrix PermissionMatrix, actor audit.Actor) error {
	ctx, span := s.tracer.Start(ctx, "rbac.OverrideStore.Save",
		trace.WithAttributes(attribute.String("employee.id", employeeID)),
	)
	defer span.End()

	if err := matrix.Validate(); err != nil {
		s.metrics.RecordOverrideSave("invalid")
		return err
	}

	before, err := s.load(ctx, employeeID)
	if err != nil {
		s.metrics.RecordOverrideSave("error")
		return err
	}

	after := matrix.Clone()
	data, err := json.Marshal(overrideDocument{
		EmployeeID:  employeeID,
		Permissions: after,
		UpdatedAt:   s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode overrides: %w", err)
	}

	err = s.docs.Set(ctx, storage.CollectionPermissions, employeeID, data)
	s.Invalidate(employeeID)
	if err != nil {
		span.RecordError(err)
		s.metrics.RecordOverrideStoreError("save")
		s.metrics.RecordOverrideSave("error")
		return fmt.Errorf("%w: failed to save overrides for %s: %w", ErrStoreUnavailable, employeeID, err)
	}

	changed := Changes(before, after)
	entry := audit.NewEntry(actor, string(ModuleFuncionarios), audit.ActionPermissionChange).
		Target("employee", employeeID).
		WithDetails("permission overrides replaced (%d cells changed)", len(changed)).
		WithDiff(before, after)

	if err := s.recorder.Record(ctx, entry); err != nil {
		s.metrics.RecordOverrideSave("audit_failed")
		s.logger.WithError(err).WithFields(map[string]interface{}{
			"employee_id": employeeID,
			"actor_id":    actor.ID,
		}).Error("overrides saved without audit entry")
		return fmt.Errorf("overrides for %s saved but not audited: %w", employeeID, err)
	}

	s.metrics.RecordOverrideSave("success")
	s.logger.WithFields(map[string]interface{}{
		"employee_id": employeeID,
		"actor_id":    actor.ID,
		"changed":     len(changed),
	}).Info("permission overrides saved")
	return nil
}

// Invalidate drops the cached matrix of employeeID. Reads already in
// flight are not cached and later reads do not join them.
func (s *OverrideStore) Invalidate(employeeID string) {
	s.mu.Lock()
	s.gen++
	if s.cache != nil {
		s.cache.Remove(employeeID)
	}
	s.mu.Unlock()
	s.group.Forget(employeeID)
}
