package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/acesso/pkg/observability"
	"github.com/platinummonkey/acesso/pkg/storage"
)

// StoreConfig tunes audit writes
type StoreConfig struct {
	// WriteTimeout bounds a single write attempt
	WriteTimeout time.Duration
	// MaxAttempts is the number of write attempts before giving up
	MaxAttempts int
	// RetryBackoff is multiplied by the attempt number between attempts
	RetryBackoff time.Duration
}

// DefaultStoreConfig returns the default write policy
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		WriteTimeout: 5 * time.Second,
		MaxAttempts:  3,
		RetryBackoff: 100 * time.Millisecond,
	}
}

// Store persists audit entries in the audit_logs collection
type Store struct {
	docs    storage.DocumentStore
	config  StoreConfig
	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// NewStore creates an audit store on docs
func NewStore(docs storage.DocumentStore, config StoreConfig, logger *observability.Logger, metrics *observability.Metrics) *Store {
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultStoreConfig().WriteTimeout
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	return &Store{
		docs:    docs,
		config:  config,
		logger:  logger,
		metrics: metrics,
		tracer:  observability.Tracer(),
		now:     time.Now,
	}
}

// Record appends entry. The write is detached from the caller's
// cancellation so an abandoned request still gets its entry written.
// Retries can produce duplicates; entries are never updated.
func (s *Store) Record(ctx context.Context, entry *Entry) error {
	if entry == nil {
		return &RecordError{Err: errors.New("nil entry")}
	}
	if !entry.Action.Valid() {
		return &RecordError{Entry: entry, Err: fmt.Errorf("%w: %q", ErrInvalidAction, entry.Action)}
	}

	prepare(ctx, entry, s.now)

	data, err := json.Marshal(entry)
	if err != nil {
		return &RecordError{Entry: entry, Err: fmt.Errorf("failed to encode entry: %w", err)}
	}

	ctx, span := s.tracer.Start(context.WithoutCancel(ctx), "audit.Record",
		trace.WithAttributes(
			attribute.String("audit.action", string(entry.Action)),
			attribute.String("audit.module", entry.Module),
		),
	)
	defer span.End()

	for attempt := 1; attempt <= s.config.MaxAttempts; attempt++ {
		writeCtx, cancel := context.WithTimeout(ctx, s.config.WriteTimeout)
		err = s.docs.Set(writeCtx, storage.CollectionAuditLogs, entry.ID, data)
		cancel()
		if err == nil {
			break
		}

		s.logger.WithError(err).WithFields(map[string]interface{}{
			"audit_id": entry.ID,
			"action":   entry.Action,
			"attempt":  attempt,
		}).Warn("audit write attempt failed")

		if attempt < s.config.MaxAttempts && s.config.RetryBackoff > 0 {
			time.Sleep(time.Duration(attempt) * s.config.RetryBackoff)
		}
	}

	s.metrics.RecordAudit(string(entry.Action), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "audit write failed")
		s.logger.WithError(err).WithFields(map[string]interface{}{
			"audit_id":  entry.ID,
			"action":    entry.Action,
			"actor_id":  entry.ActorID,
			"target_id": entry.TargetID,
		}).Error("audit entry not recorded")
		return &RecordError{Entry: entry, Err: err}
	}
	return nil
}

// Query returns the entries matching filter, most recent first.
// Module and action are pushed down as equality filters; a collection
// that does not exist yet yields no entries.
func (s *Store) Query(ctx context.Context, filter Filter) ([]*Entry, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveAuditQuery(time.Since(start)) }()

	ctx, span := s.tracer.Start(ctx, "audit.Query")
	defer span.End()

	var eq []storage.Filter
	if filter.Module != "" {
		eq = append(eq, storage.Eq("module", filter.Module))
	}
	if filter.Action != "" {
		eq = append(eq, storage.Eq("action", filter.Action))
	}

	docs, err := s.docs.Query(ctx, storage.CollectionAuditLogs, eq...)
	if err != nil {
		if errors.Is(err, storage.ErrCollectionNotFound) {
			return []*Entry{}, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}

	entries := make([]*Entry, 0, len(docs))
	for _, doc := range docs {
		var entry Entry
		if err := doc.Decode(&entry); err != nil {
			s.logger.WithError(err).WithField("audit_id", doc.ID).Debug("skipping undecodable audit entry")
			continue
		}
		if entry.ID == "" {
			entry.ID = doc.ID
		}
		if filter.Match(&entry) {
			entries = append(entries, &entry)
		}
	}

	SortNewestFirst(entries)
	span.SetAttributes(attribute.Int("audit.results", len(entries)))
	return Page(entries, filter.Limit, filter.Offset), nil
}

// Get returns one entry by id
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	doc, err := s.docs.Get(ctx, storage.CollectionAuditLogs, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrCollectionNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to get audit entry: %w", err)
	}

	var entry Entry
	if err := doc.Decode(&entry); err != nil {
		return nil, err
	}
	if entry.ID == "" {
		entry.ID = doc.ID
	}
	return &entry, nil
}

// Stats summarizes the entries matching filter, ignoring paging
func (s *Store) Stats(ctx context.Context, filter Filter) (Stats, error) {
	entries, err := s.Query(ctx, filter.Unpaged())
	if err != nil {
		return Stats{}, err
	}
	return Summarize(entries), nil
}

// SortNewestFirst orders entries by timestamp descending, then id descending
func SortNewestFirst(entries []*Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		return a.ID > b.ID
	})
}

// Page applies limit and offset to an ordered result
func Page(entries []*Entry, limit, offset int) []*Entry {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(entries) {
		return []*Entry{}
	}
	entries = entries[offset:]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries
}
