package audit

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"
)

// MultiRecorder fans an entry out to several recorders concurrently.
// Every recorder gets the same id and timestamp. Record returns an error
// if any recorder failed; the others still complete.
type MultiRecorder struct {
	recorders []Recorder
	now       func() time.Time
}

// NewMultiRecorder creates a fan-out recorder
func NewMultiRecorder(recorders ...Recorder) *MultiRecorder {
	return &MultiRecorder{recorders: recorders, now: time.Now}
}

// Record writes entry to every recorder
func (m *MultiRecorder) Record(ctx context.Context, entry *Entry) error {
	if entry == nil {
		return &RecordError{Err: errors.New("nil entry")}
	}
	prepare(ctx, entry, m.now)

	errs := make([]error, len(m.recorders))
	var g errgroup.Group
	for i, rec := range m.recorders {
		g.Go(func() error {
			// sinks receive their own copy
			copied := *entry
			errs[i] = rec.Record(ctx, &copied)
			return errs[i]
		})
	}
	if g.Wait() == nil {
		return nil
	}

	return &RecordError{Entry: entry, Err: errors.Join(errs...)}
}
