// Package audit is the append-only record of security-relevant actions.
//
// Entries are written through a Recorder and never updated or deleted.
// A Store keeps them in the audit_logs document collection; FileRecorder
// and MultiRecorder add a local JSON-lines sink, and Archiver ships
// exports to object storage.
//
// Writes are detached from the caller's cancellation and retried. A write
// that still fails returns a *RecordError, which matches ErrRecordFailed
// under errors.Is. Callers surface it but keep the business change that
// triggered the entry.
//
// Queries combine every set filter field (actor name substring, module,
// action, inclusive time range) and return the newest entries first.
// An audit log that has never been written to reads as empty.
package audit
