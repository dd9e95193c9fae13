package audit

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Action is the kind of an audited event. The vocabulary is closed.
type Action string

const (
	ActionLogin            Action = "login"
	ActionLogout           Action = "logout"
	ActionLoginFailed      Action = "login_failed"
	ActionCreate           Action = "create"
	ActionUpdate           Action = "update"
	ActionDelete           Action = "delete"
	ActionPermissionChange Action = "permission_change"
	ActionSuspend          Action = "suspend"
	ActionApprove          Action = "approve"
	ActionExport           Action = "export"
	ActionAccessDenied     Action = "access_denied"
)

var actions = []Action{
	ActionLogin,
	ActionLogout,
	ActionLoginFailed,
	ActionCreate,
	ActionUpdate,
	ActionDelete,
	ActionPermissionChange,
	ActionSuspend,
	ActionApprove,
	ActionExport,
	ActionAccessDenied,
}

// Actions returns the audit vocabulary
func Actions() []Action {
	return append([]Action(nil), actions...)
}

// Valid reports whether a belongs to the vocabulary
func (a Action) Valid() bool {
	for _, known := range actions {
		if a == known {
			return true
		}
	}
	return false
}

var (
	// ErrRecordFailed marks an audit entry that could not be persisted
	ErrRecordFailed = errors.New("audit entry not recorded")
	// ErrInvalidAction is returned for actions outside the vocabulary
	ErrInvalidAction = errors.New("invalid audit action")
	// ErrEntryNotFound is returned by Get for unknown ids
	ErrEntryNotFound = errors.New("audit entry not found")
)

// RecordError reports a failed audit write. The business action the entry
// describes is not affected by it.
type RecordError struct {
	Entry *Entry
	Err   error
}

func (e *RecordError) Error() string {
	action := Action("")
	if e.Entry != nil {
		action = e.Entry.Action
	}
	return fmt.Sprintf("failed to record audit entry (action=%s): %v", action, e.Err)
}

// Unwrap exposes both ErrRecordFailed and the underlying cause
func (e *RecordError) Unwrap() []error {
	return []error{ErrRecordFailed, e.Err}
}

// Actor identifies who performed an audited action
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// Origin is where a request came from
type Origin struct {
	IPAddress string `json:"ipAddress"`
	UserAgent string `json:"userAgent"`
}

// Entry is one immutable audit record
type Entry struct {
	ID         string      `json:"id"`
	Timestamp  time.Time   `json:"timestamp"`
	ActorID    string      `json:"actorId"`
	ActorName  string      `json:"actorName"`
	ActorRole  string      `json:"actorRole"`
	Module     string      `json:"module"`
	Action     Action      `json:"action"`
	TargetType string      `json:"targetType"`
	TargetID   string      `json:"targetId"`
	Details    string      `json:"details"`
	IPAddress  string      `json:"ipAddress"`
	UserAgent  string      `json:"userAgent"`
	DiffBefore interface{} `json:"diffBefore,omitempty"`
	DiffAfter  interface{} `json:"diffAfter,omitempty"`
}

// NewEntry starts an entry for actor performing action on module
func NewEntry(actor Actor, module string, action Action) *Entry {
	return &Entry{
		ActorID:   actor.ID,
		ActorName: actor.Name,
		ActorRole: actor.Role,
		Module:    module,
		Action:    action,
	}
}

// Target sets the affected object
func (e *Entry) Target(targetType, targetID string) *Entry {
	e.TargetType = targetType
	e.TargetID = targetID
	return e
}

// WithDetails sets the free-text details
func (e *Entry) WithDetails(format string, args ...interface{}) *Entry {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

// WithDiff sets the before and after snapshots
func (e *Entry) WithDiff(before, after interface{}) *Entry {
	e.DiffBefore = before
	e.DiffAfter = after
	return e
}

// WithOrigin sets the request origin
func (e *Entry) WithOrigin(origin Origin) *Entry {
	e.IPAddress = origin.IPAddress
	e.UserAgent = origin.UserAgent
	return e
}

// AccessDenied builds the entry a feature emits when a permission check
// refused actor the requested action on module
func AccessDenied(actor Actor, module, requested, reason string) *Entry {
	return NewEntry(actor, module, ActionAccessDenied).
		Target("permission", module+":"+requested).
		WithDetails("denied %s on %s: %s", requested, module, reason)
}

// Filter selects audit entries. Every set field must match.
type Filter struct {
	// ActorName matches a case-insensitive substring of the actor name
	ActorName string `json:"actorName,omitempty"`
	Module    string `json:"module,omitempty"`
	Action    Action `json:"action,omitempty"`
	// Start and End bound the timestamp inclusively
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`

	// Limit and Offset page the ordered result; zero Limit means no limit
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// Match reports whether e satisfies every criterion of the filter
func (f Filter) Match(e *Entry) bool {
	if f.ActorName != "" && !strings.Contains(strings.ToLower(e.ActorName), strings.ToLower(f.ActorName)) {
		return false
	}
	if f.Module != "" && e.Module != f.Module {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Start != nil && e.Timestamp.Before(*f.Start) {
		return false
	}
	if f.End != nil && e.Timestamp.After(*f.End) {
		return false
	}
	return true
}

// Unpaged returns the filter without Limit and Offset
func (f Filter) Unpaged() Filter {
	f.Limit = 0
	f.Offset = 0
	return f
}

// Stats summarizes a set of entries
type Stats struct {
	Total    int            `json:"total"`
	ByAction map[Action]int `json:"byAction"`
	ByModule map[string]int `json:"byModule"`
	Earliest *time.Time     `json:"earliest,omitempty"`
	Latest   *time.Time     `json:"latest,omitempty"`
}

// Summarize counts entries by action and module
func Summarize(entries []*Entry) Stats {
	stats := Stats{
		Total:    len(entries),
		ByAction: make(map[Action]int),
		ByModule: make(map[string]int),
	}

	for _, e := range entries {
		stats.ByAction[e.Action]++
		stats.ByModule[e.Module]++

		ts := e.Timestamp
		if stats.Earliest == nil || ts.Before(*stats.Earliest) {
			stats.Earliest = &ts
		}
		if stats.Latest == nil || ts.After(*stats.Latest) {
			latest := ts
			stats.Latest = &latest
		}
	}
	return stats
}
