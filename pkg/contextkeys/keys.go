// Package contextkeys provides centralized context key definitions
//
// All context keys used across the service are defined here so that
// packages never collide on an ad-hoc key.
//
//	import "github.com/platinummonkey/acesso/pkg/contextkeys"
//	ctx = context.WithValue(ctx, contextkeys.ActorKey, actor)
package contextkeys

// Key is the type for context keys to prevent collisions
type Key string

const (
	// ActorKey contains *identity.Actor
	// Set by: identity.Middleware
	// Required by: rbac.PermissionMiddleware, rbac and audit handlers
	ActorKey Key = "actor"

	// EmployeeKey contains *rbac.Employee, the directory record of the actor
	// Set by: rbac.PermissionMiddleware
	// Required by: rbac handlers acting on behalf of the caller
	EmployeeKey Key = "employee"

	// OriginKey contains audit.Origin (client IP and user agent)
	// Set by: audit.OriginMiddleware
	// Used by: audit.Store when an entry has no origin of its own
	OriginKey Key = "audit_origin"

	// AuditActorKey contains audit.Actor resolved from the employee directory
	// Set by: rbac.PermissionMiddleware
	// Used by: audit handlers attributing export entries
	AuditActorKey Key = "audit_actor"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, audit details
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger
	// Set by: httputil.LoggingMiddleware
	LoggerKey Key = "logger"
)
