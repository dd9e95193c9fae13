package rbac

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/acesso/pkg/observability"
)

// Source names what decided a permission check
type Source string

const (
	SourceNoActor           Source = "no_actor"
	SourceUnknownPermission Source = "unknown_permission"
	SourceInactive          Source = "inactive"
	SourceOverride          Source = "override"
	SourceRole              Source = "role"
	SourceError             Source = "error"
)

// Decision is the outcome of a permission check
type Decision struct {
	Allowed bool   `json:"allowed"`
	Source  Source `json:"source"`
	Reason  string `json:"reason"`
}

// Resolver decides whether an employee may perform an action on a module.
// A check never returns an error: every failure resolves to deny or, for
// override store failures, to the role default.
type Resolver struct {
	overrides OverrideSource
	logger    *observability.Logger
	metrics   *observability.Metrics
	tracer    trace.Tracer
}

// NewResolver creates a resolver on an override source
func NewResolver(overrides OverrideSource, logger *observability.Logger, metrics *observability.Metrics) *Resolver {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Resolver{
		overrides: overrides,
		logger:    logger,
		metrics:   metrics,
		tracer:    observability.Tracer(),
	}
}

// HasPermission reports whether actor may perform action on module
func (r *Resolver) HasPermission(ctx context.Context, actor *Employee, module Module, action Action) bool {
	return r.Check(ctx, actor, module, action).Allowed
}

// Check resolves one permission. Order: no actor, unknown cell and
// inactive status deny; an explicit override wins; otherwise the role
// default applies.
func (r *Resolver) Check(ctx context.Context, actor *Employee, module Module, action Action) (decision Decision) {
	ctx, span := r.tracer.Start(ctx, "rbac.Resolver.Check",
		trace.WithAttributes(
			attribute.String("rbac.module", string(module)),
			attribute.String("rbac.action", string(action)),
		),
	)
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.WithField("panic", rec).Error("permission check panicked, denying")
			decision = Decision{Allowed: false, Source: SourceError, Reason: "internal error"}
		}
		span.SetAttributes(
			attribute.Bool("rbac.allowed", decision.Allowed),
			attribute.String("rbac.source", string(decision.Source)),
		)
		span.End()
		r.metrics.RecordPermissionCheck(string(module), string(action), decision.Allowed, string(decision.Source))
	}()

	if actor == nil || actor.ID == "" {
		return Decision{Source: SourceNoActor, Reason: "no authenticated employee"}
	}
	if !module.Valid() || !action.Valid() {
		return Decision{Source: SourceUnknownPermission, Reason: fmt.Sprintf("unknown permission %s:%s", module, action)}
	}
	if !actor.Active() {
		return Decision{Source: SourceInactive, Reason: fmt.Sprintf("employee status is %q", actor.Status)}
	}

	if r.overrides != nil {
		overrides, err := r.overrides.Get(ctx, actor.ID)
		if err != nil {
			r.logger.WithError(err).WithField("employee_id", actor.ID).Warn("override lookup failed, using role default")
			return roleDecision(actor.Role, module, action, "override store unavailable, ")
		}
		if allowed, ok := overrides.Lookup(module, action); ok {
			return Decision{Allowed: allowed, Source: SourceOverride, Reason: "explicit override"}
		}
	}

	return roleDecision(actor.Role, module, action, "")
}

func roleDecision(role Role, module Module, action Action, prefix string) Decision {
	allowed := RoleAllows(role, module, action)
	verdict := "denies"
	if allowed {
		verdict = "grants"
	}
	return Decision{
		Allowed: allowed,
		Source:  SourceRole,
		Reason:  fmt.Sprintf("%srole %q %s by default", prefix, role, verdict),
	}
}

// Effective resolves every cell for actor with a single override read.
// Inactive or missing actors get the all-false matrix.
func (r *Resolver) Effective(ctx context.Context, actor *Employee) PermissionMatrix {
	m := FullMatrix()
	if actor == nil || actor.ID == "" || !actor.Active() {
		return m
	}

	var overrides PermissionMatrix
	if r.overrides != nil {
		var err error
		if overrides, err = r.overrides.Get(ctx, actor.ID); err != nil {
			r.logger.WithError(err).WithField("employee_id", actor.ID).Warn("override lookup failed, using role defaults")
			overrides = nil
		}
	}

	for _, p := range AllPermissions() {
		if allowed, ok := overrides.Lookup(p.Module, p.Action); ok {
			m[p.Module][p.Action] = allowed
			continue
		}
		m[p.Module][p.Action] = RoleAllows(actor.Role, p.Module, p.Action)
	}
	return m
}
