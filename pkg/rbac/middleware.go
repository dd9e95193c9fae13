package rbac

import (
	"context"
	"errors"
	"net/http"

	"github.com/platinummonkey/acesso/pkg/audit"
	"github.com/platinummonkey/acesso/pkg/contextkeys"
	"github.com/platinummonkey/acesso/pkg/httputil"
	"github.com/platinummonkey/acesso/pkg/identity"
	"github.com/platinummonkey/acesso/pkg/observability"
)

// WithEmployee stores the caller's directory record in the context
func WithEmployee(ctx context.Context, emp *Employee) context.Context {
	return context.WithValue(ctx, contextkeys.EmployeeKey, emp)
}

// EmployeeFromContext returns the caller's directory record, nil if unknown
func EmployeeFromContext(ctx context.Context) *Employee {
	emp, _ := ctx.Value(contextkeys.EmployeeKey).(*Employee)
	return emp
}

// PermissionMiddleware gates HTTP routes on permission checks
type PermissionMiddleware struct {
	resolver  *Resolver
	directory EmployeeLookup
	recorder  audit.Recorder
	logger    *observability.Logger
}

// NewPermissionMiddleware creates a new permission middleware
func NewPermissionMiddleware(resolver *Resolver, directory EmployeeLookup, recorder audit.Recorder, logger *observability.Logger) *PermissionMiddleware {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &PermissionMiddleware{
		resolver:  resolver,
		directory: directory,
		recorder:  recorder,
		logger:    logger,
	}
}

// employee resolves the request's authenticated actor to its directory
// record. The token's claims are not trusted for role or status; an
// unknown id or a failed lookup yields nil, which every check denies.
func (pm *PermissionMiddleware) employee(r *http.Request) (*identity.Actor, *Employee) {
	actor := identity.ActorFromContext(r.Context())
	if actor == nil {
		return nil, nil
	}

	emp, err := pm.directory.Get(r.Context(), actor.ID)
	if err != nil {
		if !errors.Is(err, ErrEmployeeNotFound) {
			pm.requestLogger(r).WithError(err).Warn("employee lookup failed, treating caller as unknown")
		}
		return actor, nil
	}
	return actor, emp
}

// Authenticated requires an authenticated caller and attaches its
// directory record when one exists
func (pm *PermissionMiddleware) Authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, emp := pm.employee(r)
		if actor == nil {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), actor, emp)))
	})
}

// Require creates middleware that requires module:action
func (pm *PermissionMiddleware) Require(module Module, action Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, emp := pm.employee(r)
			if actor == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			decision := pm.resolver.Check(r.Context(), emp, module, action)
			if !decision.Allowed {
				pm.denied(r, actor, emp, module, action, decision)
				httputil.WriteForbidden(w, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), actor, emp)))
		})
	}
}

// denied records the access_denied entry. A failed append is logged; the
// request is refused either way.
func (pm *PermissionMiddleware) denied(r *http.Request, actor *identity.Actor, emp *Employee, module Module, action Action, decision Decision) {
	who := ActorOf(emp)
	if emp == nil {
		who = audit.Actor{ID: actor.ID, Name: actor.Name, Role: actor.Role}
	}

	entry := audit.AccessDenied(who, string(module), string(action), decision.Reason)
	if err := pm.recorder.Record(r.Context(), entry); err != nil {
		pm.requestLogger(r).WithError(err).Error("access denial not audited")
	}
}

func (pm *PermissionMiddleware) requestLogger(r *http.Request) *observability.Logger {
	return pm.logger.WithField("request_id", observability.GetRequestID(r.Context()))
}

func withCaller(ctx context.Context, actor *identity.Actor, emp *Employee) context.Context {
	if emp == nil {
		return audit.WithActor(ctx, audit.Actor{ID: actor.ID, Name: actor.Name, Role: actor.Role})
	}
	ctx = WithEmployee(ctx, emp)
	return audit.WithActor(ctx, ActorOf(emp))
}
