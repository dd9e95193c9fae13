package audit

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/acesso/pkg/httputil"
	"github.com/platinummonkey/acesso/pkg/identity"
	"github.com/platinummonkey/acesso/pkg/observability"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000

	// ModuleAudit is the module export entries are recorded under
	ModuleAudit = "audit"
)

// QueryRecorder is a store that serves both reads and writes
type QueryRecorder interface {
	Recorder
	Querier
}

// RouteGuards wraps routes with authorization. Nil guards leave the
// route open.
type RouteGuards struct {
	View   func(http.Handler) http.Handler
	Export func(http.Handler) http.Handler
}

// Handlers serves the audit log over HTTP
type Handlers struct {
	store   QueryRecorder
	guards  RouteGuards
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewHandlers creates audit HTTP handlers
func NewHandlers(store QueryRecorder, guards RouteGuards, metrics *observability.Metrics, logger *observability.Logger) *Handlers {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Handlers{store: store, guards: guards, metrics: metrics, logger: logger}
}

// RegisterRoutes registers audit routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	view := guard(h.guards.View)
	export := guard(h.guards.Export)

	router.Handle("/audit/entries", view(http.HandlerFunc(h.listEntries))).Methods("GET")
	router.Handle("/audit/entries/{id}", view(http.HandlerFunc(h.getEntry))).Methods("GET")
	router.Handle("/audit/stats", view(http.HandlerFunc(h.stats))).Methods("GET")
	router.Handle("/audit/export", export(http.HandlerFunc(h.export))).Methods("GET")
}

func guard(g func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	if g == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return g
}

type listResponse struct {
	Entries []*Entry `json:"entries"`
	Total   int      `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
}

// listEntries handles GET /audit/entries
func (h *Handlers) listEntries(w http.ResponseWriter, r *http.Request) {
	filter, err := ParseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	all, err := h.store.Query(r.Context(), filter.Unpaged())
	if err != nil {
		h.requestLogger(r).WithError(err).Error("audit query failed")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteSuccess(w, listResponse{
		Entries: Page(all, filter.Limit, filter.Offset),
		Total:   len(all),
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	})
}

// getEntry handles GET /audit/entries/{id}
func (h *Handlers) getEntry(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathString(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	entry, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			httputil.WriteNotFoundError(w, "audit entry not found")
			return
		}
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, entry)
}

// stats handles GET /audit/stats
func (h *Handlers) stats(w http.ResponseWriter, r *http.Request) {
	filter, err := ParseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	entries, err := h.store.Query(r.Context(), filter.Unpaged())
	if err != nil {
		h.requestLogger(r).WithError(err).Error("audit stats query failed")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, Summarize(entries))
}

// export handles GET /audit/export. The body holds exactly the rows the
// same filter lists, unpaged.
func (h *Handlers) export(w http.ResponseWriter, r *http.Request) {
	filter, err := ParseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	format, err := ParseExportFormat(r.URL.Query().Get("format"))
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	entries, err := h.store.Query(r.Context(), filter.Unpaged())
	if err != nil {
		httputil.WriteInternalError(w)
		return
	}

	name := fmt.Sprintf("audit-%s.%s", time.Now().UTC().Format("20060102-150405"), format.Extension())
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("X-Audit-Rows", fmt.Sprint(len(entries)))
	if err := Export(w, entries, format); err != nil {
		h.requestLogger(r).WithError(err).Error("audit export failed")
		return
	}
	h.metrics.RecordAuditExport(string(format))

	entry := NewEntry(requestActor(r), ModuleAudit, ActionExport).
		Target("audit_log", "").
		WithDetails("exported %d entries as %s", len(entries), format)
	if err := h.store.Record(r.Context(), entry); err != nil {
		// the export already went out; the failure is logged by the store
		h.requestLogger(r).WithError(err).Warn("export not audited")
	}
}

func (h *Handlers) requestLogger(r *http.Request) *observability.Logger {
	return h.logger.WithField("request_id", observability.GetRequestID(r.Context()))
}

// requestActor attributes an entry to the directory actor when the
// permission layer resolved one, else to the token claims
func requestActor(r *http.Request) Actor {
	if actor, ok := ActorFromContext(r.Context()); ok {
		return actor
	}
	if actor := identity.ActorFromContext(r.Context()); actor != nil {
		return Actor{ID: actor.ID, Name: actor.Name, Role: actor.Role}
	}
	return Actor{}
}

// ParseFilter reads actor, module, action, start, end, limit and offset
// query parameters. A date-only end covers the whole day.
func ParseFilter(r *http.Request) (Filter, error) {
	q := r.URL.Query()
	filter := Filter{
		ActorName: strings.TrimSpace(q.Get("actor")),
		Module:    strings.TrimSpace(q.Get("module")),
		Action:    Action(strings.TrimSpace(q.Get("action"))),
	}
	if filter.Action != "" && !filter.Action.Valid() {
		return Filter{}, fmt.Errorf("%w: %q", ErrInvalidAction, filter.Action)
	}

	var err error
	if filter.Start, err = httputil.ParseQueryTime(r, "start", false); err != nil {
		return Filter{}, err
	}
	if filter.End, err = httputil.ParseQueryTime(r, "end", true); err != nil {
		return Filter{}, err
	}
	if filter.Start != nil && filter.End != nil && filter.End.Before(*filter.Start) {
		return Filter{}, errors.New("end must not be before start")
	}

	if filter.Limit, err = httputil.ParseQueryInt(r, "limit", defaultPageSize); err != nil {
		return Filter{}, err
	}
	if filter.Limit < 1 || filter.Limit > maxPageSize {
		return Filter{}, fmt.Errorf("limit must be between 1 and %d", maxPageSize)
	}
	if filter.Offset, err = httputil.ParseQueryInt(r, "offset", 0); err != nil {
		return Filter{}, err
	}
	if filter.Offset < 0 {
		return Filter{}, errors.New("offset must not be negative")
	}
	return filter, nil
}
