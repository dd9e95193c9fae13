package rbac

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/acesso/pkg/audit"
	"github.com/platinummonkey/acesso/pkg/httputil"
	"github.com/platinummonkey/acesso/pkg/observability"
)

// Handlers provides HTTP handlers for RBAC operations
type Handlers struct {
	directory *Directory
	overrides *OverrideStore
	resolver  *Resolver
	guard     *PermissionMiddleware
	validate  *validator.Validate
	logger    *observability.Logger
}

// NewHandlers creates new RBAC handlers
func NewHandlers(directory *Directory, overrides *OverrideStore, resolver *Resolver, guard *PermissionMiddleware, logger *observability.Logger) *Handlers {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Handlers{
		directory: directory,
		overrides: overrides,
		resolver:  resolver,
		guard:     guard,
		validate:  NewValidator(),
		logger:    logger,
	}
}

// RegisterRoutes registers all RBAC routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	require := func(action Action, fn http.HandlerFunc) http.Handler {
		return h.guard.Require(ModuleFuncionarios, action)(fn)
	}

	// Catalogue and self-service
	router.HandleFunc("/rbac/roles", h.ListRoles).Methods("GET")
	router.Handle("/rbac/me/permissions", h.guard.Authenticated(http.HandlerFunc(h.MyPermissions))).Methods("GET")
	router.Handle("/rbac/check", h.guard.Authenticated(http.HandlerFunc(h.CheckPermission))).Methods("POST")

	// Employee management
	router.Handle("/rbac/employees", require(ActionView, h.ListEmployees)).Methods("GET")
	router.Handle("/rbac/employees", require(ActionCreate, h.CreateEmployee)).Methods("POST")
	router.Handle("/rbac/employees/{id}", require(ActionView, h.GetEmployee)).Methods("GET")
	router.Handle("/rbac/employees/{id}/status", require(ActionUpdate, h.SetStatus)).Methods("PUT")
	router.Handle("/rbac/employees/{id}/role", require(ActionUpdate, h.SetRole)).Methods("PUT")

	// Permission overrides
	router.Handle("/rbac/employees/{id}/permissions", require(ActionManageSettings, h.GetPermissions)).Methods("GET")
	router.Handle("/rbac/employees/{id}/permissions", require(ActionManageSettings, h.SavePermissions)).Methods("PUT")
}

type roleResponse struct {
	RoleTemplate
	Grants []Permission `json:"grants"`
}

// ListRoles handles GET /rbac/roles
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	templates := RoleTemplates()
	resp := make([]roleResponse, 0, len(templates))
	for _, t := range templates {
		grants := Grants(t.Role)
		if grants == nil {
			grants = []Permission{}
		}
		resp = append(resp, roleResponse{RoleTemplate: t, Grants: grants})
	}
	httputil.WriteSuccess(w, resp)
}

type effectiveResponse struct {
	EmployeeID  string           `json:"employeeId"`
	Role        Role             `json:"role,omitempty"`
	Status      Status           `json:"status,omitempty"`
	Permissions PermissionMatrix `json:"permissions"`
}

// MyPermissions handles GET /rbac/me/permissions
func (h *Handlers) MyPermissions(w http.ResponseWriter, r *http.Request) {
	emp := EmployeeFromContext(r.Context())
	resp := effectiveResponse{
		EmployeeID:  audit.ActorOrEmpty(r.Context()).ID,
		Permissions: h.resolver.Effective(r.Context(), emp),
	}
	if emp != nil {
		resp.Role = emp.Role
		resp.Status = emp.Status
	}
	httputil.WriteSuccess(w, resp)
}

type checkRequest struct {
	Module Module `json:"module" validate:"module"`
	Action Action `json:"action" validate:"action"`
}

type checkResponse struct {
	Module Module `json:"module"`
	Action Action `json:"action"`
	Decision
}

// CheckPermission handles POST /rbac/check for the caller
func (h *Handlers) CheckPermission(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if !httputil.DecodeAndValidate(w, r, h.validate, &req) {
		return
	}

	decision := h.resolver.Check(r.Context(), EmployeeFromContext(r.Context()), req.Module, req.Action)
	httputil.WriteSuccess(w, checkResponse{Module: req.Module, Action: req.Action, Decision: decision})
}

// ListEmployees handles GET /rbac/employees, optionally ?role=
func (h *Handlers) ListEmployees(w http.ResponseWriter, r *http.Request) {
	var (
		employees []*Employee
		err       error
	)
	if role := Role(r.URL.Query().Get("role")); role != "" {
		if !role.Valid() {
			httputil.WriteBadRequest(w, "unknown role")
			return
		}
		employees, err = h.directory.ListByRole(r.Context(), role)
	} else {
		employees, err = h.directory.List(r.Context())
	}
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, employees)
}

type createEmployeeRequest struct {
	ID     string `json:"id" validate:"required,max=128"`
	Name   string `json:"name" validate:"required,max=200"`
	Email  string `json:"email" validate:"omitempty,email"`
	Role   Role   `json:"role" validate:"role"`
	Status Status `json:"status" validate:"omitempty,status"`
}

type mutationResponse struct {
	Employee      *Employee `json:"employee"`
	AuditRecorded bool      `json:"auditRecorded"`
}

// CreateEmployee handles POST /rbac/employees
func (h *Handlers) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req createEmployeeRequest
	if !httputil.DecodeAndValidate(w, r, h.validate, &req) {
		return
	}

	emp := &Employee{ID: req.ID, Name: req.Name, Email: req.Email, Role: req.Role, Status: req.Status}
	err := h.directory.Create(r.Context(), emp, audit.ActorOrEmpty(r.Context()))
	if err != nil && !errors.Is(err, audit.ErrRecordFailed) {
		if errors.Is(err, ErrEmployeeExists) {
			httputil.WriteConflict(w, "employee already exists")
			return
		}
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			httputil.WriteValidationErrors(w, err)
			return
		}
		h.storeError(w, r, err)
		return
	}

	httputil.WriteCreated(w, mutationResponse{Employee: emp, AuditRecorded: err == nil})
}

// GetEmployee handles GET /rbac/employees/{id}
func (h *Handlers) GetEmployee(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathString(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	emp, err := h.directory.Get(r.Context(), id)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, emp)
}

type statusRequest struct {
	Status Status `json:"status" validate:"status"`
}

// SetStatus handles PUT /rbac/employees/{id}/status
func (h *Handlers) SetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathString(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	var req statusRequest
	if !httputil.DecodeAndValidate(w, r, h.validate, &req) {
		return
	}

	emp, err := h.directory.SetStatus(r.Context(), id, req.Status, audit.ActorOrEmpty(r.Context()))
	h.writeMutation(w, r, emp, err)
}

type roleRequest struct {
	Role Role `json:"role" validate:"role"`
}

// SetRole handles PUT /rbac/employees/{id}/role
func (h *Handlers) SetRole(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathString(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	var req roleRequest
	if !httputil.DecodeAndValidate(w, r, h.validate, &req) {
		return
	}

	emp, err := h.directory.SetRole(r.Context(), id, req.Role, audit.ActorOrEmpty(r.Context()))
	h.writeMutation(w, r, emp, err)
}

func (h *Handlers) writeMutation(w http.ResponseWriter, r *http.Request, emp *Employee, err error) {
	if err != nil && !errors.Is(err, audit.ErrRecordFailed) {
		h.storeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, mutationResponse{Employee: emp, AuditRecorded: err == nil})
}

type permissionsResponse struct {
	EmployeeID    string           `json:"employeeId"`
	Permissions   PermissionMatrix `json:"permissions"`
	Overrides     PermissionMatrix `json:"overrides"`
	AuditRecorded *bool            `json:"auditRecorded,omitempty"`
}

// GetPermissions handles GET /rbac/employees/{id}/permissions. Permissions
// is the full editable matrix; Overrides holds only the stored cells.
func (h *Handlers) GetPermissions(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.pathEmployee(w, r)
	if !ok {
		return
	}

	overrides, err := h.overrides.Get(r.Context(), emp.ID)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, permissionsResponse{
		EmployeeID:  emp.ID,
		Permissions: EditableMatrix(overrides),
		Overrides:   overrides,
	})
}

type savePermissionsRequest struct {
	Permissions PermissionMatrix `json:"permissions"`
}

// SavePermissions handles PUT /rbac/employees/{id}/permissions. The body
// replaces the whole override matrix.
func (h *Handlers) SavePermissions(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.pathEmployee(w, r)
	if !ok {
		return
	}

	var req savePermissionsRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if req.Permissions == nil {
		req.Permissions = make(PermissionMatrix)
	}

	err := h.overrides.Save(r.Context(), emp.ID, req.Permissions, audit.ActorOrEmpty(r.Context()))
	if err != nil && !errors.Is(err, audit.ErrRecordFailed) {
		var verr *ValidationError
		if errors.As(err, &verr) {
			httputil.WriteBadRequest(w, verr.Error())
			return
		}
		h.storeError(w, r, err)
		return
	}

	recorded := err == nil
	httputil.WriteSuccess(w, permissionsResponse{
		EmployeeID:    emp.ID,
		Permissions:   EditableMatrix(req.Permissions),
		Overrides:     req.Permissions,
		AuditRecorded: &recorded,
	})
}

func (h *Handlers) pathEmployee(w http.ResponseWriter, r *http.Request) (*Employee, bool) {
	id, err := httputil.ParsePathString(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return nil, false
	}
	emp, err := h.directory.Get(r.Context(), id)
	if err != nil {
		h.storeError(w, r, err)
		return nil, false
	}
	return emp, true
}

// storeError maps directory and store errors to responses
func (h *Handlers) storeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrEmployeeNotFound):
		httputil.WriteNotFoundError(w, "employee not found")
	case errors.Is(err, ErrStoreUnavailable):
		h.logger.WithError(err).WithField("request_id", observability.GetRequestID(r.Context())).Error("permission store unavailable")
		httputil.WriteServiceUnavailable(w, "permission store unavailable")
	default:
		h.logger.WithError(err).WithField("request_id", observability.GetRequestID(r.Context())).Error("rbac request failed")
		httputil.WriteInternalError(w)
	}
}
