package rbac

import (
	"strings"
	"time"
)

// Module is a functional area of the application
type Module string

const (
	ModuleClientes     Module = "clientes"
	ModuleAssinaturas  Module = "assinaturas"
	ModuleCobrancas    Module = "cobrancas"
	ModuleDespesas     Module = "despesas"
	ModuleEquipamentos Module = "equipamentos"
	ModuleTVBox        Module = "tvbox"
	ModuleFuncionarios Module = "funcionarios"
	ModuleDashboard    Module = "dashboard"
	ModuleManutencoes  Module = "manutencoes"
)

var modules = []Module{
	ModuleClientes,
	ModuleAssinaturas,
	ModuleCobrancas,
	ModuleDespesas,
	ModuleEquipamentos,
	ModuleTVBox,
	ModuleFuncionarios,
	ModuleDashboard,
	ModuleManutencoes,
}

// Modules returns the closed set of modules in display order
func Modules() []Module {
	return append([]Module(nil), modules...)
}

// Valid reports whether m is in the closed module set
func (m Module) Valid() bool {
	for _, known := range modules {
		if m == known {
			return true
		}
	}
	return false
}

// Action is an operation performable within a module
type Action string

const (
	ActionView           Action = "view"
	ActionCreate         Action = "create"
	ActionUpdate         Action = "update"
	ActionDelete         Action = "delete"
	ActionExport         Action = "export"
	ActionApprove        Action = "approve"
	ActionManageSettings Action = "manage_settings"
)

var actions = []Action{
	ActionView,
	ActionCreate,
	ActionUpdate,
	ActionDelete,
	ActionExport,
	ActionApprove,
	ActionManageSettings,
}

// Actions returns the closed set of actions in display order
func Actions() []Action {
	return append([]Action(nil), actions...)
}

// Valid reports whether a is in the closed action set
func (a Action) Valid() bool {
	for _, known := range actions {
		if a == known {
			return true
		}
	}
	return false
}

// Permission is one (module, action) cell
type Permission struct {
	Module Module `json:"module"`
	Action Action `json:"action"`
}

// String returns the permission as module:action
func (p Permission) String() string {
	return string(p.Module) + ":" + string(p.Action)
}

// Valid reports whether both halves are in the closed sets
func (p Permission) Valid() bool {
	return p.Module.Valid() && p.Action.Valid()
}

// AllPermissions returns the full Module × Action cross product
func AllPermissions() []Permission {
	perms := make([]Permission, 0, len(modules)*len(actions))
	for _, m := range modules {
		for _, a := range actions {
			perms = append(perms, Permission{Module: m, Action: a})
		}
	}
	return perms
}

// Role names a bundle of default grants
type Role string

const (
	RoleAdmin             Role = "Admin"
	RoleGerente           Role = "Gerente"
	RoleFinanceiro        Role = "Financeiro"
	RoleAtendimento       Role = "Atendimento"
	RoleManutencaoEstoque Role = "Manutenção/Estoque"
	RoleLeitor            Role = "Leitor"
)

var roles = []Role{
	RoleAdmin,
	RoleGerente,
	RoleFinanceiro,
	RoleAtendimento,
	RoleManutencaoEstoque,
	RoleLeitor,
}

// Roles returns the known roles
func Roles() []Role {
	return append([]Role(nil), roles...)
}

// normalize trims surrounding whitespace. Only input boundaries call it;
// RoleAllows and Valid match exactly.
func (r Role) normalize() Role {
	return Role(strings.TrimSpace(string(r)))
}

// Valid reports whether r names a known role
func (r Role) Valid() bool {
	for _, known := range roles {
		if r == known {
			return true
		}
	}
	return false
}

// Status is the lifecycle state of an employee
type Status string

const (
	StatusActive        Status = "active"
	StatusSuspended     Status = "suspended"
	StatusBlocked       Status = "blocked"
	StatusPendingInvite Status = "pending_invite"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusSuspended, StatusBlocked, StatusPendingInvite:
		return true
	}
	return false
}

// Employee is an actor with exactly one role
type Employee struct {
	ID        string    `json:"id" validate:"required,max=128"`
	Name      string    `json:"name" validate:"required,max=200"`
	Email     string    `json:"email,omitempty" validate:"omitempty,email"`
	Role      Role      `json:"role" validate:"role"`
	Status    Status    `json:"status" validate:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Active reports whether the employee may be granted anything at all
func (e *Employee) Active() bool {
	return e != nil && e.Status == StatusActive
}
