// Package rbac decides which employee may do what, per module.
//
// # Overview
//
// Permissions are (module, action) cells over two closed sets:
//
//	Modules: clientes, assinaturas, cobrancas, despesas, equipamentos,
//	         tvbox, funcionarios, dashboard, manutencoes
//	Actions: view, create, update, delete, export, approve, manage_settings
//
// Every employee holds exactly one role. The role supplies defaults through
// RoleAllows, a fixed table with no persistence:
//
//	Admin               everything
//	Gerente             everything except funcionarios:manage_settings
//	Financeiro          cobrancas, despesas, dashboard; no manage_settings
//	Atendimento         clientes, assinaturas, tvbox, dashboard; no manage_settings
//	Manutenção/Estoque  manutencoes, equipamentos
//	Leitor              view on every module
//
// RoleTemplates describes the roles with rule strings such as "*:*" and
// "!funcionarios:manage_settings". Those strings are display text only.
//
// # Overrides
//
// An employee may carry a sparse PermissionMatrix of explicit grants and
// denials stored in the employee_permissions collection. A present cell
// always wins over the role default, in both directions:
//
//	overrides := rbac.PermissionMatrix{}
//	overrides.Set(rbac.ModuleCobrancas, rbac.ActionDelete, true)
//	err := store.Save(ctx, "emp-42", overrides, rbac.ActorOf(admin))
//
// Save replaces the whole matrix and appends a permission_change audit
// entry with the previous and new matrices. Keys outside the closed sets
// are rejected with a *ValidationError; unknown keys already stored are
// ignored on read. Editable returns the all-false full matrix overlaid with
// the stored cells, for permission forms.
//
// # Resolution
//
// Resolver.Check evaluates, in order:
//
//  1. no actor: deny
//  2. module or action outside the closed sets: deny
//  3. status other than active: deny, whatever the overrides say
//  4. explicit override cell: its value
//  5. RoleAllows
//
// A failed override read is logged and resolves to the role default, never
// to a grant. Checks do not write audit entries; PermissionMiddleware
// records access_denied when it refuses a request.
//
// # HTTP
//
//	mw := rbac.NewPermissionMiddleware(resolver, directory, auditStore, logger)
//	router.Handle("/clientes", mw.Require(rbac.ModuleClientes, rbac.ActionView)(h))
//
// The middleware resolves the token's employee id through the Directory, so
// role and status always come from the employee record, not from claims.
package rbac
