package rbac

// RoleAllows is the default grant table beneath overrides. First match wins.
func RoleAllows(role Role, module Module, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleGerente:
		return !(module == ModuleFuncionarios && action == ActionManageSettings)
	case RoleFinanceiro:
		return inModules(module, ModuleCobrancas, ModuleDespesas, ModuleDashboard) &&
			action != ActionManageSettings
	case RoleAtendimento:
		return inModules(module, ModuleClientes, ModuleAssinaturas, ModuleTVBox, ModuleDashboard) &&
			action != ActionManageSettings
	case RoleManutencaoEstoque:
		return inModules(module, ModuleManutencoes, ModuleEquipamentos)
	case RoleLeitor:
		return action == ActionView
	default:
		return false
	}
}

func inModules(module Module, set ...Module) bool {
	for _, m := range set {
		if module == m {
			return true
		}
	}
	return false
}

// Grants enumerates the default grants of role over the closed sets
func Grants(role Role) []Permission {
	var grants []Permission
	for _, p := range AllPermissions() {
		if RoleAllows(role, p.Module, p.Action) {
			grants = append(grants, p)
		}
	}
	return grants
}

// RoleTemplate describes a role for display. Rules are informational and
// never evaluated; RoleAllows is the only executable policy.
type RoleTemplate struct {
	Role        Role     `json:"role"`
	DisplayName string   `json:"displayName"`
	Description string   `json:"description"`
	Rules       []string `json:"rules"`
}

var roleTemplates = []RoleTemplate{
	{
		Role:        RoleAdmin,
		DisplayName: "Administrador",
		Description: "Acesso total a todos os módulos e configurações",
		Rules:       []string{"*:*"},
	},
	{
		Role:        RoleGerente,
		DisplayName: "Gerente",
		Description: "Gestão completa, exceto configurações de funcionários",
		Rules:       []string{"*:*", "!funcionarios:manage_settings"},
	},
	{
		Role:        RoleFinanceiro,
		DisplayName: "Financeiro",
		Description: "Cobranças, despesas e indicadores financeiros",
		Rules:       []string{"cobrancas:*", "despesas:*", "dashboard:*", "!*:manage_settings"},
	},
	{
		Role:        RoleAtendimento,
		DisplayName: "Atendimento",
		Description: "Clientes, assinaturas e TV Box",
		Rules:       []string{"clientes:*", "assinaturas:*", "tvbox:*", "dashboard:*", "!*:manage_settings"},
	},
	{
		Role:        RoleManutencaoEstoque,
		DisplayName: "Manutenção/Estoque",
		Description: "Manutenções e equipamentos em estoque",
		Rules:       []string{"manutencoes:*", "equipamentos:*"},
	},
	{
		Role:        RoleLeitor,
		DisplayName: "Leitor",
		Description: "Somente visualização",
		Rules:       []string{"*:view"},
	},
}

// RoleTemplates returns the role catalogue
func RoleTemplates() []RoleTemplate {
	out := make([]RoleTemplate, len(roleTemplates))
	for i, t := range roleTemplates {
		t.Rules = append([]string(nil), t.Rules...)
		out[i] = t
	}
	return out
}
