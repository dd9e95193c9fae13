package rbac

import (
	"encoding/json"
	"sort"
	"time"
)

// PermissionMatrix is a sparse module -> action -> allowed mapping. Only
// present cells are overrides; an absent cell falls back to the role.
type PermissionMatrix map[Module]map[Action]bool

// Lookup returns the explicit value of a cell and whether it is set
func (m PermissionMatrix) Lookup(module Module, action Action) (allowed, ok bool) {
	actions, ok := m[module]
	if !ok {
		return false, false
	}
	allowed, ok = actions[action]
	return allowed, ok
}

// Set stores an explicit value
func (m PermissionMatrix) Set(module Module, action Action, allowed bool) {
	actions, ok := m[module]
	if !ok {
		actions = make(map[Action]bool)
		m[module] = actions
	}
	actions[action] = allowed
}

// Clone returns a deep copy. A nil matrix clones to an empty one.
func (m PermissionMatrix) Clone() PermissionMatrix {
	out := make(PermissionMatrix, len(m))
	for module, actions := range m {
		copied := make(map[Action]bool, len(actions))
		for action, allowed := range actions {
			copied[action] = allowed
		}
		out[module] = copied
	}
	return out
}

// Len counts explicit cells
func (m PermissionMatrix) Len() int {
	n := 0
	for _, actions := range m {
		n += len(actions)
	}
	return n
}

// Equal compares explicit cells. Empty module maps are ignored.
func (m PermissionMatrix) Equal(other PermissionMatrix) bool {
	if m.Len() != other.Len() {
		return false
	}
	for module, actions := range m {
		for action, allowed := range actions {
			v, ok := other.Lookup(module, action)
			if !ok || v != allowed {
				return false
			}
		}
	}
	return true
}

// Validate rejects keys outside the closed module and action sets
func (m PermissionMatrix) Validate() error {
	// sorted so the reported key is deterministic
	for _, module := range sortedModules(m) {
		if !module.Valid() {
			return &ValidationError{Module: string(module)}
		}
		for action := range m[module] {
			if !action.Valid() {
				return &ValidationError{Module: string(module), Action: string(action)}
			}
		}
	}
	return nil
}

func sortedModules(m PermissionMatrix) []Module {
	keys := make([]Module, 0, len(m))
	for module := range m {
		keys = append(keys, module)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Changes lists the cells whose explicit value differs between a and b,
// including cells present on one side only
func Changes(a, b PermissionMatrix) []Permission {
	var changed []Permission
	for _, p := range AllPermissions() {
		av, aok := a.Lookup(p.Module, p.Action)
		bv, bok := b.Lookup(p.Module, p.Action)
		if aok != bok || av != bv {
			changed = append(changed, p)
		}
	}
	return changed
}

// FullMatrix returns every cell of the closed sets set to false
func FullMatrix() PermissionMatrix {
	m := make(PermissionMatrix, len(modules))
	for _, module := range modules {
		row := make(map[Action]bool, len(actions))
		for _, action := range actions {
			row[action] = false
		}
		m[module] = row
	}
	return m
}

// EditableMatrix overlays stored cells onto the all-false full matrix so a
// form shows every cell even for documents that predate a module or action
func EditableMatrix(stored PermissionMatrix) PermissionMatrix {
	m := FullMatrix()
	for module, actions := range stored {
		if !module.Valid() {
			continue
		}
		for action, allowed := range actions {
			if action.Valid() {
				m[module][action] = allowed
			}
		}
	}
	return m
}

// DecodeMatrix reads a stored permissions object, dropping unknown modules,
// unknown actions and non-boolean values
func DecodeMatrix(raw json.RawMessage) PermissionMatrix {
	m := make(PermissionMatrix)
	if len(raw) == 0 {
		return m
	}

	var rows map[string]json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return m
	}

	for moduleKey, rowRaw := range rows {
		module := Module(moduleKey)
		if !module.Valid() {
			continue
		}
		var cells map[string]json.RawMessage
		if err := json.Unmarshal(rowRaw, &cells); err != nil {
			continue
		}
		for actionKey, cellRaw := range cells {
			action := Action(actionKey)
			if !action.Valid() {
				continue
			}
			var allowed *bool
			if err := json.Unmarshal(cellRaw, &allowed); err != nil || allowed == nil {
				continue
			}
			m.Set(module, action, *allowed)
		}
	}
	return m
}

// overrideDocument is the persisted shape in employee_permissions
type overrideDocument struct {
	EmployeeID  string           `json:"employeeId"`
	Permissions PermissionMatrix `json:"permissions"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// storedOverrideDocument decodes permissions tolerantly
type storedOverrideDocument struct {
	EmployeeID  string          `json:"employeeId"`
	Permissions json.RawMessage `json:"permissions"`
}
