package rbac

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermissionMatrix_LookupSet(t *testing.T) {
	m := PermissionMatrix{}
	_, ok := m.Lookup(ModuleCobrancas, ActionView)
	assert.False(t, ok)

	m.Set(ModuleCobrancas, ActionView, false)
	allowed, ok := m.Lookup(ModuleCobrancas, ActionView)
	assert.True(t, ok)
	assert.False(t, allowed)

	var nilMatrix PermissionMatrix
	_, ok = nilMatrix.Lookup(ModuleCobrancas, ActionView)
	assert.False(t, ok)
}

func TestPermissionMatrix_CloneIsDeep(t *testing.T) {
	m := PermissionMatrix{}
	m.Set(ModuleClientes, ActionDelete, true)

	c := m.Clone()
	c.Set(ModuleClientes, ActionDelete, false)

	allowed, _ := m.Lookup(ModuleClientes, ActionDelete)
	assert.True(t, allowed)
	assert.NotNil(t, PermissionMatrix(nil).Clone())
}

func TestPermissionMatrix_Equal(t *testing.T) {
	a := PermissionMatrix{ModuleDashboard: {}}
	a.Set(ModuleClientes, ActionView, true)
	b := PermissionMatrix{}
	b.Set(ModuleClientes, ActionView, true)
	assert.True(t, a.Equal(b))

	b.Set(ModuleClientes, ActionView, false)
	assert.False(t, a.Equal(b))
}

func TestPermissionMatrix_Validate(t *testing.T) {
	valid := PermissionMatrix{}
	valid.Set(ModuleTVBox, ActionApprove, true)
	assert.NoError(t, valid.Validate())

	err := PermissionMatrix{"estoque": {ActionView: true}}.Validate()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "estoque", verr.Module)
	assert.ErrorIs(t, err, ErrInvalidPermission)

	err = PermissionMatrix{ModuleClientes: {"read": true}}.Validate()
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "read", verr.Action)
}

func TestValidationError_Message(t *testing.T) {
	tests := []struct {
		name   string
		matrix PermissionMatrix
		want   string
	}{
		{"unknown module", PermissionMatrix{"estoque": {ActionView: true}}, `unknown module "estoque"`},
		{"empty module", PermissionMatrix{"": {ActionView: true}}, `unknown module ""`},
		{"unknown action", PermissionMatrix{ModuleClientes: {"read": true}}, `unknown action "read" for module "clientes"`},
		{"empty action", PermissionMatrix{ModuleClientes: {"": true}}, `unknown action "" for module "clientes"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.matrix.Validate()
			require.Error(t, err)
			assert.EqualError(t, err, tt.want)
		})
	}
}

func TestFullAndEditableMatrix(t *testing.T) {
	full := FullMatrix()
	assert.Equal(t, len(Modules())*len(Actions()), full.Len())
	for _, p := range AllPermissions() {
		allowed, ok := full.Lookup(p.Module, p.Action)
		assert.True(t, ok)
		assert.False(t, allowed)
	}

	stored := PermissionMatrix{"legacy": {ActionView: true}}
	stored.Set(ModuleCobrancas, ActionView, true)
	editable := EditableMatrix(stored)
	assert.Equal(t, full.Len(), editable.Len())
	allowed, _ := editable.Lookup(ModuleCobrancas, ActionView)
	assert.True(t, allowed)
	_, ok := editable["legacy"]
	assert.False(t, ok)
}

func TestDecodeMatrix_Tolerant(t *testing.T) {
	raw := json.RawMessage(`{
		"cobrancas": {"view": true, "delete": false, "teleport": true, "export": "yes", "approve": null},
		"estoque": {"view": true},
		"clientes": "all",
		"dashboard": {"view": true}
	}`)

	m := DecodeMatrix(raw)
	assert.Equal(t, 3, m.Len())
	allowed, ok := m.Lookup(ModuleCobrancas, ActionDelete)
	assert.True(t, ok)
	assert.False(t, allowed)
	_, ok = m.Lookup(ModuleCobrancas, ActionApprove)
	assert.False(t, ok)

	assert.Empty(t, DecodeMatrix(json.RawMessage(`[1,2]`)))
	assert.Empty(t, DecodeMatrix(nil))
}

func TestChanges(t *testing.T) {
	before := PermissionMatrix{}
	before.Set(ModuleClientes, ActionView, true)
	before.Set(ModuleDespesas, ActionExport, false)

	after := PermissionMatrix{}
	after.Set(ModuleClientes, ActionView, true)
	after.Set(ModuleDespesas, ActionExport, true)
	after.Set(ModuleTVBox, ActionDelete, false)

	assert.ElementsMatch(t, []Permission{
		{Module: ModuleDespesas, Action: ActionExport},
		{Module: ModuleTVBox, Action: ActionDelete},
	}, Changes(before, after))
	assert.Empty(t, Changes(after, after.Clone()))
}
