package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShutdownManager_RunsFuncsInReverse(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), nil, 0)

	var order []int
	sm.RegisterShutdownFunc(func(context.Context) error { order = append(order, 1); return nil })
	sm.RegisterShutdownFunc(func(context.Context) error { order = append(order, 2); return nil })

	assert.NoError(t, sm.Shutdown())
	assert.Equal(t, []int{2, 1}, order)
}

func TestShutdownManager_CollectsErrors(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), nil, 0)
	boom := errors.New("flush failed")
	sm.RegisterShutdownFunc(func(context.Context) error { return boom })
	sm.RegisterShutdownFunc(func(context.Context) error { return nil })

	err := sm.Shutdown()
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "1 errors")
}
