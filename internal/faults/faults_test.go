package faults

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errStoreDown = New("store unavailable", CodeUnavailable, ClassInfrastructure)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"plain error", errors.New("boom"), CodeInternal},
		{"sentinel", errStoreDown, CodeUnavailable},
		{"wrapped sentinel", fmt.Errorf("load spec: %w", errStoreDown), CodeUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestClassification(t *testing.T) {
	protocol := New("bad edge", CodeInvalidTransition, ClassProtocol)
	capability := New("forbidden", CodeCapabilityViolation, ClassCapability)

	assert.True(t, IsRetryable(fmt.Errorf("wrap: %w", errStoreDown)))
	assert.False(t, IsRetryable(protocol))
	assert.False(t, IsRetryable(errors.New("plain")))

	assert.True(t, NeedsHuman(protocol))
	assert.True(t, NeedsHuman(capability))
	assert.False(t, NeedsHuman(errStoreDown))

	assert.Equal(t, ClassUnknown, ClassOf(nil))
	assert.Equal(t, ClassCapability, ClassOf(capability))
}
