package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	base := errors.New("dial tcp: refused")

	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"plain", base, KindUnknown},
		{"direct", NewError(KindConnectivity, "fetch", base), KindConnectivity},
		{"wrapped", fmt.Errorf("pass: %w", NewError(KindDatastore, "list", base)), KindDatastore},
		{"formatted", Errorf(KindAPI, "login", "status %d", 3), KindAPI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	base := errors.New("boom")
	err := NewError(KindAuthentication, "login", base)

	assert.ErrorIs(t, err, base)
	assert.Equal(t, "login: boom", err.Error())
	assert.True(t, IsKind(err, KindAuthentication))
	assert.Equal(t, "probe: connectivity failure", NewError(KindConnectivity, "probe", nil).Error())
}
