package utils

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrTyped_Error(t *testing.T) {
	assert.Equal(t, "upstream error: olia", NewUpstreamErr(errors.New("olia")).Error())
	assert.Equal(t, "timeout: olia", NewTimeoutErr(errors.New("olia")).Error())
	assert.Equal(t, "persistence error: unknown", NewPersistenceErr(nil).Error())
}

func TestErrTyped_Unwrap(t *testing.T) {
	assert.True(t, errors.Is(NewPersistenceErr(io.EOF), io.EOF))
}

func TestKindOf_Wrapped(t *testing.T) {
	err := fmt.Errorf("can't do: %w", NewNotFoundErr(io.EOF))
	assert.True(t, IsNotFound(err))
	assert.False(t, IsUpstream(err))
	assert.Equal(t, ErrKind(0), KindOf(io.EOF))
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "validation", err: NewValidationErr(io.EOF), want: true},
		{name: "auth", err: NewAuthenticationErr(io.EOF), want: true},
		{name: "not found", err: NewNotFoundErr(io.EOF), want: true},
		{name: "timeout", err: fmt.Errorf("w: %w", NewTimeoutErr(io.EOF)), want: true},
		{name: "upstream", err: NewUpstreamErr(io.EOF), want: false},
		{name: "persistence", err: NewPersistenceErr(io.EOF), want: false},
		{name: "parse", err: NewParseErr(io.EOF), want: false},
		{name: "plain", err: io.EOF, want: false},
		{name: "final persistence", err: fmt.Errorf("w: %w", NewFinalErr(NewPersistenceErr(io.EOF))), want: true},
		{name: "final nil", err: NewFinalErr(nil), want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPermanent(tt.err))
		})
	}
}

func TestNewFinalErr_KeepsKind(t *testing.T) {
	err := NewFinalErr(NewPersistenceErr(io.EOF))
	assert.True(t, IsPersistence(err))
	assert.True(t, errors.Is(err, io.EOF))
	assert.Equal(t, "persistence error: EOF", err.Error())
}
