package resilience

import (
	"fmt"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", eris.New("boom"), false},
		{"transient wrapper", NewTransientError(eris.New("503"), 503), true},
		{"wrapped transient", fmt.Errorf("send: %w", NewTransientError(eris.New("x"), 429)), true},
		{"conn reset", syscall.ECONNRESET, true},
		{"conn refused", syscall.ECONNREFUSED, true},
		{"timeout message", eris.New("post failed: i/o timeout"), true},
		{"dns message", eris.New("dial: no such host"), true},
		{"validation error", eris.New("invalid payload"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), "status %d", code)
	}
	for _, code := range []int{200, 201, 301, 400, 401, 403, 404, 422} {
		assert.False(t, IsTransientHTTPStatus(code), "status %d", code)
	}
}

func TestTransientErrorUnwrap(t *testing.T) {
	inner := eris.New("inner")
	te := NewTransientError(inner, 502)

	assert.Equal(t, "inner", te.Error())
	assert.Equal(t, inner, te.Unwrap())
	assert.Equal(t, 502, te.StatusCode)
}
