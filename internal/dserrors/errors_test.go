package dserrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	err := New(KindTransport, "broker gone")
	assert.Equal(t, KindTransport, KindOf(err))

	wrapped := fmt.Errorf("outer: %w", err)
	assert.Equal(t, KindTransport, KindOf(wrapped), "kind survives wrapping")

	assert.Equal(t, KindProtocol, KindOf(errors.New("plain")), "unclassified defaults to protocol")
}

func TestWrapNilIsNil(t *testing.T) {
	assert.NoError(t, Wrap(KindTransport, "op", nil))
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("cause")
	err := Wrap(KindTimeout, "op", cause)
	assert.ErrorIs(t, err, cause)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindTransport, true},
		{KindTimeout, true},
		{KindHTTPTransport, true},
		{KindProtocol, false},
		{KindNoPageVariable, false},
		{KindUnknownSpider, false},
		{KindStatusMismatch, false},
		{KindProxyAcquire, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(New(tt.kind, "x")))
		})
	}
}
