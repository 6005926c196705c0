package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	base := errors.New("dial tcp: connection refused")
	err := fmt.Errorf("upload: %w", Unavailable("blob store unavailable", base))

	assert.Equal(t, ServiceUnavailable, KindOf(err))
	assert.Equal(t, "blob store unavailable", MessageOf(err))
	assert.ErrorIs(t, err, base)
	assert.Equal(t, Internal, KindOf(base))
	assert.Equal(t, "internal server error", MessageOf(base))
}

func TestIsMatchesKind(t *testing.T) {
	err := NotFoundf("record %s not found", "abc")

	assert.True(t, errors.Is(err, E(NotFound, "")))
	assert.False(t, errors.Is(err, E(BadRequest, "")))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "forbidden", Forbidden.String())
	assert.Equal(t, "kind(42)", Kind(42).String())
}
