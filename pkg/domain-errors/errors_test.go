package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCodeWalksChain(t *testing.T) {
	base := New(CodeNotFound, "application not found")
	wrapped := Wrap(base, CodeInternal, "failed to load application")

	assert.True(t, HasCode(wrapped, CodeInternal))
	assert.True(t, HasCode(wrapped, CodeNotFound))
	assert.False(t, HasCode(wrapped, CodeForbidden))
}

func TestIsMatchesOutermostOnly(t *testing.T) {
	err := fmt.Errorf("handler: %w", Wrap(New(CodeNotFound, "missing"), CodeInternal, "boom"))

	assert.True(t, Is(err, CodeInternal))
	assert.False(t, Is(err, CodeNotFound))
	assert.False(t, Is(errors.New("plain"), CodeInternal))
}

func TestErrorMessageIncludesCause(t *testing.T) {
	err := Wrap(errors.New("dial tcp: refused"), CodeUnavailable, "backend unreachable")
	assert.Equal(t, "service_unavailable: backend unreachable: dial tcp: refused", err.Error())
}
