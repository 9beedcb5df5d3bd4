package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesKindThroughWrapping(t *testing.T) {
	err := fmt.Errorf("load document: %w", NotFound("document %s not found", "abc"))

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrValidation))
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Equal(t, "document abc not found", Message(err))
}

func TestRetryable(t *testing.T) {
	cause := errors.New("502 bad gateway")

	assert.True(t, Retryable(fmt.Errorf("embed: %w", Provider(cause, true, "embedding provider unavailable"))))
	assert.False(t, Retryable(Provider(cause, false, "malformed response")))
	assert.False(t, Retryable(Credential("invalid api key")))
	assert.False(t, Retryable(cause))
}

func TestProviderErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("timeout")
	err := Provider(cause, true, "chat completion failed")

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrProvider)
	assert.Equal(t, "chat completion failed: timeout", err.Error())
}
