package keyvault

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func secret(b byte) []byte {
	return []byte(strings.Repeat(string(rune('a'+b)), 32))
}

func TestEnvelopeRoundTrip(t *testing.T) {
	e, err := NewEnvelope(map[int][]byte{1: secret(1)}, 1)
	require.NoError(t, err)

	sealed, err := e.Encrypt([]byte("sk-live-123"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, "v1:"))
	assert.NotContains(t, sealed, "sk-live-123")

	plain, err := e.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "sk-live-123", string(plain))
}

func TestEnvelopeNoncesDiffer(t *testing.T) {
	e, err := NewEnvelope(map[int][]byte{1: secret(1)}, 1)
	require.NoError(t, err)

	a, _ := e.Encrypt([]byte("same"))
	b, _ := e.Encrypt([]byte("same"))
	assert.NotEqual(t, a, b)
}

func TestEnvelopeReadsOlderVersionsAfterRotation(t *testing.T) {
	old, err := NewEnvelope(map[int][]byte{1: secret(1)}, 1)
	require.NoError(t, err)
	sealed, err := old.Encrypt([]byte("sk-old"))
	require.NoError(t, err)

	rotated, err := NewEnvelope(map[int][]byte{1: secret(1), 2: secret(2)}, 2)
	require.NoError(t, err)

	plain, err := rotated.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "sk-old", string(plain))
	assert.False(t, rotated.Current(sealed))

	fresh, err := rotated.Encrypt(plain)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(fresh, "v2:"))
	assert.True(t, rotated.Current(fresh))
	assert.Equal(t, []int{1, 2}, rotated.Versions())
}

func TestEnvelopeRejectsTampering(t *testing.T) {
	e, err := NewEnvelope(map[int][]byte{1: secret(1), 2: secret(2)}, 1)
	require.NoError(t, err)
	sealed, err := e.Encrypt([]byte("sk-abc"))
	require.NoError(t, err)

	// Relabeling a v1 payload as v2 must fail authentication.
	_, err = e.Decrypt("v2:" + strings.TrimPrefix(sealed, "v1:"))
	assert.Error(t, err)

	_, err = e.Decrypt("v9:" + strings.TrimPrefix(sealed, "v1:"))
	assert.Error(t, err)

	_, err = e.Decrypt("garbage")
	assert.ErrorIs(t, err, ErrMalformedCiphertext)

	_, err = e.Decrypt("v1:AAAA")
	assert.ErrorIs(t, err, ErrMalformedCiphertext)
}

func TestParseMasterKeys(t *testing.T) {
	k1 := base64.StdEncoding.EncodeToString(secret(1))
	k2 := base64.StdEncoding.EncodeToString(secret(2))

	keys, err := ParseMasterKeys("v1:" + k1 + ", v2:" + k2)
	require.NoError(t, err)
	assert.Len(t, keys, 2)
	assert.Equal(t, secret(2), keys[2])

	_, err = ParseMasterKeys("")
	assert.Error(t, err)
	_, err = ParseMasterKeys("1:" + k1)
	assert.Error(t, err)
	_, err = ParseMasterKeys("v1:" + base64.StdEncoding.EncodeToString([]byte("short")))
	assert.Error(t, err)

	_, err = NewEnvelopeFromSpec("v1:"+k1, 2)
	assert.Error(t, err)
}
