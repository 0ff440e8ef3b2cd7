// internal/auth/password_test.go
package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHashAndCompare(t *testing.T) {
	// Cheap parameters keep the test fast; production uses Params.
	p := &params{
		memory:      16 * 1024,
		iterations:  1,
		parallelism: 1,
		saltLength:  16,
		keyLength:   32,
	}

	hash, err := CreateHash("open sesame", p)
	require.NoError(t, err)
	require.NotEqual(t, "open sesame", hash)

	match, err := ComparePasswordAndHash("open sesame", hash)
	require.NoError(t, err)
	assert.True(t, match)

	match, err = ComparePasswordAndHash("wrong", hash)
	require.NoError(t, err)
	assert.False(t, match)
}

func TestCompareRejectsMalformedHash(t *testing.T) {
	_, err := ComparePasswordAndHash("x", "not-an-argon2-hash")
	assert.ErrorIs(t, err, ErrInvalidHash)
}
