package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/crypto/bcrypt"
)

func TestVerifier_DigestAndVerify(t *testing.T) {
	v := NewVerifier(bcrypt.MinCost)

	digest, err := v.Digest("correct horse battery staple")
	require.NoError(t, err)
	assert.NotEmpty(t, digest)
	assert.NotEqual(t, "correct horse battery staple", digest)

	assert.True(t, v.Verify(digest, "correct horse battery staple"))
	assert.False(t, v.Verify(digest, "wrong passphrase"))
	assert.False(t, v.Verify(digest, ""))
}

func TestVerifier_DigestsAreSalted(t *testing.T) {
	v := NewVerifier(bcrypt.MinCost)

	// Same input must produce different digests (random salt)
	d1, err := v.Digest("same passphrase")
	require.NoError(t, err)
	d2, err := v.Digest("same passphrase")
	require.NoError(t, err)
	assert.NotEqual(t, d1, d2)

	assert.True(t, v.Verify(d1, "same passphrase"))
	assert.True(t, v.Verify(d2, "same passphrase"))
}

func TestVerifier_CostOutOfRangeFallsBack(t *testing.T) {
	// bcrypt rejects costs outside [MinCost, MaxCost]; constructor must clamp
	for _, cost := range []int{-1, 0, 3, 99} {
		v := NewVerifier(cost)
		assert.Equal(t, bcrypt.DefaultCost, v.cost, "cost %d should fall back to default", cost)
	}

	v := NewVerifier(bcrypt.MinCost)
	assert.Equal(t, bcrypt.MinCost, v.cost)
}

func TestVerifier_LongInputRejected(t *testing.T) {
	v := NewVerifier(bcrypt.MinCost)

	// bcrypt caps input at 72 bytes; longer input must surface an error,
	// the domain validator keeps such passphrases out of the create path
	_, err := v.Digest(strings.Repeat("x", 73))
	assert.Error(t, err)

	_, err = v.Digest(strings.Repeat("x", 72))
	assert.NoError(t, err)
}

func TestVerifier_MalformedDigest(t *testing.T) {
	v := NewVerifier(bcrypt.MinCost)
	assert.False(t, v.Verify("not-a-bcrypt-digest", "anything"))
	assert.False(t, v.Verify("", "anything"))
}
