package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenIssuer_IssueAndParse(t *testing.T) {
	ti := NewTokenIssuer("s3cret", "yoodocs", time.Hour)

	raw, exp, err := ti.Issue("user-1", "admin")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := ti.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, "yoodocs", claims.Issuer)
}

func TestTokenIssuer_RejectsOtherSecret(t *testing.T) {
	raw, _, err := NewTokenIssuer("one", "yoodocs", time.Hour).Issue("u", "user")
	require.NoError(t, err)

	_, err = NewTokenIssuer("two", "yoodocs", time.Hour).Parse(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenIssuer_RejectsOtherIssuer(t *testing.T) {
	raw, _, err := NewTokenIssuer("s", "someone-else", time.Hour).Issue("u", "user")
	require.NoError(t, err)

	_, err = NewTokenIssuer("s", "yoodocs", time.Hour).Parse(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenIssuer_Expired(t *testing.T) {
	ti := NewTokenIssuer("s", "yoodocs", time.Minute)
	past := time.Now().Add(-time.Hour)
	ti.now = func() time.Time { return past }
	raw, _, err := ti.Issue("u", "user")
	require.NoError(t, err)

	ti.now = time.Now
	_, err = ti.Parse(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenIssuer_NoSecret(t *testing.T) {
	_, _, err := NewTokenIssuer("", "", time.Hour).Issue("u", "user")
	assert.ErrorIs(t, err, ErrNoSecret)
}
