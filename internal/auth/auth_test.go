package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_IssueAndVerify(t *testing.T) {
	m, err := NewManager("test-secret", time.Hour)
	require.NoError(t, err)

	token, err := m.Issue("player1")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	userID, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "player1", userID)
}

func TestManager_ExpiredTokenRejected(t *testing.T) {
	m, err := NewManager("test-secret", time.Hour)
	require.NoError(t, err)
	m.ttl = -time.Minute // already expired at issue time

	token, err := m.Issue("player1")
	require.NoError(t, err)

	_, err = m.Verify(token)
	require.Error(t, err)
}

func TestManager_WrongSecretRejected(t *testing.T) {
	issuer, err := NewManager("secret-a", time.Hour)
	require.NoError(t, err)
	verifier, err := NewManager("secret-b", time.Hour)
	require.NoError(t, err)

	token, err := issuer.Issue("player1")
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	require.Error(t, err)
}

func TestManager_GarbageTokenRejected(t *testing.T) {
	m, err := NewManager("test-secret", time.Hour)
	require.NoError(t, err)

	_, err = m.Verify("not.a.token")
	require.Error(t, err)
}

func TestManager_EmptySecretRejected(t *testing.T) {
	_, err := NewManager("", time.Hour)
	require.Error(t, err)
}

func TestManager_EmptyUserRejected(t *testing.T) {
	m, err := NewManager("test-secret", time.Hour)
	require.NoError(t, err)

	_, err = m.Issue("")
	require.Error(t, err)
}
