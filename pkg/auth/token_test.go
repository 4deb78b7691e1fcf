package auth

import (
	"testing"
	"time"

	"github.com/cuemby/ideengine/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenManager_IssueAndValidateContainerAgentToken(t *testing.T) {
	tm := NewTokenManager()
	st, err := tm.IssueContainerAgentToken("b1", "container-abc", time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, st.Token)

	got, err := tm.Validate(st.Token)
	require.NoError(t, err)
	assert.Equal(t, types.PeerKindContainerAgent, got.Kind)
	assert.Equal(t, "b1", got.BucketID)
	assert.Equal(t, "container-abc", got.Identity)
}

func TestTokenManager_ValidateRejectsUnknownToken(t *testing.T) {
	tm := NewTokenManager()
	_, err := tm.Validate("never-issued")
	assert.ErrorIs(t, err, types.ErrUnauthorized)
}

func TestTokenManager_ValidateRejectsExpiredToken(t *testing.T) {
	tm := NewTokenManager()
	st, err := tm.IssueServiceToken("admin-cli", -time.Minute)
	require.NoError(t, err)

	_, err = tm.Validate(st.Token)
	assert.ErrorIs(t, err, types.ErrUnauthorized)
}

func TestTokenManager_RevokeInvalidatesImmediately(t *testing.T) {
	tm := NewTokenManager()
	st, err := tm.IssueServiceToken("admin-cli", time.Hour)
	require.NoError(t, err)

	tm.Revoke(st.Token)

	_, err = tm.Validate(st.Token)
	assert.ErrorIs(t, err, types.ErrUnauthorized)
}

func TestTokenManager_CleanupExpiredRemovesOnlyExpiredTokens(t *testing.T) {
	tm := NewTokenManager()
	expired, err := tm.IssueServiceToken("old", -time.Minute)
	require.NoError(t, err)
	live, err := tm.IssueServiceToken("new", time.Hour)
	require.NoError(t, err)

	tm.CleanupExpired()

	_, err = tm.Validate(expired.Token)
	assert.ErrorIs(t, err, types.ErrUnauthorized)
	_, err = tm.Validate(live.Token)
	assert.NoError(t, err)
}

func TestCheckScope_RejectsContainerTokenAgainstOtherBucket(t *testing.T) {
	err := CheckScope(types.PeerKindContainerAgent, "b1", "b2")
	assert.ErrorIs(t, err, types.ErrUnauthorized)
}

func TestCheckScope_AllowsContainerTokenAgainstOwnBucket(t *testing.T) {
	err := CheckScope(types.PeerKindContainerAgent, "b1", "b1")
	assert.NoError(t, err)
}

func TestCheckScope_ServiceAndBrowserAreNotBucketBound(t *testing.T) {
	assert.NoError(t, CheckScope(types.PeerKindService, "", "b1"))
	assert.NoError(t, CheckScope(types.PeerKindBrowser, "", "b1"))
}
