package cluster

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenManager_GenerateThenValidateSucceeds(t *testing.T) {
	tm := NewTokenManager()
	jt, err := tm.Generate(time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, jt.Token)

	require.NoError(t, tm.Validate(jt.Token))
}

func TestTokenManager_ValidateRejectsUnknownToken(t *testing.T) {
	tm := NewTokenManager()
	assert.Error(t, tm.Validate("never-issued"))
}

func TestTokenManager_ValidateRejectsExpiredToken(t *testing.T) {
	tm := NewTokenManager()
	jt, err := tm.Generate(-time.Second)
	require.NoError(t, err)
	assert.Error(t, tm.Validate(jt.Token))
}

func TestTokenManager_RevokeInvalidatesImmediately(t *testing.T) {
	tm := NewTokenManager()
	jt, err := tm.Generate(time.Hour)
	require.NoError(t, err)

	tm.Revoke(jt.Token)
	assert.Error(t, tm.Validate(jt.Token))
}

func TestTokenManager_CleanupExpiredRemovesOnlyExpired(t *testing.T) {
	tm := NewTokenManager()
	live, err := tm.Generate(time.Hour)
	require.NoError(t, err)
	dead, err := tm.Generate(-time.Second)
	require.NoError(t, err)

	tm.CleanupExpired()

	assert.NoError(t, tm.Validate(live.Token))
	assert.Error(t, tm.Validate(dead.Token))
}
