package cluster

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenGenerateValidate(t *testing.T) {
	tm := NewTokenManager()

	jt, err := tm.Generate(time.Hour)
	require.NoError(t, err)
	assert.Len(t, jt.Token, 64)

	require.NoError(t, tm.Validate(jt.Token))
	assert.Error(t, tm.Validate("not-a-token"))
}

func TestTokenExpiry(t *testing.T) {
	tm := NewTokenManager()

	jt, err := tm.Generate(-time.Second)
	require.NoError(t, err)
	assert.Error(t, tm.Validate(jt.Token))

	tm.CleanupExpired()
	assert.Error(t, tm.Validate(jt.Token))
}

func TestTokenRevoke(t *testing.T) {
	tm := NewTokenManager()

	jt, err := tm.Generate(time.Hour)
	require.NoError(t, err)

	tm.Revoke(jt.Token)
	assert.Error(t, tm.Validate(jt.Token))
}
