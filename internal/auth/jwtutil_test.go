package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokensRoundTrip(t *testing.T) {
	tokens, err := NewTokens("secret", "vault")
	require.NoError(t, err)

	signed, err := tokens.Sign(Caller{OwnerID: "owner-1", Roles: []Role{RoleAdmin, "bogus"}}, time.Minute)
	require.NoError(t, err)

	caller, err := tokens.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, "owner-1", caller.OwnerID)
	assert.Equal(t, []Role{RoleAdmin}, caller.Roles)
	assert.True(t, caller.IsAdmin())
}

func TestTokensDefaultRoleIsCustomer(t *testing.T) {
	tokens, _ := NewTokens("secret", "")
	signed, err := tokens.Sign(Caller{OwnerID: "owner-2"}, time.Minute)
	require.NoError(t, err)

	caller, err := tokens.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, []Role{RoleCustomer}, caller.Roles)
	assert.False(t, caller.IsStaff())
}

func TestTokensRejectsExpiredAndForeignTokens(t *testing.T) {
	tokens, _ := NewTokens("secret", "vault")
	tokens.now = func() time.Time { return time.Now().Add(-time.Hour) }
	expired, err := tokens.Sign(Caller{OwnerID: "o"}, time.Minute)
	require.NoError(t, err)
	tokens.now = time.Now

	_, err = tokens.Verify(expired)
	assert.True(t, errors.Is(err, ErrInvalidToken))

	other, _ := NewTokens("another-secret", "vault")
	foreign, err := other.Sign(Caller{OwnerID: "o"}, time.Minute)
	require.NoError(t, err)
	_, err = tokens.Verify(foreign)
	assert.True(t, errors.Is(err, ErrInvalidToken))
}

func TestCallerCanView(t *testing.T) {
	owner := Caller{OwnerID: "a", Roles: []Role{RoleCustomer}}
	support := Caller{OwnerID: "s", Roles: []Role{RoleSupport}}

	assert.True(t, owner.CanView("a"))
	assert.False(t, owner.CanView("b"))
	assert.True(t, support.CanView("b"))
	assert.False(t, Caller{}.CanView(""))
}
