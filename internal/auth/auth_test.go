package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	s := NewService("secret")
	tok, err := s.GenerateToken(Identity{Subject: "u1", Role: RoleRequester, Resources: []string{"job/J1:app/A1"}}, time.Hour)
	require.NoError(t, err)

	id, err := s.VerifyToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.Subject)
	assert.Equal(t, RoleRequester, id.Role)
	assert.Equal(t, []string{"job/J1:app/A1"}, id.Resources)
}

func TestVerifyRejects(t *testing.T) {
	s := NewService("secret")

	expired, err := s.GenerateToken(Identity{Subject: "u1", Role: RoleRequester}, -time.Minute)
	require.NoError(t, err)
	_, err = s.VerifyToken(expired)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	other, err := NewService("other").GenerateToken(Identity{Subject: "u1"}, time.Hour)
	require.NoError(t, err)
	_, err = s.VerifyToken(other)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = s.VerifyToken(none)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestClaimsAuthorizer(t *testing.T) {
	ctx := context.Background()
	a := ClaimsAuthorizer{}
	requester := &Identity{Subject: "r", Role: RoleRequester, Resources: []string{"k1"}}
	discloser := &Identity{Subject: "d", Role: RoleDiscloser, Resources: []string{"*"}}

	assert.NoError(t, a.Authorize(ctx, requester, ActionRequest, "k1"))
	assert.ErrorIs(t, a.Authorize(ctx, requester, ActionRequest, "k2"), ErrForbidden)
	assert.ErrorIs(t, a.Authorize(ctx, requester, ActionDisclose, "k1"), ErrForbidden)
	assert.NoError(t, a.Authorize(ctx, requester, ActionConsume, ""))
	assert.NoError(t, a.Authorize(ctx, requester, ActionView, "k1"))

	assert.NoError(t, a.Authorize(ctx, discloser, ActionDisclose, "anything"))
	assert.NoError(t, a.Authorize(ctx, discloser, ActionDecline, "anything"))
	assert.ErrorIs(t, a.Authorize(ctx, discloser, ActionConsume, ""), ErrForbidden)

	assert.ErrorIs(t, a.Authorize(ctx, nil, ActionView, "k1"), ErrUnauthenticated)
}
