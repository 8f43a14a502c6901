package jwtx_test

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/crudlink/pkg/jwtx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, claims jwt.Claims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func TestExpiresAt(t *testing.T) {
	exp := time.Now().Add(10 * time.Minute).Truncate(time.Second).UTC()
	tok := signedToken(t, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(exp),
	})

	got, err := jwtx.ExpiresAt(tok)
	require.NoError(t, err)
	require.True(t, exp.Equal(got))
}

func TestExpiresAt_NoClaim(t *testing.T) {
	tok := signedToken(t, jwt.RegisteredClaims{Subject: "user-1"})

	_, err := jwtx.ExpiresAt(tok)
	require.ErrorIs(t, err, jwtx.ErrNoExpiry)
}

func TestExpiresAt_Garbage(t *testing.T) {
	_, err := jwtx.ExpiresAt("not.a.jwt")
	require.Error(t, err)
}

func TestCapExpiry(t *testing.T) {
	now := time.Now().Truncate(time.Second).UTC()
	local := now.Add(55 * time.Minute)

	t.Run("earlier token exp wins", func(t *testing.T) {
		exp := now.Add(10 * time.Minute)
		tok := signedToken(t, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)})
		require.True(t, exp.Equal(jwtx.CapExpiry(tok, local)))
	})

	t.Run("later token exp keeps local", func(t *testing.T) {
		tok := signedToken(t, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(2 * time.Hour))})
		require.Equal(t, local, jwtx.CapExpiry(tok, local))
	})

	t.Run("opaque token keeps local", func(t *testing.T) {
		require.False(t, jwtx.LooksLikeJWT("opaque-access-token"))
		require.Equal(t, local, jwtx.CapExpiry("opaque-access-token", local))
	})
}
