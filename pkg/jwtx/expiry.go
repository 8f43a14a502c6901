package jwtx

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoExpiry is returned when a token carries no "exp" claim.
var ErrNoExpiry = errors.New("jwtx: token has no exp claim")

// LooksLikeJWT reports whether token has the three-segment compact form.
func LooksLikeJWT(token string) bool {
	return strings.Count(token, ".") == 2
}

// ExpiresAt reads the "exp" claim of a compact JWT without verifying its
// signature. Only use the result for scheduling, never for trust decisions.
func ExpiresAt(token string) (time.Time, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, err
	}

	if claims.ExpiresAt == nil {
		return time.Time{}, ErrNoExpiry
	}

	return claims.ExpiresAt.Time.UTC(), nil
}

// CapExpiry returns the earlier of local and the token's own expiry. Opaque
// tokens and tokens without an exp claim leave local unchanged.
func CapExpiry(token string, local time.Time) time.Time {
	if !LooksLikeJWT(token) {
		return local
	}

	exp, err := ExpiresAt(token)
	if err != nil || !exp.Before(local) {
		return local
	}

	return exp
}
