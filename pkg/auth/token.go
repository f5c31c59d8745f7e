package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// ErrNoExpiry is returned when a token carries no exp claim.
var ErrNoExpiry = errors.New("auth: token has no exp claim")

var tokenAlgorithms = []jose.SignatureAlgorithm{
	jose.HS256, jose.HS384, jose.HS512,
	jose.RS256, jose.RS384, jose.RS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.PS256, jose.EdDSA,
}

// TokenExpiry reads the exp claim of a JWT. The signature is not checked;
// the value is only used to schedule a refresh.
func TokenExpiry(token string) (time.Time, error) {
	parsed, err := jwt.ParseSigned(token, tokenAlgorithms)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse token: %w", err)
	}

	var claims jwt.Claims
	if err := parsed.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return time.Time{}, fmt.Errorf("decode claims: %w", err)
	}
	if claims.Expiry == nil {
		return time.Time{}, ErrNoExpiry
	}
	return claims.Expiry.Time(), nil
}
