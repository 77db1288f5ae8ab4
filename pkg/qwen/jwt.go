package qwen

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims holds the claims worth surfacing when an access token is
// JWT-shaped. Qwen access tokens are not guaranteed to be JWTs; callers
// should treat parse failure as "opaque token", not an error condition.
type TokenClaims struct {
	Subject   string
	Email     string
	Issuer    string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// InspectToken parses an access token WITHOUT validation, for claim
// inspection only. Signature and expiry are never checked.
func InspectToken(tokenString string) (*TokenClaims, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	token, _, err := parser.ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("token is not a JWT: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("failed to extract claims from token")
	}

	out := &TokenClaims{}
	if sub, ok := claims["sub"].(string); ok {
		out.Subject = sub
	}
	if email, ok := claims["email"].(string); ok {
		out.Email = email
	}
	if iss, ok := claims["iss"].(string); ok {
		out.Issuer = iss
	}
	if exp, ok := claims["exp"].(float64); ok {
		out.ExpiresAt = time.Unix(int64(exp), 0)
	}
	if iat, ok := claims["iat"].(float64); ok {
		out.IssuedAt = time.Unix(int64(iat), 0)
	}

	return out, nil
}
