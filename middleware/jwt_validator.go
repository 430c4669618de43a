package middleware

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for tokens that fail signature or claim checks.
var ErrInvalidToken = errors.New("invalid token")

// HMACValidator validates HS256 tokens signed with a shared secret.
type HMACValidator struct {
	secret []byte
	parser *jwt.Parser
}

// NewHMACValidator creates a validator. When issuer is non-empty the iss
// claim must match it.
func NewHMACValidator(secret, issuer string) *HMACValidator {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &HMACValidator{
		secret: []byte(secret),
		parser: jwt.NewParser(opts...),
	}
}

// ValidateToken implements TokenValidator
func (v *HMACValidator) ValidateToken(_ context.Context, token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}
