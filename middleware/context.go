package middleware

import (
	"context"
	"slices"

	"github.com/golang-jwt/jwt/v5"
)

type claimsKey struct{}

// Claims are the token claims ClusterTalk understands: the registered set
// plus a role list. "admin" unlocks the query log.
type Claims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// HasRole reports whether the claims carry role
func (c *Claims) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}

// GetClaimsFromContext returns the claims stored by Authenticate, or nil
func GetClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsKey{}).(*Claims)
	return claims
}

// WithClaims returns a copy of ctx carrying claims
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// GetSubjectFromContext returns the authenticated subject, or "" when the
// request is anonymous.
func GetSubjectFromContext(ctx context.Context) string {
	if claims := GetClaimsFromContext(ctx); claims != nil {
		return claims.Subject
	}
	return ""
}
