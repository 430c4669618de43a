package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/achouhan93/ClusterTalk/utils"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

var (
	errMissingToken   = errors.New("authorization header missing")
	errMalformedToken = errors.New("authorization header is not a bearer token")
)

// TokenValidator turns a raw bearer token into claims
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*Claims, error)
}

// Authenticator guards routes with bearer tokens. Anonymous requests never
// reach the wrapped handler.
type Authenticator struct {
	validator TokenValidator
	logger    *zap.Logger
}

// NewAuthenticator creates an Authenticator
func NewAuthenticator(validator TokenValidator, logger *zap.Logger) *Authenticator {
	return &Authenticator{validator: validator, logger: logger}
}

// Authenticate validates the bearer token and stores its claims in the
// request context.
func (a *Authenticator) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		token, err := bearerToken(r.Header.Get("Authorization"))
		if err != nil {
			a.logger.Debug("request without usable token",
				zap.String("request_id", chimw.GetReqID(ctx)),
				zap.Error(err))
			_ = utils.WriteUnauthorized(w, "bearer token required")
			return
		}

		claims, err := a.validator.ValidateToken(ctx, token)
		if err != nil {
			a.logger.Warn("token rejected",
				zap.String("request_id", chimw.GetReqID(ctx)),
				zap.Error(err))
			_ = utils.WriteUnauthorized(w, "invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(ctx, claims)))
	})
}

// RequireRole admits requests whose claims carry any of roles. It must be
// mounted after Authenticate.
func (a *Authenticator) RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaimsFromContext(r.Context())
			if claims == nil {
				_ = utils.WriteUnauthorized(w, "bearer token required")
				return
			}

			for _, role := range roles {
				if claims.HasRole(role) {
					next.ServeHTTP(w, r)
					return
				}
			}

			a.logger.Info("role check failed",
				zap.String("request_id", chimw.GetReqID(r.Context())),
				zap.String("sub", claims.Subject),
				zap.Strings("required", roles))
			_ = utils.WriteForbidden(w, "insufficient role")
		})
	}
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", errMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", errMalformedToken
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errMalformedToken
	}
	return token, nil
}
