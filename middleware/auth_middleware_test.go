package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockTokenValidator is a mock implementation of TokenValidator
type MockTokenValidator struct {
	mock.Mock
}

func (m *MockTokenValidator) ValidateToken(ctx context.Context, token string) (*Claims, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Claims), args.Error(1)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthenticate(t *testing.T) {
	logger := zap.NewNop()

	t.Run("valid token stores claims", func(t *testing.T) {
		validator := new(MockTokenValidator)
		claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user-123"}}
		validator.On("ValidateToken", mock.Anything, "valid-token").Return(claims, nil)

		handler := NewAuthenticator(validator, logger).Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Same(t, claims, GetClaimsFromContext(r.Context()))
			assert.Equal(t, "user-123", GetSubjectFromContext(r.Context()))
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodPost, "/ask", nil)
		req.Header.Set("Authorization", "Bearer valid-token")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		validator.AssertExpectations(t)
	})

	t.Run("rejected token", func(t *testing.T) {
		validator := new(MockTokenValidator)
		validator.On("ValidateToken", mock.Anything, "bad").Return(nil, errors.New("expired"))
		handler := NewAuthenticator(validator, logger).Authenticate(okHandler())

		req := httptest.NewRequest(http.MethodPost, "/ask", nil)
		req.Header.Set("Authorization", "bearer bad")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "invalid or expired token")
		assert.NotContains(t, w.Body.String(), "expired\"")
	})

	for _, header := range []string{"", "Basic dXNlcjpwYXNz", "Bearer ", "Bearer"} {
		t.Run("unusable header "+header, func(t *testing.T) {
			validator := new(MockTokenValidator)
			handler := NewAuthenticator(validator, logger).Authenticate(okHandler())

			req := httptest.NewRequest(http.MethodPost, "/ask", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))
			validator.AssertNotCalled(t, "ValidateToken", mock.Anything, mock.Anything)
		})
	}
}

func TestRequireRole(t *testing.T) {
	auth := NewAuthenticator(new(MockTokenValidator), zap.NewNop())

	tests := []struct {
		name       string
		roles      []string
		claims     *Claims
		wantStatus int
	}{
		{"has role", []string{"admin"}, &Claims{Roles: []string{"reader", "admin"}}, http.StatusOK},
		{"any of several roles", []string{"admin", "auditor"}, &Claims{Roles: []string{"auditor"}}, http.StatusOK},
		{"missing role", []string{"admin"}, &Claims{Roles: []string{"reader"}}, http.StatusForbidden},
		{"no claims", []string{"admin"}, nil, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := auth.RequireRole(tt.roles...)(okHandler())

			req := httptest.NewRequest(http.MethodGet, "/api/v1/queries", nil)
			if tt.claims != nil {
				req = req.WithContext(WithClaims(req.Context(), tt.claims))
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr error
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi", nil},
		{"bearer   padded  ", "padded", nil},
		{"", "", errMissingToken},
		{"Token abc", "", errMalformedToken},
		{"Bearer", "", errMalformedToken},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			got, err := bearerToken(tt.header)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
