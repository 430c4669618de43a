package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/achouhan93/ClusterTalk/internal/observability"
	"github.com/achouhan93/ClusterTalk/services/ratelimit"
	"github.com/achouhan93/ClusterTalk/utils"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Limiter decides whether a client may issue another request.
type Limiter interface {
	CheckLimit(ctx context.Context, subject string) (*ratelimit.RateLimitResult, error)
}

// RateLimitMiddleware enforces a per-client request limit. Clients are keyed
// by their authenticated subject, or by remote IP for anonymous requests.
type RateLimitMiddleware struct {
	limiter Limiter
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewRateLimitMiddleware creates a new RateLimitMiddleware
func NewRateLimitMiddleware(limiter Limiter, metrics *observability.Metrics, logger *zap.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiter: limiter,
		metrics: metrics,
		logger:  logger,
	}
}

// Limit rejects requests over the limit with 429. Limiter failures let the
// request through.
func (m *RateLimitMiddleware) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		key := clientKey(r)

		result, err := m.limiter.CheckLimit(ctx, key)
		if err != nil {
			m.logger.Warn("rate limiter unavailable, allowing request",
				zap.String("request_id", chimw.GetReqID(ctx)),
				zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if !result.Allowed {
			m.metrics.IncRateLimited()
			m.logger.Info("rate limit exceeded",
				zap.String("request_id", chimw.GetReqID(ctx)),
				zap.String("client", key))
			_ = utils.WriteTooManyRequests(w, time.Until(result.ResetAt), map[string]interface{}{
				"limit":    result.Limit,
				"reset_at": result.ResetAt.UTC().Format(time.RFC3339),
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if subject := GetSubjectFromContext(r.Context()); subject != "" {
		return "sub:" + subject
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
