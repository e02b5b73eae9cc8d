package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/viralgo/credits/internal/auth"
	"github.com/viralgo/credits/internal/cache"
	"github.com/viralgo/credits/internal/metrics"
)

// RateLimiter checks token buckets.
type RateLimiter interface {
	CheckUserRateLimit(ctx context.Context, userID string, ratePerMinute, burst int) (*cache.RateLimitResult, error)
	CheckIPRateLimit(ctx context.Context, ip string, ratePerSecond, burst int) (*cache.RateLimitResult, error)
}

// RateLimitConfig holds configuration for rate limiting middleware.
type RateLimitConfig struct {
	Logger  *slog.Logger
	Limiter RateLimiter
	Metrics metrics.Recorder
	// Per-user limits on credit and billing endpoints
	UserEnabled   bool
	UserPerMinute int
	UserBurst     int
	// Per-IP limits on the webhook endpoint
	IPEnabled bool
	IPRPS     int // Requests per second
	IPBurst   int
}

func (cfg RateLimitConfig) recorder() metrics.Recorder {
	if cfg.Metrics == nil {
		return metrics.NewNoop()
	}
	return cfg.Metrics
}

// RateLimitUser limits authenticated requests per user. It must run after Auth.
// Limiter errors and requests without a principal pass through.
func RateLimitUser(cfg RateLimitConfig) func(http.Handler) http.Handler {
	rec := cfg.recorder()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := auth.UserIDFromContext(r.Context())
			if !cfg.UserEnabled || cfg.Limiter == nil || userID == "" {
				next.ServeHTTP(w, r)
				return
			}

			result, err := cfg.Limiter.CheckUserRateLimit(r.Context(), userID, cfg.UserPerMinute, cfg.UserBurst)
			if err != nil {
				cfg.Logger.Error("rate limit check failed", slog.String("error", err.Error()), slog.String("user_id", userID))
				next.ServeHTTP(w, r)
				return
			}
			if cfg.UserPerMinute > 0 {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.UserPerMinute))
				w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
			}
			if !result.Allowed {
				rec.IncRateLimited("user")
				reject(cfg.Logger, w, r, result.RetryAfter, slog.String("scope", "user"), slog.String("user_id", userID))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitIP limits unauthenticated requests (provider webhooks) per client IP.
func RateLimitIP(cfg RateLimitConfig) func(http.Handler) http.Handler {
	rec := cfg.recorder()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.IPEnabled || cfg.Limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			ip := clientIP(r)
			result, err := cfg.Limiter.CheckIPRateLimit(r.Context(), ip, cfg.IPRPS, cfg.IPBurst)
			if err != nil {
				cfg.Logger.Error("IP rate limit check failed", slog.String("error", err.Error()))
				next.ServeHTTP(w, r)
				return
			}
			if !result.Allowed {
				rec.IncRateLimited("ip")
				reject(cfg.Logger, w, r, result.RetryAfter, slog.String("scope", "ip"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// reject writes 429 with Retry-After rounded up to whole seconds.
func reject(logger *slog.Logger, w http.ResponseWriter, r *http.Request, retryAfter time.Duration, attrs ...slog.Attr) {
	secs := retryAfterSeconds(retryAfter)
	attrs = append(attrs,
		slog.String("endpoint", r.Method+" "+r.URL.Path),
		slog.Int("retry_after_seconds", secs),
		slog.String("request_id", GetRequestID(r.Context())),
	)
	logger.LogAttrs(r.Context(), slog.LevelWarn, "rate limit exceeded", attrs...)

	w.Header().Set("Retry-After", strconv.Itoa(secs))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = fmt.Fprintf(w, `{"error":"Rate limit exceeded. Retry after %d seconds.","code":"RATE_LIMITED"}`, secs)
}

func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	return int(math.Ceil(d.Seconds()))
}

// clientIP returns the host part of RemoteAddr. chi's RealIP middleware runs
// first and has already replaced RemoteAddr from X-Forwarded-For/X-Real-IP.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
