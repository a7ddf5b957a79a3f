package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	apierrors "github.com/testforge/backend/internal/pkg/errors"
	"github.com/testforge/backend/internal/pkg/response"
)

// Counter increments a counter that expires after expiration. *database.Redis satisfies it.
type Counter interface {
	IncrWithExpire(ctx context.Context, key string, expiration time.Duration) (int64, error)
}

// RateLimitConfig defines rate limiting parameters.
type RateLimitConfig struct {
	// Name separates the counters of different limiters.
	Name              string
	RequestsPerMinute int
	BurstSize         int
	// Clock defaults to the wall clock.
	Clock clock.Clock
}

const rateLimitWindow = time.Minute

// DefaultRateLimitConfig returns default rate limiting configuration.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Name:              "api",
		RequestsPerMinute: 600,
		BurstSize:         60,
	}
}

// RateLimit limits requests per client address.
func RateLimit(counter Counter, cfg RateLimitConfig) func(next http.Handler) http.Handler {
	return RateLimitByKey(counter, cfg, nil)
}

// RateLimitByOrg limits requests per organization. It must run after Identity.
func RateLimitByOrg(counter Counter, cfg RateLimitConfig) func(next http.Handler) http.Handler {
	return RateLimitByKey(counter, cfg, func(r *http.Request) string {
		if orgID := GetOrgIDFromContext(r.Context()); orgID != uuid.Nil {
			return "org:" + orgID.String()
		}
		return ""
	})
}

// RateLimitByKey returns a rate limiter that uses a custom key extractor.
// Counter errors let the request through.
func RateLimitByKey(counter Counter, cfg RateLimitConfig, keyFunc func(*http.Request) string) func(next http.Handler) http.Handler {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := ""
			if keyFunc != nil {
				clientID = keyFunc(r)
			}
			if clientID == "" {
				clientID = getClientID(r)
			}

			// Each window gets its own key, so a counter never outlives its minute
			// even if the store refreshes expirations.
			windowStart := clk.Now().Truncate(rateLimitWindow)
			windowEnd := windowStart.Add(rateLimitWindow)
			key := fmt.Sprintf("ratelimit:%s:%s:%d", cfg.Name, clientID, windowStart.Unix())

			count, err := counter.IncrWithExpire(r.Context(), key, rateLimitWindow)
			if err != nil {
				slog.Warn("rate limit counter unavailable", slog.String("key", key), slog.Any("error", err))
				next.ServeHTTP(w, r)
				return
			}

			limit := cfg.RequestsPerMinute
			remaining := limit - int(count)
			if remaining < 0 {
				remaining = 0
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(windowEnd.Unix(), 10))

			if int(count) > limit+cfg.BurstSize {
				retry := int(windowEnd.Sub(clk.Now()).Seconds() + 0.999)
				w.Header().Set("Retry-After", strconv.Itoa(max(retry, 1)))
				response.Error(w, apierrors.ErrRateLimited)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// getClientID extracts a unique identifier for the client.
func getClientID(r *http.Request) string {
	return "ip:" + getRealIP(r)
}

// getRealIP extracts the real client IP, considering proxies.
func getRealIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return xrip
	}
	return r.RemoteAddr
}
