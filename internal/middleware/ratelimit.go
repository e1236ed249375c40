package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/zentra/warden/pkg/database"
)

// RateLimitMiddleware limits requests per user, or per IP for anonymous
// callers, within a one second window.
func RateLimitMiddleware(redisClient *redis.Client, rps int) func(http.Handler) http.Handler {
	return limiter(redisClient, rps, time.Second, func(r *http.Request) string {
		if userID, ok := GetUserID(r.Context()); ok {
			return fmt.Sprintf("user:%s", userID.String())
		}
		return fmt.Sprintf("ip:%s", getClientIP(r))
	})
}

// StrictRateLimitMiddleware caps moderation commands per caller per minute.
// It must run after AuthMiddleware to key on the moderator.
func StrictRateLimitMiddleware(redisClient *redis.Client, perMinute int) func(http.Handler) http.Handler {
	return limiter(redisClient, perMinute, time.Minute, func(r *http.Request) string {
		if userID, ok := GetUserID(r.Context()); ok {
			return fmt.Sprintf("strict:user:%s", userID.String())
		}
		return fmt.Sprintf("strict:ip:%s", getClientIP(r))
	})
}

func limiter(redisClient *redis.Client, limit int, window time.Duration, keyFn func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if redisClient == nil || limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			count, err := database.IncrementRateLimit(ctx, redisClient, keyFn(r), window)
			if err != nil {
				// If Redis fails, allow the request but log the error
				zerolog.Ctx(ctx).Warn().Err(err).Msg("Rate limiter unavailable")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limit))
			if count > int64(limit) {
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
				http.Error(w, `{"error":"Rate limit exceeded"}`, http.StatusTooManyRequests)
				return
			}
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", int64(limit)-count))

			next.ServeHTTP(w, r)
		})
	}
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	// Check common proxy headers
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Take the first IP in the chain
		for i := 0; i < len(xff); i++ {
			if xff[i] == ',' {
				return xff[:i]
			}
		}
		return xff
	}

	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return xrip
	}

	// Fall back to RemoteAddr
	ip := r.RemoteAddr
	// Remove port if present
	for i := len(ip) - 1; i >= 0; i-- {
		if ip[i] == ':' {
			return ip[:i]
		}
	}
	return ip
}
