package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/dental-quote/internal/common"
)

// Checker decides whether a keyed request is within its budget.
type Checker interface {
	Allow(ctx context.Context, key string, window time.Duration, max int) (Decision, error)
}

// Config describes how to derive a rate limit key and thresholds.
type Config struct {
	Key    func(*http.Request) string
	Window time.Duration
	Max    int
}

// Handler enforces rate limits before delegating to the next handler. Limiter
// failures let the request through.
type Handler struct {
	Limiter Checker
	Config  Config
	OnError func(error)
}

// Middleware implements the http.Handler middleware interface.
func (h Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Limiter == nil || h.Config.Key == nil {
			next.ServeHTTP(w, r)
			return
		}
		key := h.Config.Key(r)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		decision, err := h.Limiter.Allow(r.Context(), key, h.Config.Window, h.Config.Max)
		if err != nil {
			if h.OnError != nil {
				h.OnError(err)
			}
			next.ServeHTTP(w, r)
			return
		}
		writeHeaders(w, decision.Limit, decision.Remaining, decision.ResetAt)
		if !decision.Allowed {
			reject(w, decision.ResetAt)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SessionKey keys code attempts by quote session and client IP.
func SessionKey(r *http.Request) string {
	return "code:" + chi.URLParam(r, "sessionID") + ":" + common.ClientIP(r)
}

// IPKey keys requests by client IP.
func IPKey(r *http.Request) string {
	return common.ClientIP(r)
}

func writeHeaders(w http.ResponseWriter, limit, remaining int, resetAt time.Time) {
	if limit < 0 {
		limit = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	headers.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
}

func reject(w http.ResponseWriter, resetAt time.Time) {
	retryAfter := int(time.Until(resetAt).Round(time.Second).Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many attempts. Please wait a moment and try again.",
		map[string]any{"retryAfterSeconds": retryAfter})
}
