package core

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"scheduledpayments/internal/config"
	"scheduledpayments/internal/types"
)

// Rate limit actions. Each action has its own budget per window.
const (
	ActionDefault  = "default"
	ActionCreate   = "create"
	ActionList     = "list"
	ActionUpcoming = "upcoming"
	ActionDelete   = "delete"
)

// KeyScope selects what a rate limit budget is counted against.
type KeyScope int

const (
	// ScopeIP counts against the client IP (X-Forwarded-For first).
	ScopeIP KeyScope = iota
	// ScopeAccount counts against the account in the route or request body.
	ScopeAccount
)

// TokenBucketLimiter is an in-process types.RateLimiter backed by one
// golang.org/x/time/rate bucket per key and action. A budget of N per window
// refills continuously at N/window and allows bursts of N. Buckets idle for
// longer than the window are evicted.
type TokenBucketLimiter struct {
	window time.Duration
	limits map[string]int
	now    func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	limit    int
	lastSeen time.Time
}

// NewTokenBucketLimiter builds a limiter from the per-route budgets.
func NewTokenBucketLimiter(cfg config.RateLimitConfig) *TokenBucketLimiter {
	return &TokenBucketLimiter{
		window: cfg.Window(),
		limits: map[string]int{
			ActionDefault:  cfg.DefaultPerWindow,
			ActionCreate:   cfg.CreatePerWindow,
			ActionList:     cfg.ListPerWindow,
			ActionUpcoming: cfg.UpcomingPerWindow,
			ActionDelete:   cfg.DeletePerWindow,
		},
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// Allow consumes one token from the bucket of key and action.
func (l *TokenBucketLimiter) Allow(_ context.Context, key, action string) (types.RateLimitInfo, bool, error) {
	limit, ok := l.limits[action]
	if !ok || limit <= 0 {
		limit = l.limits[ActionDefault]
	}
	if limit <= 0 {
		limit = 1
	}

	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now)

	id := action + "|" + key
	b, ok := l.buckets[id]
	if !ok {
		every := l.window / time.Duration(limit)
		b = &bucket{limiter: rate.NewLimiter(rate.Every(every), limit), limit: limit}
		l.buckets[id] = b
	}
	b.lastSeen = now

	allowed := b.limiter.AllowN(now, 1)
	tokens := b.limiter.TokensAt(now)

	info := types.RateLimitInfo{
		Limit:     limit,
		Remaining: max(0, int(math.Floor(tokens))),
		ResetAt:   now.Add(l.refillTime(limit, tokens)),
	}
	return info, allowed, nil
}

// refillTime is how long the bucket needs to be full again.
func (l *TokenBucketLimiter) refillTime(limit int, tokens float64) time.Duration {
	missing := float64(limit) - tokens
	if missing <= 0 {
		return 0
	}
	perToken := float64(l.window) / float64(limit)
	return time.Duration(math.Ceil(missing * perToken))
}

// sweep evicts buckets idle for a full window. Called with mu held.
func (l *TokenBucketLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	l.lastSweep = now
	for id, b := range l.buckets {
		if now.Sub(b.lastSeen) >= l.window {
			delete(l.buckets, id)
		}
	}
}

// size reports the number of live buckets.
func (l *TokenBucketLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// RateLimit returns a per-route middleware that enforces the budget of action,
// keyed by scope. Without a RateLimiter it passes through.
//
// On every request (allowed or not), the middleware sets standard rate limit
// response headers:
//   - X-RateLimit-Limit: The maximum number of requests in the window.
//   - X-RateLimit-Remaining: The number of requests remaining.
//   - X-RateLimit-Reset: Seconds until the bucket is full again.
//
// When rate limited, the middleware also sets Retry-After.
func (s *Server) RateLimit(action string, scope KeyScope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.RateLimiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			key := rateLimitKey(r, scope)
			info, allowed, err := s.RateLimiter.Allow(r.Context(), key, action)
			if err != nil {
				// Fail open: a limiter outage must not block all traffic.
				s.Logger.ErrorContext(r.Context(), "rate limiter error",
					"key", key,
					"action", action,
					"error", err,
				)
				next.ServeHTTP(w, r)
				return
			}

			resetIn := resetSeconds(info.ResetAt)
			setRateLimitHeaders(w, info, resetIn)

			if !allowed {
				s.Logger.WarnContext(r.Context(), "rate limit exceeded",
					"key", key,
					"action", action,
					"method", r.Method,
					"path", r.URL.Path,
				)
				retryAfter := max(resetIn, 1)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeRateLimit,
					"rate limit exceeded, retry after "+strconv.Itoa(retryAfter)+"s", nil,
					map[string]any{"retry_after_seconds": retryAfter}))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func setRateLimitHeaders(w http.ResponseWriter, info types.RateLimitInfo, resetIn int) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.Itoa(resetIn))
}

func resetSeconds(at time.Time) int {
	d := time.Until(at)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// rateLimitKey builds "acct:<id>" or "ip:<addr>". Account scope reads the
// accountId route parameter, then the JSON body; an unidentifiable account
// falls back to "acct:unknown".
func rateLimitKey(r *http.Request, scope KeyScope) string {
	if scope == ScopeAccount {
		if id := chi.URLParam(r, "accountId"); id != "" {
			return "acct:" + id
		}
		if id := peekAccountID(r); id != "" {
			return "acct:" + id
		}
		return "acct:unknown"
	}
	return "ip:" + ClientIP(r)
}

// peekAccountID reads accountId from a JSON body and restores the body for the
// handler.
func peekAccountID(r *http.Request) string {
	if r.Body == nil || r.Body == http.NoBody {
		return ""
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize+1))
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil {
		return ""
	}
	var peek struct {
		AccountID string `json:"accountId"`
	}
	if json.Unmarshal(raw, &peek) != nil {
		return ""
	}
	return strings.TrimSpace(peek.AccountID)
}

// ClientIP returns the first X-Forwarded-For entry, or the remote address.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		if r.RemoteAddr == "" {
			return "unknown"
		}
		return r.RemoteAddr
	}
	return host
}
