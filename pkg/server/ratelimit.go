package server

import (
	"net"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Layr-Labs/eigenx-claims-go/pkg/config"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/metrics"
)

// limiterIdleTTL is how long a client's bucket is kept after its last request
const limiterIdleTTL = 10 * time.Minute

// RateLimiter keeps one token bucket per client IP. Buckets of idle clients expire so the
// set of tracked clients stays bounded by recent traffic.
type RateLimiter struct {
	limiters *cache.Cache
	rate     rate.Limit
	burst    int
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewRateLimiter creates a rate limiter from cfg. It returns nil when rate limiting is disabled.
func NewRateLimiter(cfg *config.RateLimitConfig, m *metrics.Metrics, logger *zap.Logger) *RateLimiter {
	if cfg == nil || !cfg.Enabled() {
		return nil
	}
	return &RateLimiter{
		limiters: cache.New(limiterIdleTTL, limiterIdleTTL),
		rate:     rate.Limit(cfg.RequestsPerSecond),
		burst:    cfg.Burst,
		metrics:  m,
		logger:   logger,
	}
}

// getLimiter returns the bucket for key and extends its lifetime
func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	if v, found := rl.limiters.Get(key); found {
		limiter := v.(*rate.Limiter)
		rl.limiters.SetDefault(key, limiter)
		return limiter
	}

	limiter := rate.NewLimiter(rl.rate, rl.burst)
	if err := rl.limiters.Add(key, limiter, cache.DefaultExpiration); err != nil {
		// Another request for the same client won the race
		if v, found := rl.limiters.Get(key); found {
			return v.(*rate.Limiter)
		}
	}
	return limiter
}

// Handler returns the rate limiting middleware handler
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)

		if !rl.getLimiter(key).Allow() {
			rl.metrics.RateLimited()
			rl.logger.Sugar().Debugw("Rate limit exceeded", "client", key, "path", r.URL.Path)

			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
