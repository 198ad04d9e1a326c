package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/temcen/productimporter/internal/config"
)

const (
	limiterIdleTTL   = 10 * time.Minute
	limiterSweepSize = 10000
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter hands out one token bucket per client IP.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	rate    rate.Limit
	burst   int
	now     func() time.Time
}

func NewRateLimiter(r rate.Limit, burst int) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*clientLimiter),
		rate:    r,
		burst:   burst,
		now:     time.Now,
	}
}

func (rl *RateLimiter) GetLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if client, exists := rl.clients[ip]; exists {
		client.lastSeen = now
		return client.limiter
	}

	if len(rl.clients) >= limiterSweepSize {
		for key, client := range rl.clients {
			if now.Sub(client.lastSeen) > limiterIdleTTL {
				delete(rl.clients, key)
			}
		}
	}

	limiter := rate.NewLimiter(rl.rate, rl.burst)
	rl.clients[ip] = &clientLimiter{limiter: limiter, lastSeen: now}
	return limiter
}

// RateLimit rejects requests over the configured per-IP budget with 429.
func RateLimit(cfg config.RateLimitConfig, logger *logrus.Logger) gin.HandlerFunc {
	if !cfg.Enabled || cfg.RequestsPerMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	rl := NewRateLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), burst)

	return func(c *gin.Context) {
		ip := c.ClientIP()
		limiter := rl.GetLimiter(ip)

		allowed := limiter.Allow()
		c.Header("X-RateLimit-Limit", strconv.Itoa(cfg.RequestsPerMinute))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(int(limiter.Tokens())))

		if !allowed {
			logger.WithFields(logrus.Fields{
				"client_ip": ip,
				"limit":     cfg.RequestsPerMinute,
			}).Warn("Rate limit exceeded")

			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"code":    "RATE_LIMIT_EXCEEDED",
					"message": "Rate limit exceeded. Please try again later.",
				},
			})
			return
		}

		c.Next()
	}
}
