package handler

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const limiterSweepInterval = time.Minute

// RateLimiter keeps one token bucket per client address.
type RateLimiter struct {
	rps       rate.Limit
	burst     int
	mu        sync.Mutex
	clients   map[string]*rate.Limiter
	lastSweep time.Time
}

// NewRateLimiter returns nil when rps is not positive; a nil limiter lets
// every request through.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		rps:       rate.Limit(rps),
		burst:     burst,
		clients:   make(map[string]*rate.Limiter),
		lastSweep: time.Now(),
	}
}

func (rl *RateLimiter) getLimiter(client string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastSweep) > limiterSweepInterval {
		// Drop buckets that have refilled completely.
		for c, l := range rl.clients {
			if l.TokensAt(now) >= float64(rl.burst) {
				delete(rl.clients, c)
			}
		}
		rl.lastSweep = now
	}

	limiter, ok := rl.clients[client]
	if !ok {
		limiter = rate.NewLimiter(rl.rps, rl.burst)
		rl.clients[client] = limiter
	}
	return limiter
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientIP(r)
		if !rl.getLimiter(client).Allow() {
			log.WithFields(log.Fields{"client_ip": client, "path": r.URL.Path}).Warn("rate limit exceeded")
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Success: false, Message: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func NewCORS(origins []string) *cors.Cors {
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
}
