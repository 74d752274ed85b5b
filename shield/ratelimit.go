package shield

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimitRule defines the limit for one path prefix.
type RateLimitRule struct {
	// Prefix is matched against the request path; the longest matching
	// prefix wins.
	Prefix      string
	MaxRequests int
	Window      time.Duration
}

type bucket struct {
	mu      sync.Mutex
	count   int
	resetAt time.Time
}

// RateLimiter provides per-IP, per-prefix rate limiting with fixed windows.
// Expired buckets are garbage collected in the background.
type RateLimiter struct {
	rules   []RateLimitRule
	buckets sync.Map
}

// NewRateLimiter creates a limiter with the given rules. Paths that match
// no rule are unlimited.
func NewRateLimiter(rules []RateLimitRule) *RateLimiter {
	return &RateLimiter{rules: rules}
}

// StartGC sweeps expired buckets every interval until done is closed.
func (rl *RateLimiter) StartGC(done <-chan struct{}, interval time.Duration) {
	tick := time.NewTicker(interval)
	go func() {
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				rl.gc()
			}
		}
	}()
}

func (rl *RateLimiter) gc() {
	now := time.Now()
	rl.buckets.Range(func(key, value any) bool {
		b := value.(*bucket)
		b.mu.Lock()
		expired := now.After(b.resetAt)
		b.mu.Unlock()
		if expired {
			rl.buckets.Delete(key)
		}
		return true
	})
}

func (rl *RateLimiter) rule(path string) *RateLimitRule {
	var best *RateLimitRule
	for i := range rl.rules {
		r := &rl.rules[i]
		if strings.HasPrefix(path, r.Prefix) && (best == nil || len(r.Prefix) > len(best.Prefix)) {
			best = r
		}
	}
	return best
}

func (rl *RateLimiter) allow(ip, path string) bool {
	rule := rl.rule(path)
	if rule == nil || rule.MaxRequests <= 0 {
		return true
	}

	key := ip + ":" + rule.Prefix
	now := time.Now()

	val, loaded := rl.buckets.LoadOrStore(key, &bucket{
		count:   1,
		resetAt: now.Add(rule.Window),
	})
	if !loaded {
		return true
	}

	b := val.(*bucket)
	b.mu.Lock()
	defer b.mu.Unlock()
	if now.After(b.resetAt) {
		b.count = 1
		b.resetAt = now.Add(rule.Window)
		return true
	}
	b.count++
	return b.count <= rule.MaxRequests
}

// Middleware enforces the limiter, answering 429 with a JSON body when a
// client exceeds its budget.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if !rl.allow(ip, r.URL.Path) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]any{
				"success": false,
				"error":   "rate limit exceeded",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
