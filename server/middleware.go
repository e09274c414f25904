package server

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// AdminAuth guards the authorization start route. With no credentials set
// the route is open, which is only acceptable for local development.
type AdminAuth struct {
	Username string
	Password string
	// Token is matched against the X-Admin-Token header.
	Token string
}

func (a AdminAuth) enabled() bool {
	return (a.Username != "" && a.Password != "") || a.Token != ""
}

func (a AdminAuth) permits(r *http.Request) bool {
	if a.Token != "" {
		if tok := r.Header.Get("X-Admin-Token"); tok != "" && subtle.ConstantTimeCompare([]byte(tok), []byte(a.Token)) == 1 {
			return true
		}
	}
	if a.Username == "" || a.Password == "" {
		return false
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(a.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(a.Password)) == 1
	return userOK && passOK
}

// guard wraps next with token or Basic auth.
func (a AdminAuth) guard(next http.Handler) http.Handler {
	if !a.enabled() {
		slog.Warn("admin authentication not configured - /auth/twitch/start is UNPROTECTED. Set ADMIN_USERNAME+ADMIN_PASSWORD or ADMIN_TOKEN for production")
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.permits(r) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="matchpoll admin"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		slog.Warn("admin auth failed", slog.String("path", r.URL.Path), slog.String("remote_addr", r.RemoteAddr))
	})
}

// RateLimit caps requests per client IP over a sliding window.
type RateLimit struct {
	Enabled  bool
	Requests int
	Window   time.Duration
}

// ipLimiter keeps the request times of each client inside the window.
type ipLimiter struct {
	cfg RateLimit
	now func() time.Time

	mu   sync.Mutex
	seen map[string][]time.Time
}

func newIPLimiter(ctx context.Context, cfg RateLimit) *ipLimiter {
	if cfg.Requests <= 0 {
		cfg.Requests = 10
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	l := &ipLimiter{cfg: cfg, now: time.Now, seen: make(map[string][]time.Time)}
	if cfg.Enabled {
		go l.sweepLoop(ctx)
	}
	return l
}

func (l *ipLimiter) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.Window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

// sweep drops clients with no request inside the window.
func (l *ipLimiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.cfg.Window)
	for ip, times := range l.seen {
		if len(times) == 0 || !times[len(times)-1].After(cutoff) {
			delete(l.seen, ip)
		}
	}
}

// allow records a request from ip and reports whether it fits the budget.
func (l *ipLimiter) allow(ip string) bool {
	if !l.cfg.Enabled {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	cutoff := now.Add(-l.cfg.Window)
	times := l.seen[ip]
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	times = times[i:]
	if len(times) >= l.cfg.Requests {
		l.seen[ip] = times
		return false
	}
	l.seen[ip] = append(times, now)
	return true
}

func (l *ipLimiter) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !l.allow(ip) {
			w.Header().Set("Retry-After", strconv.Itoa(int(l.cfg.Window.Seconds())))
			http.Error(w, "Too Many Requests - rate limit exceeded", http.StatusTooManyRequests)
			slog.Warn("rate limit exceeded", slog.String("ip", ip), slog.String("path", r.URL.Path))
			return
		}
		next.ServeHTTP(w, r)
	})
}
