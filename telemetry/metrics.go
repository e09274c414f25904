// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Detection loop
	TicksTotal    prometheus.Counter
	TicksSkipped  *prometheus.CounterVec // reason
	TickDuration  prometheus.Observer
	PollsOpened   *prometheus.CounterVec // game
	PollsResolved *prometheus.CounterVec // game

	// Chat
	ChatMessagesSent    prometheus.Counter
	ChatMessagesDropped *prometheus.CounterVec // reason
	ChatCommands        *prometheus.CounterVec // command

	// Credentials
	TokenRefreshes *prometheus.CounterVec // role, result
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		TicksTotal = promauto.NewCounter(prometheus.CounterOpts{Name: "matchpoll_ticks_total", Help: "Detection loop ticks started"})
		TicksSkipped = promauto.NewCounterVec(prometheus.CounterOpts{Name: "matchpoll_ticks_skipped_total", Help: "Ticks that ended without a decision, by reason"}, []string{"reason"})
		TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "matchpoll_tick_duration_seconds", Help: "Detection tick duration seconds", Buckets: prometheus.DefBuckets})
		PollsOpened = promauto.NewCounterVec(prometheus.CounterOpts{Name: "matchpoll_polls_opened_total", Help: "Polls opened, by game"}, []string{"game"})
		PollsResolved = promauto.NewCounterVec(prometheus.CounterOpts{Name: "matchpoll_polls_resolved_total", Help: "Polls resolved, by game"}, []string{"game"})
		ChatMessagesSent = promauto.NewCounter(prometheus.CounterOpts{Name: "matchpoll_chat_messages_sent_total", Help: "Chat messages handed to the transport"})
		ChatMessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{Name: "matchpoll_chat_messages_dropped_total", Help: "Chat messages dropped or rejected, by reason"}, []string{"reason"})
		ChatCommands = promauto.NewCounterVec(prometheus.CounterOpts{Name: "matchpoll_chat_commands_total", Help: "Chat commands dispatched"}, []string{"command"})
		TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "matchpoll_token_refreshes_total", Help: "Token refresh attempts, by role and result"}, []string{"role", "result"})
	})
}

func incVec(v *prometheus.CounterVec, labels ...string) {
	if v != nil {
		v.WithLabelValues(labels...).Inc()
	}
}

func inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// TickStarted counts a tick.
func TickStarted() { inc(TicksTotal) }

// TickSkipped counts a tick that degraded to a no-op.
func TickSkipped(reason string) { incVec(TicksSkipped, reason) }

// PollOpened counts an opened poll.
func PollOpened(game string) { incVec(PollsOpened, game) }

// PollResolved counts a resolved poll.
func PollResolved(game string) { incVec(PollsResolved, game) }

// ChatSent counts a message handed to the chat transport.
func ChatSent() { inc(ChatMessagesSent) }

// ChatDropped counts a dropped or rejected message.
func ChatDropped(reason string) { incVec(ChatMessagesDropped, reason) }

// ChatCommand counts a dispatched command.
func ChatCommand(name string) { incVec(ChatCommands, name) }

// TokenRefresh counts a refresh attempt.
func TokenRefresh(role, result string) { incVec(TokenRefreshes, role, result) }

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context carrying id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
