package oauth

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/onnwee/matchpoll/backend/db"
)

// StartRefresher launches a goroutine that periodically checks each role's
// stored token and refreshes it when it expires within window.
func StartRefresher(ctx context.Context, m *Manager, roles []db.Role, interval, window time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval/2) + 1))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			refreshDue(ctx, m, roles, window)
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			nextSleep := interval + time.Duration(rand.Int63n(jitterRange*2+1)-jitterRange)
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}
		}
	}()
}

// refreshDue refreshes every role whose token is inside the expiry window.
func refreshDue(ctx context.Context, m *Manager, roles []db.Role, window time.Duration) {
	for _, role := range roles {
		rec, err := m.Record(ctx, role)
		if err != nil {
			if !errors.Is(err, db.ErrNoCredential) {
				slog.Warn("refresher: load credential", slog.String("role", string(role)), slog.Any("err", err))
			}
			continue
		}
		if rec.RefreshToken == "" || rec.ExpiresAt.IsZero() || time.Until(rec.ExpiresAt) > window {
			continue
		}
		rctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		if _, err := m.Refresh(rctx, role); err != nil {
			slog.Warn("token refresh failed", slog.String("role", string(role)), slog.Any("err", err))
		}
		cancel()
	}
}
