package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Supervise keeps s connected until ctx ends. Before every (re)connect it calls
// prepare, passing whether the previous attempt failed on credentials, so the
// owner can refresh and revalidate the token. An error from prepare is
// terminal and returned, unless ctx has already ended.
func Supervise(ctx context.Context, s *Session, backoff time.Duration, prepare func(ctx context.Context, credentialFailure bool) error) error {
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	credentialFailure := false
	for {
		if err := prepare(ctx, credentialFailure); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		err := s.Connect(ctx)
		if ctx.Err() != nil {
			return nil
		}
		var cerr *ConnectError
		credentialFailure = errors.As(err, &cerr) && cerr.Credential
		slog.Warn("chat connection lost", slog.String("channel", s.Channel()), slog.Bool("credential", credentialFailure), slog.Any("err", err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
	}
}
