package twitchapi

import (
	"context"
	"fmt"
	"log/slog"
)

// EnsureModerator makes sure the bot account can send and pin messages in the
// broadcaster's channel. withToken runs a call with the broadcaster's user token
// (and owns any refresh/retry policy). Failure is returned for logging only;
// callers surface the manual "/mod <bot>" instruction.
func EnsureModerator(ctx context.Context, hc *HelixClient, withToken func(context.Context, func(token string) error) error, broadcasterID, botID, botLogin string) error {
	var isMod bool
	err := withToken(ctx, func(tok string) error {
		var err error
		isMod, err = hc.IsModerator(ctx, tok, broadcasterID, botID)
		return err
	})
	if err != nil {
		return fmt.Errorf("list moderators: %w", err)
	}
	if isMod {
		slog.Info("bot already a moderator", slog.String("bot", botLogin))
		return nil
	}
	if err := withToken(ctx, func(tok string) error {
		return hc.AddModerator(ctx, tok, broadcasterID, botID)
	}); err != nil {
		return fmt.Errorf("add moderator: %w", err)
	}
	slog.Info("bot added as moderator", slog.String("bot", botLogin))
	return nil
}
