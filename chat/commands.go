package chat

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/onnwee/matchpoll/backend/telemetry"
)

// CommandContext is what a command handler sees.
type CommandContext struct {
	Channel string
	Sender  string
	Say     func(text string) error
}

// Command handles one chat command.
type Command func(c CommandContext) error

// DefaultCommands returns the built-in table.
func DefaultCommands() map[string]Command {
	return map[string]Command{
		"!hi": func(c CommandContext) error {
			return c.Say(fmt.Sprintf("hello @%s!", c.Sender))
		},
	}
}

// Handle registers (or replaces) a command. Names match case-insensitively.
func (s *Session) Handle(name string, cmd Command) {
	s.commands[strings.ToLower(name)] = cmd
}

// Dispatch runs the command whose name equals text, ignoring case. Anything
// else is a no-op. A failing handler gets an apology posted on its behalf.
func (s *Session) Dispatch(channel, sender, text string) {
	key := strings.ToLower(text)
	cmd, ok := s.commands[key]
	if !ok {
		return
	}
	telemetry.ChatCommand(key)
	err := cmd(CommandContext{
		Channel: channel,
		Sender:  sender,
		Say:     func(t string) error { return s.Say(channel, t) },
	})
	if err == nil {
		return
	}
	slog.Error("chat command failed", slog.String("command", key), slog.String("sender", sender), slog.Any("err", err))
	if serr := s.Say(channel, fmt.Sprintf("@%s Sorry, something went wrong.", sender)); serr != nil {
		slog.Warn("chat apology not sent", slog.Any("err", serr))
	}
}
