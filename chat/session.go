package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/matchpoll/backend/telemetry"
)

// DefaultCooldown is the minimum gap between two messages to the same channel.
const DefaultCooldown = 1500 * time.Millisecond

const disconnectRetry = 50 * time.Millisecond

// Transport is the part of the IRC client the Session drives.
type Transport interface {
	Join(channels ...string)
	Say(channel, text string)
	Connect() error
	Disconnect() error
}

// Options configures a Session.
type Options struct {
	Channel  string
	Login    string
	Token    func(ctx context.Context) (string, error)
	Cooldown time.Duration
	Now      func() time.Time
	// NewTransport overrides the IRC client (tests).
	NewTransport func(login, token string, s *Session) Transport
}

// Session is one authenticated chat connection to one channel.
type Session struct {
	channel      string
	login        string
	token        func(ctx context.Context) (string, error)
	cooldown     time.Duration
	now          func() time.Time
	newTransport func(login, token string, s *Session) Transport
	commands     map[string]Command

	connected atomic.Bool

	mu        sync.Mutex
	transport Transport
	lastSent  map[string]time.Time
}

// NewSession returns a disconnected session with the default command table.
func NewSession(opts Options) *Session {
	s := &Session{
		channel:      strings.ToLower(strings.TrimPrefix(opts.Channel, "#")),
		login:        opts.Login,
		token:        opts.Token,
		cooldown:     opts.Cooldown,
		now:          opts.Now,
		newTransport: opts.NewTransport,
		lastSent:     make(map[string]time.Time),
	}
	if s.cooldown <= 0 {
		s.cooldown = DefaultCooldown
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newTransport == nil {
		s.newTransport = newIRCTransport
	}
	s.commands = DefaultCommands()
	return s
}

// Channel returns the joined channel login.
func (s *Session) Channel() string { return s.channel }

// Connected reports whether the handshake has completed and the connection is up.
func (s *Session) Connected() bool { return s.connected.Load() }

// Connect opens the connection, joins the channel and blocks until the
// connection ends or ctx is cancelled. A cancelled ctx returns nil.
func (s *Session) Connect(ctx context.Context) error {
	tok, err := s.token(ctx)
	if err != nil {
		return &ConnectError{Channel: s.channel, Credential: true, Err: err}
	}
	tr := s.newTransport(s.login, tok, s)
	s.mu.Lock()
	s.transport = tr
	s.mu.Unlock()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}
		// Disconnect fails until the welcome arrives, so keep asking until
		// it takes or Connect has returned on its own.
		for tr.Disconnect() != nil {
			select {
			case <-done:
				return
			case <-time.After(disconnectRetry):
			}
		}
	}()

	tr.Join(s.channel)
	err = tr.Connect()
	s.connected.Store(false)
	if ctx.Err() != nil {
		return nil
	}
	if errors.Is(err, twitch.ErrLoginAuthenticationFailed) {
		slog.Error("chat authentication failed", slog.String("channel", s.channel), slog.String("component", "chat"))
		return &ConnectError{Channel: s.channel, Credential: true, Err: err}
	}
	if err == nil {
		err = errors.New("connection closed")
	}
	return &ConnectError{Channel: s.channel, Err: err}
}

// Say posts text to channel. Inside the cooldown window the message is dropped
// and Say returns nil; delivery is never guaranteed.
func (s *Session) Say(channel, text string) error {
	channel = strings.ToLower(strings.TrimPrefix(channel, "#"))
	if !s.connected.Load() {
		telemetry.ChatDropped("disconnected")
		return &SendError{Channel: channel, Err: ErrNotConnected}
	}
	s.mu.Lock()
	now := s.now()
	if last, ok := s.lastSent[channel]; ok && now.Sub(last) < s.cooldown {
		s.mu.Unlock()
		slog.Debug("chat message dropped inside cooldown", slog.String("channel", channel), slog.Duration("since_last", now.Sub(last)))
		telemetry.ChatDropped("cooldown")
		return nil
	}
	s.lastSent[channel] = now
	tr := s.transport
	s.mu.Unlock()

	tr.Say(channel, text)
	telemetry.ChatSent()
	return nil
}

// Lifecycle hooks. Each only observes; none may block dispatch.

func (s *Session) onConnect() {
	s.connected.Store(true)
	slog.Info("chat authenticated", slog.String("login", s.login), slog.String("component", "chat"))
}

func (s *Session) onSelfJoin(channel string) {
	slog.Info("chat joined channel", slog.String("channel", channel), slog.String("component", "chat"))
}

func (s *Session) onNotice(channel, msgID, text string) {
	switch kind := classifyNotice(msgID); kind {
	case noticeRateLimited:
		telemetry.ChatDropped("rate_limited")
		slog.Warn("chat message rate limited", slog.String("channel", channel), slog.String("msg_id", msgID), slog.String("notice", text))
	case noticeFailed:
		telemetry.ChatDropped("rejected")
		slog.Warn("chat message failed", slog.String("channel", channel), slog.String("msg_id", msgID), slog.String("notice", text))
	default:
		slog.Debug("chat notice", slog.String("channel", channel), slog.String("msg_id", msgID), slog.String("notice", text))
	}
}

type noticeKind int

const (
	noticeInfo noticeKind = iota
	noticeRateLimited
	noticeFailed
)

func classifyNotice(msgID string) noticeKind {
	switch msgID {
	case "msg_ratelimit", "msg_slowmode", "msg_duplicate":
		return noticeRateLimited
	case "msg_banned", "msg_channel_suspended", "msg_timedout", "msg_followersonly", "msg_subsonly",
		"msg_emoteonly", "msg_r9k", "msg_requires_verified_phone_number", "msg_verified_email", "msg_channel_blocked":
		return noticeFailed
	}
	return noticeInfo
}

func newIRCTransport(login, token string, s *Session) Transport {
	c := twitch.NewClient(login, "oauth:"+strings.TrimPrefix(token, "oauth:"))
	c.OnConnect(s.onConnect)
	c.OnSelfJoinMessage(func(m twitch.UserJoinMessage) { s.onSelfJoin(m.Channel) })
	c.OnNoticeMessage(func(m twitch.NoticeMessage) { s.onNotice(m.Channel, m.MsgID, m.Message) })
	c.OnPrivateMessage(func(m twitch.PrivateMessage) { s.Dispatch(m.Channel, m.User.Name, m.Message) })
	return c
}
