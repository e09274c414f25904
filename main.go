// Command backend is the matchpoll bot.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Validates the bot and streamer credentials and their scopes.
//   - Makes sure the bot is a moderator in every configured channel.
//   - Starts one chat session and one detection runner per channel, plus the
//     background token refresher.
//   - Exposes an HTTP server with /healthz, /readyz, /status, /metrics and
//     the Twitch authorization flow.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/matchpoll/backend/capture"
	"github.com/onnwee/matchpoll/backend/chat"
	"github.com/onnwee/matchpoll/backend/config"
	"github.com/onnwee/matchpoll/backend/crypto"
	"github.com/onnwee/matchpoll/backend/db"
	"github.com/onnwee/matchpoll/backend/oauth"
	"github.com/onnwee/matchpoll/backend/poll"
	"github.com/onnwee/matchpoll/backend/server"
	"github.com/onnwee/matchpoll/backend/telemetry"
	"github.com/onnwee/matchpoll/backend/twitchapi"
	"github.com/onnwee/matchpoll/backend/valorant"
	"github.com/onnwee/matchpoll/backend/vision"
)

const credentialPollInterval = 15 * time.Second

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load("backend/.env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateTwitch(); err != nil {
		slog.Error("twitch config invalid", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateDetection(); err != nil {
		slog.Error("detection config invalid", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdown, err := telemetry.InitTracing("matchpoll", "1.0.0", cfg.OTELEndpoint)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// DB
	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Versioned migrations first; the embedded idempotent SQL is the fallback.
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db (both versioned and embedded SQL failed)", slog.Any("err", err))
			os.Exit(1)
		}
	} else {
		slog.Info("versioned migrations completed successfully", slog.String("component", "db_migrate"))
	}

	creds := &db.CredentialStore{DB: database}
	if cfg.EncryptionKey != "" {
		enc, err := crypto.NewAESEncryptor(cfg.EncryptionKey)
		if err != nil {
			slog.Error("invalid ENCRYPTION_KEY", slog.Any("err", err))
			os.Exit(1)
		}
		creds.Enc = enc
	} else {
		slog.Warn("ENCRYPTION_KEY not set; credentials are stored in plaintext")
	}
	polls := &db.PollStateStore{DB: database}
	idp := &twitchapi.IDClient{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret, RedirectURI: cfg.TwitchRedirectURI}
	mgr := oauth.NewManager(idp, creds)

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The HTTP server comes up first so a fresh install can complete the
	// authorization flow while startup waits for credentials.
	sessions := &sessionSet{m: make(map[string]*chat.Session)}
	go func() {
		err := server.Start(ctx, server.Deps{
			DB:          database,
			Exchanger:   mgr,
			Credentials: creds,
			Polls:       polls,
			Chat:        sessions.status,
			ClientID:    cfg.TwitchClientID,
			RedirectURI: cfg.TwitchRedirectURI,
			Scopes:      cfg.ScopesFor,
			Admin:       server.AdminAuth{Username: cfg.AdminUsername, Password: cfg.AdminPassword, Token: cfg.AdminToken},
			RateLimit:   server.RateLimit{Enabled: cfg.RateLimitEnabled, Requests: cfg.RateLimitRequests, Window: cfg.RateLimitWindow},
		}, cfg.HTTPAddr)
		if err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	bot, err := awaitRole(ctx, mgr, db.RoleBot, cfg.BotScopes)
	if err != nil {
		exitOnStartup(ctx, "bot credential invalid", err)
		return
	}
	streamer, err := awaitRole(ctx, mgr, db.RoleStreamer, cfg.StreamerScopes)
	if err != nil {
		exitOnStartup(ctx, "streamer credential invalid", err)
		return
	}
	slog.Info("credentials validated", slog.String("bot", bot.Login), slog.String("streamer", streamer.Login))

	oauth.StartRefresher(ctx, mgr, []db.Role{db.RoleBot, db.RoleStreamer}, cfg.RefreshInterval, cfg.RefreshWindow)

	helix := &twitchapi.HelixClient{
		AppTokenSource: &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret},
		ClientID:       cfg.TwitchClientID,
	}

	classifier, err := vision.NewClassifier(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		slog.Error("vision classifier init failed", slog.Any("err", err))
		os.Exit(1)
	}
	capturer := capture.New(capture.Options{ExecPath: cfg.ChromePath})
	defer capturer.Close()
	stats := valorant.NewAggregator(valorant.NewClient(valorant.ClientOptions{
		APIKey:   cfg.ValorantKey,
		Region:   cfg.ValorantRegion,
		Platform: cfg.ValorantPlatform,
	}))

	slog.Info("starting workers", slog.Int("channel_count", len(cfg.TwitchChannels)), slog.Any("channels", cfg.TwitchChannels))

	g, gctx := errgroup.WithContext(ctx)
	for _, channel := range cfg.TwitchChannels {
		lookupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		user, err := helix.GetUser(lookupCtx, channel)
		cancel()
		if err != nil {
			slog.Error("channel lookup failed", slog.String("channel", channel), slog.Any("err", err))
			os.Exit(1)
		}

		// Moderator status lets the bot pin and bypass slow mode. Failure is not fatal.
		if err := twitchapi.EnsureModerator(ctx, helix, mgr.For(db.RoleStreamer), user.ID, bot.UserID, bot.Login); err != nil {
			slog.Warn("could not make bot a moderator; run the command manually",
				slog.String("channel", user.Login),
				slog.String("command", "/mod "+bot.Login),
				slog.Any("err", err))
		}

		session := chat.NewSession(chat.Options{
			Channel: user.Login,
			Login:   bot.Login,
			Token:   func(ctx context.Context) (string, error) { return mgr.Token(ctx, db.RoleBot) },
		})
		sessions.add(user.ID, session)

		g.Go(func() error {
			return chat.Supervise(gctx, session, 5*time.Second, func(ctx context.Context, credentialFailure bool) error {
				return prepareBotSession(ctx, mgr, cfg.BotScopes, credentialFailure, 5*time.Second)
			})
		})

		runner := poll.NewRunner(poll.Config{
			Channel:     user.Login,
			ChannelID:   user.ID,
			Player:      cfg.ValorantUsername,
			Window:      cfg.ValorantWindow,
			Interval:    cfg.PollInterval,
			TickTimeout: cfg.TickTimeout,
		}, poll.Deps{
			Live:       helix,
			Store:      polls,
			Capturer:   capturer,
			Classifier: classifier,
			Stats:      stats,
			Chat:       session,
		})
		g.Go(func() error { return runner.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		slog.Error("worker stopped", slog.Any("err", err))
		stop()
		os.Exit(1)
	}
	slog.Info("shutting down")
}

// awaitRole validates role's stored credential. With no credential stored it
// logs where to authorize and polls until one appears or ctx ends.
func awaitRole(ctx context.Context, mgr *oauth.Manager, role db.Role, required []string) (*twitchapi.Validation, error) {
	warned := false
	for {
		v, err := mgr.ValidateRole(ctx, role, required)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, db.ErrNoCredential) {
			return nil, err
		}
		if !warned {
			slog.Warn("no credential stored; authorize at /auth/twitch/start?role="+string(role), slog.String("role", string(role)))
			warned = true
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(credentialPollInterval):
		}
	}
}

// prepareBotSession runs before every chat (re)connect. The bot token is
// refreshed first when the last attempt was rejected, then validated with its
// scopes. A revoked refresh token or a lost scope stops the bot; any other
// validation failure is retried every retry until it passes or ctx ends.
func prepareBotSession(ctx context.Context, mgr *oauth.Manager, required []string, credentialFailure bool, retry time.Duration) error {
	if credentialFailure {
		if _, err := mgr.Refresh(ctx, db.RoleBot); err != nil {
			if terminalCredentialError(err) {
				return err
			}
			slog.Warn("bot token refresh failed", slog.Any("err", err), slog.String("component", "chat"))
		}
	}
	for {
		_, err := mgr.ValidateRole(ctx, db.RoleBot, required)
		if err == nil {
			return nil
		}
		if terminalCredentialError(err) {
			return err
		}
		slog.Warn("bot token validation failed; retrying", slog.Any("err", err), slog.Duration("retry", retry), slog.String("component", "chat"))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retry):
		}
	}
}

// terminalCredentialError reports errors that need an operator to re-authorize.
func terminalCredentialError(err error) bool {
	var serr *oauth.InsufficientScopeError
	if errors.As(err, &serr) {
		return true
	}
	var rerr *twitchapi.RefreshError
	return errors.As(err, &rerr) && rerr.Terminal()
}

func exitOnStartup(ctx context.Context, msg string, err error) {
	if ctx.Err() != nil {
		slog.Info("shutting down")
		return
	}
	slog.Error(msg, slog.Any("err", err))
	os.Exit(1)
}

// sessionSet tracks chat sessions by broadcaster id for /status.
type sessionSet struct {
	mu sync.RWMutex
	m  map[string]*chat.Session
}

func (s *sessionSet) add(channelID string, session *chat.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[channelID] = session
}

func (s *sessionSet) status() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(s.m))
	for id, session := range s.m {
		out[id] = session.Connected()
	}
	return out
}
