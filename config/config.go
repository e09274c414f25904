// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
// Use ValidateTwitch and ValidateDetection for the settings that have no default.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/matchpoll/backend/db"
	"github.com/onnwee/matchpoll/backend/valorant"
)

// Default scope sets. The bot sends and reads chat; the streamer token is
// only used to make the bot a moderator.
const (
	DefaultBotScopes      = "chat:read chat:edit"
	DefaultStreamerScopes = "moderation:read channel:manage:moderators"
)

type Config struct {
	// Twitch
	TwitchClientID     string
	TwitchClientSecret string
	TwitchRedirectURI  string
	TwitchChannels     []string
	BotScopes          []string
	StreamerScopes     []string

	// Database
	DBDsn         string
	EncryptionKey string

	// Vision
	GeminiAPIKey string
	GeminiModel  string
	ChromePath   string

	// Valorant
	ValorantUsername string
	ValorantKey      string
	ValorantRegion   string
	ValorantPlatform string
	ValorantWindow   int

	// Detection loop
	PollInterval time.Duration
	TickTimeout  time.Duration

	// Token refresher
	RefreshInterval time.Duration
	RefreshWindow   time.Duration

	// HTTP / telemetry
	HTTPAddr     string
	OTELEndpoint string

	// Admin protection for /auth/twitch/start
	AdminUsername     string
	AdminPassword     string
	AdminToken        string
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// Load reads environment variables and applies defaults. It fails only on
// values that are present but unparseable.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchClientSecret = os.Getenv("TWITCH_CLIENT_SECRET")
	cfg.TwitchRedirectURI = os.Getenv("TWITCH_REDIRECT_URI")
	if cfg.TwitchRedirectURI == "" {
		cfg.TwitchRedirectURI = "http://localhost:8080/auth/twitch/callback"
	}
	cfg.TwitchChannels = splitList(os.Getenv("TWITCH_CHANNELS"))
	if len(cfg.TwitchChannels) == 0 {
		cfg.TwitchChannels = splitList(os.Getenv("TWITCH_CHANNEL"))
	}
	cfg.BotScopes = splitList(envOr("TWITCH_BOT_SCOPES", DefaultBotScopes))
	cfg.StreamerScopes = splitList(envOr("TWITCH_STREAMER_SCOPES", DefaultStreamerScopes))

	cfg.DBDsn = envOr("DB_DSN", db.DefaultDSN)
	cfg.EncryptionKey = os.Getenv("ENCRYPTION_KEY")

	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	cfg.GeminiModel = envOr("GEMINI_MODEL", "gemini-1.5-flash")
	cfg.ChromePath = os.Getenv("CHROME_PATH")

	cfg.ValorantUsername = os.Getenv("VALORANT_USERNAME")
	cfg.ValorantKey = os.Getenv("VALORANT_KEY")
	cfg.ValorantRegion = envOr("VALORANT_REGION", "ap")
	cfg.ValorantPlatform = envOr("VALORANT_PLATFORM", "pc")
	cfg.ValorantWindow = intEnv("VALORANT_WINDOW", valorant.DefaultWindow, &errs)

	cfg.PollInterval = durationEnv("POLL_INTERVAL", 30*time.Second, &errs)
	cfg.TickTimeout = durationEnv("TICK_TIMEOUT", 25*time.Second, &errs)
	cfg.RefreshInterval = durationEnv("TOKEN_REFRESH_INTERVAL", 5*time.Minute, &errs)
	cfg.RefreshWindow = durationEnv("TOKEN_REFRESH_WINDOW", 15*time.Minute, &errs)

	cfg.HTTPAddr = envOr("HTTP_ADDR", ":8080")
	cfg.OTELEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	cfg.AdminUsername = os.Getenv("ADMIN_USERNAME")
	cfg.AdminPassword = os.Getenv("ADMIN_PASSWORD")
	cfg.AdminToken = os.Getenv("ADMIN_TOKEN")
	cfg.RateLimitEnabled = os.Getenv("RATE_LIMIT_ENABLED") != "0"
	cfg.RateLimitRequests = intEnv("RATE_LIMIT_REQUESTS_PER_IP", 10, &errs)
	cfg.RateLimitWindow = durationEnv("RATE_LIMIT_WINDOW_SECONDS", time.Minute, &errs)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ValidateTwitch checks the settings needed to authorize and join chat.
func (c *Config) ValidateTwitch() error {
	var missing []string
	if c.TwitchClientID == "" {
		missing = append(missing, "TWITCH_CLIENT_ID")
	}
	if c.TwitchClientSecret == "" {
		missing = append(missing, "TWITCH_CLIENT_SECRET")
	}
	if len(c.TwitchChannels) == 0 {
		missing = append(missing, "TWITCH_CHANNEL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing twitch env: require %s", strings.Join(missing, ", "))
	}
	return nil
}

// ValidateDetection checks the settings needed by the detection loop.
func (c *Config) ValidateDetection() error {
	var missing []string
	if c.GeminiAPIKey == "" {
		missing = append(missing, "GEMINI_API_KEY")
	}
	if c.ValorantUsername == "" {
		missing = append(missing, "VALORANT_USERNAME")
	}
	if c.ValorantKey == "" {
		missing = append(missing, "VALORANT_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing detection env: require %s", strings.Join(missing, ", "))
	}
	if _, _, err := valorant.ParseHandle(c.ValorantUsername); err != nil {
		return fmt.Errorf("invalid VALORANT_USERNAME: %w", err)
	}
	if c.PollInterval < time.Second {
		return fmt.Errorf("POLL_INTERVAL %s is below 1s", c.PollInterval)
	}
	return nil
}

// ScopesFor returns the required scope set for role.
func (c *Config) ScopesFor(role db.Role) []string {
	if role == db.RoleStreamer {
		return c.StreamerScopes
	}
	return c.BotScopes
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// splitList accepts comma and/or space separated values.
func splitList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	out := fields[:0]
	for _, f := range fields {
		if f = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(f), "#")); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func durationEnv(key string, def time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// bare integers are seconds
		if n, nerr := strconv.Atoi(v); nerr == nil {
			return time.Duration(n) * time.Second
		}
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return d
}

func intEnv(key string, def int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		*errs = append(*errs, fmt.Errorf("invalid %s: %q", key, v))
		return def
	}
	return n
}
