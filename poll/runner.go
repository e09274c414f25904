package poll

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/matchpoll/backend/capture"
	"github.com/onnwee/matchpoll/backend/db"
	"github.com/onnwee/matchpoll/backend/telemetry"
	"github.com/onnwee/matchpoll/backend/valorant"
	"github.com/onnwee/matchpoll/backend/vision"
)

const (
	DefaultInterval    = 30 * time.Second
	DefaultTickTimeout = 25 * time.Second
)

type LiveChecker interface {
	IsLive(ctx context.Context, login string) (bool, error)
}

type StateStore interface {
	LoadOrCreate(ctx context.Context, channelID string) (*db.PollState, error)
	Save(ctx context.Context, st *db.PollState) error
}

type Capturer interface {
	Capture(ctx context.Context, pageURL string) (*capture.Shot, error)
}

type Classifier interface {
	Classify(ctx context.Context, image []byte, mimeType string) (vision.Detection, error)
}

type Stats interface {
	Summarize(ctx context.Context, handle string, window int) (*valorant.Summary, error)
	Latest(ctx context.Context, handle string) (*valorant.MatchResult, error)
}

// Chat is the send side of a chat session.
type Chat interface {
	Say(channel, text string) error
	Connected() bool
}

// Config is the per-channel runner configuration.
type Config struct {
	// Channel is the broadcaster login; ChannelID keys the stored state.
	Channel   string
	ChannelID string
	// PageURL is captured each tick. Defaults to the channel's twitch.tv page.
	PageURL string
	// Player is the tracked valorant handle, name#tag.
	Player      string
	Window      int
	Interval    time.Duration
	TickTimeout time.Duration
	Rand        *rand.Rand
	Now         func() time.Time
}

// Deps are the runner's collaborators.
type Deps struct {
	Live       LiveChecker
	Store      StateStore
	Capturer   Capturer
	Classifier Classifier
	Stats      Stats
	Chat       Chat
}

// Runner drives one channel's poll lifecycle on a fixed interval.
type Runner struct {
	cfg  Config
	deps Deps
	intn func(n int) int

	// held for the duration of a tick; a tick that cannot take it is skipped
	mu sync.Mutex
}

// Outcome reports how a tick ended.
type Outcome struct {
	Skip    SkipReason
	Err     error
	Changed bool
}

func NewRunner(cfg Config, deps Deps) *Runner {
	if cfg.ChannelID == "" {
		cfg.ChannelID = cfg.Channel
	}
	if cfg.PageURL == "" {
		cfg.PageURL = "https://www.twitch.tv/" + cfg.Channel
	}
	if cfg.Window <= 0 {
		cfg.Window = valorant.DefaultWindow
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = DefaultTickTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	r := &Runner{cfg: cfg, deps: deps, intn: rand.IntN}
	if cfg.Rand != nil {
		r.intn = cfg.Rand.IntN
	}
	return r
}

// Run ticks every Interval until ctx is done. Each tick runs on its own
// goroutine so a slow tick shows up as a skipped overlap instead of a
// silently stretched interval. Run waits for the in-flight tick on return.
func (r *Runner) Run(ctx context.Context) error {
	slog.Info("poll runner starting", slog.String("channel", r.cfg.Channel), slog.Duration("interval", r.cfg.Interval), slog.String("component", "poll"))
	var wg sync.WaitGroup
	defer wg.Wait()
	tick := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Tick(ctx)
		}()
	}
	tick()
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("poll runner stopped", slog.String("channel", r.cfg.Channel), slog.String("component", "poll"))
			return nil
		case <-ticker.C:
			tick()
		}
	}
}

// Tick runs one detection step. It never panics or returns an error upward:
// failures become a skip with the previous state left as it was.
func (r *Runner) Tick(ctx context.Context) (out Outcome) {
	if !r.mu.TryLock() {
		telemetry.TickSkipped(string(SkipOverlap))
		slog.Debug("previous tick still running; skipping", slog.String("channel", r.cfg.Channel), slog.String("component", "poll"))
		return Outcome{Skip: SkipOverlap}
	}
	defer r.mu.Unlock()

	telemetry.TickStarted()
	telemetry.TimeFunc(telemetry.TickDuration, func() { out = r.tick(ctx) })
	return out
}

func (r *Runner) tick(ctx context.Context) (out Outcome) {
	ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	ctx, cancel := context.WithTimeout(ctx, r.cfg.TickTimeout)
	defer cancel()
	ctx, span := telemetry.StartSpan(ctx, "poll.tick", attribute.String("channel", r.cfg.Channel))
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("channel", r.cfg.Channel), slog.String("component", "poll"))
	defer func() {
		span.SetAttributes(attribute.String("skip", string(out.Skip)), attribute.Bool("changed", out.Changed))
		telemetry.EndSpan(span, out.Err)
	}()

	if r.deps.Chat != nil && !r.deps.Chat.Connected() {
		return r.skip(logger, SkipChatDisconnected, nil)
	}

	live, err := r.deps.Live.IsLive(ctx, r.cfg.Channel)
	if err != nil {
		return r.skip(logger, ClassifyTickError(&StageError{Stage: StageLive, Err: err}), err)
	}
	if !live {
		logger.Debug("channel offline")
		return r.skip(logger, SkipOffline, nil)
	}

	row, err := r.deps.Store.LoadOrCreate(ctx, r.cfg.ChannelID)
	if err != nil {
		return r.skip(logger, ClassifyTickError(&StageError{Stage: StageLoad, Err: err}), err)
	}
	cur := StateFromRow(row)

	obs, err := r.observe(ctx, cur)
	if err != nil {
		return r.skip(logger, ClassifyTickError(err), err)
	}

	next, effects := Transition(cur, obs)
	if next.Equal(cur) {
		logger.Debug("no transition", slog.Bool("poll_active", cur.Active), slog.String("game", string(cur.Game)))
		return Outcome{}
	}

	// Persist first. If this fails nothing is announced and the next tick
	// starts again from the stored state.
	newRow, err := next.Row()
	if err == nil {
		err = r.deps.Store.Save(ctx, newRow)
	}
	if err != nil {
		logger.Error("poll state not saved; announcement withheld", slog.Any("err", err))
		return r.skip(logger, ClassifyTickError(&StageError{Stage: StageSave, Err: err}), err)
	}

	for _, e := range effects {
		r.apply(logger, cur, next, e)
	}
	return Outcome{Changed: true}
}

func (r *Runner) skip(logger *slog.Logger, reason SkipReason, err error) Outcome {
	telemetry.TickSkipped(string(reason))
	switch {
	case err == nil:
	case reason == SkipNoVideo || reason == SkipMalformed:
		logger.Info("tick skipped", slog.String("reason", string(reason)), slog.Any("err", err))
	default:
		logger.Warn("tick skipped", slog.String("reason", string(reason)), slog.Any("err", err))
	}
	return Outcome{Skip: reason, Err: err}
}

// observe collects what Transition needs for the current phase.
func (r *Runner) observe(ctx context.Context, cur State) (Observation, error) {
	obs := Observation{Player: r.playerName(), At: r.cfg.Now()}
	switch {
	case cur.Idle():
		d, err := r.detect(ctx)
		if err != nil {
			return obs, err
		}
		obs.Detection = &d
		if d.IsInMatch && d.Game == vision.GameValorant {
			if r.deps.Stats == nil {
				return obs, &StageError{Stage: StageStats, Err: errors.New("no valorant player configured")}
			}
			sum, err := r.deps.Stats.Summarize(ctx, r.cfg.Player, r.cfg.Window)
			if err != nil {
				return obs, &StageError{Stage: StageStats, Err: err}
			}
			obs.Summary = sum
			obs.Template = Templates[r.intn(len(Templates))]
		}
	case cur.Game == vision.GameValorant:
		if r.deps.Stats == nil {
			return obs, &StageError{Stage: StageStats, Err: errors.New("no valorant player configured")}
		}
		latest, err := r.deps.Stats.Latest(ctx, r.cfg.Player)
		if err != nil {
			return obs, &StageError{Stage: StageStats, Err: err}
		}
		obs.Latest = latest
	case cur.Game == vision.GameChess:
		d, err := r.detect(ctx)
		if err != nil {
			return obs, err
		}
		obs.Detection = &d
	}
	return obs, nil
}

func (r *Runner) detect(ctx context.Context) (vision.Detection, error) {
	shot, err := r.deps.Capturer.Capture(ctx, r.cfg.PageURL)
	if err != nil {
		return vision.Detection{}, &StageError{Stage: StageCapture, Err: err}
	}
	d, err := r.deps.Classifier.Classify(ctx, shot.PNG, "image/png")
	if err != nil {
		return vision.Detection{}, &StageError{Stage: StageClassify, Err: err}
	}
	return d, nil
}

func (r *Runner) apply(logger *slog.Logger, cur, next State, e Effect) {
	switch e.Kind {
	case EffectOpened:
		telemetry.PollOpened(string(e.Game))
		attrs := []any{slog.String("game", string(e.Game))}
		if next.Snapshot != nil && next.Snapshot.Template != "" {
			attrs = append(attrs, slog.String("template", string(next.Snapshot.Template)))
		}
		logger.Info("poll opened", attrs...)
	case EffectResolved:
		telemetry.PollResolved(string(e.Game))
		logger.Info("poll resolved", slog.String("game", string(e.Game)), slog.Bool("was_active", cur.Active))
	case EffectSay:
		if r.deps.Chat == nil {
			return
		}
		if err := r.deps.Chat.Say(r.cfg.Channel, e.Text); err != nil {
			logger.Warn("poll announcement not sent", slog.Any("err", err))
		}
	}
}

func (r *Runner) playerName() string {
	if name, _, err := valorant.ParseHandle(r.cfg.Player); err == nil {
		return name
	}
	return r.cfg.Channel
}
