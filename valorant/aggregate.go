package valorant

import (
	"context"
	"errors"
	"log/slog"
	"math"
)

// DefaultWindow is the number of recent matches a Summary covers.
const DefaultWindow = 10

// Totals are summed stats over the window.
type Totals struct {
	Kills     int `json:"kills"`
	Deaths    int `json:"deaths"`
	Headshots int `json:"headshots"`
	Bodyshots int `json:"bodyshots"`
	Legshots  int `json:"legshots"`
	Ultimate  int `json:"ultimate"`
}

// Summary is the reduced view of the last Window matches.
type Summary struct {
	Totals
	KDA float64 `json:"kda"`
	// PerGame holds each total divided by Window, truncated.
	PerGame Totals `json:"perGame"`
	Window  int    `json:"window"`
	// Found counts matches that contained the player.
	Found         int    `json:"found"`
	Wins          int    `json:"wins"`
	LatestMatchID string `json:"latestMatchId"`
}

// MatchResult is the player's line for a single match.
type MatchResult struct {
	MatchID string
	Found   bool
	Won     bool
	Kills   int
	Deaths  int
	Assists int
}

type matchSource interface {
	Matches(ctx context.Context, name, tag string, size int) ([]MatchData, error)
}

// Aggregator turns match history into Summaries.
type Aggregator struct {
	src matchSource
}

func NewAggregator(src matchSource) *Aggregator { return &Aggregator{src: src} }

// Summarize fetches the last window matches for handle ("name#tag") and sums
// the player's stats. Matches without the player contribute zero.
func (a *Aggregator) Summarize(ctx context.Context, handle string, window int) (*Summary, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	name, tag, err := ParseHandle(handle)
	if err != nil {
		return nil, err
	}
	matches, err := a.fetch(ctx, handle, name, tag, window)
	if err != nil {
		return nil, err
	}
	s := &Summary{Window: window}
	for i := range matches {
		m := &matches[i]
		if i == 0 {
			s.LatestMatchID = m.Metadata.MatchID
		}
		p, ok := m.Find(name, tag)
		if !ok {
			slog.Info("player not found in match", slog.String("handle", handle), slog.String("match_id", m.Metadata.MatchID), slog.String("component", "valorant"))
			continue
		}
		s.Found++
		if m.Won(p) {
			s.Wins++
		}
		s.Kills += p.Stats.Kills
		s.Deaths += p.Stats.Deaths
		s.Headshots += p.Stats.Headshots
		s.Bodyshots += p.Stats.Bodyshots
		s.Legshots += p.Stats.Legshots
		s.Ultimate += p.AbilityCasts.Ultimate
	}
	s.KDA = round2(float64(s.Kills) / float64(max(s.Deaths, 1)))
	s.PerGame = Totals{
		Kills:     s.Kills / window,
		Deaths:    s.Deaths / window,
		Headshots: s.Headshots / window,
		Bodyshots: s.Bodyshots / window,
		Legshots:  s.Legshots / window,
		Ultimate:  s.Ultimate / window,
	}
	return s, nil
}

// Latest returns the player's result in their newest match. MatchID is empty
// when the history is empty.
func (a *Aggregator) Latest(ctx context.Context, handle string) (*MatchResult, error) {
	name, tag, err := ParseHandle(handle)
	if err != nil {
		return nil, err
	}
	matches, err := a.fetch(ctx, handle, name, tag, 1)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return &MatchResult{}, nil
	}
	m := &matches[0]
	r := &MatchResult{MatchID: m.Metadata.MatchID}
	if p, ok := m.Find(name, tag); ok {
		r.Found = true
		r.Won = m.Won(p)
		r.Kills, r.Deaths, r.Assists = p.Stats.Kills, p.Stats.Deaths, p.Stats.Assists
	}
	return r, nil
}

func (a *Aggregator) fetch(ctx context.Context, handle, name, tag string, size int) ([]MatchData, error) {
	matches, err := a.src.Matches(ctx, name, tag, size)
	if err == nil {
		return matches, nil
	}
	fe := &StatsFetchError{Handle: handle, Err: err}
	var se *statusError
	if errors.As(err, &se) {
		fe.Status = se.code
	}
	return nil, fe
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
