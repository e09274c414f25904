package poll

import (
	"time"

	"github.com/onnwee/matchpoll/backend/valorant"
	"github.com/onnwee/matchpoll/backend/vision"
)

// Observation is everything a tick learned from the outside world. Fields
// the current phase does not need are nil.
type Observation struct {
	// Detection is the classifier verdict (IDLE, and chess resolution).
	Detection *vision.Detection
	// Summary and Template are set when opening a valorant poll.
	Summary  *valorant.Summary
	Template Template
	// Latest is the newest match (valorant resolution).
	Latest *valorant.MatchResult
	Player string
	At     time.Time
}

// EffectKind says what the runner should do with an Effect.
type EffectKind int

const (
	// EffectSay posts Text to the channel.
	EffectSay EffectKind = iota
	// EffectOpened and EffectResolved are bookkeeping only.
	EffectOpened
	EffectResolved
)

// Effect is an action to carry out after the new state is persisted.
type Effect struct {
	Kind EffectKind
	Game vision.Game
	Text string
}

// Transition computes the next state and the effects that go with it. It
// does no I/O. Returning a state Equal to s means nothing happened.
func Transition(s State, obs Observation) (State, []Effect) {
	if s.Active && !s.Game.Valid() {
		// A row written out-of-band with no usable game; reset quietly.
		return State{ChannelID: s.ChannelID}, nil
	}
	if !s.Active {
		return open(s, obs)
	}
	return resolve(s, obs)
}

func open(s State, obs Observation) (State, []Effect) {
	d := obs.Detection
	if d == nil || !d.IsInMatch {
		return s, nil
	}
	switch d.Game {
	case vision.GameValorant:
		if obs.Summary == nil {
			return s, nil
		}
		q := obs.Template.Render(obs.Player, obs.Summary)
		next := State{
			ChannelID: s.ChannelID,
			Active:    true,
			Game:      vision.GameValorant,
			Snapshot: &Snapshot{
				LatestMatchID: obs.Summary.LatestMatchID,
				Summary:       obs.Summary,
				Template:      obs.Template,
				Question:      q,
				OpenedAt:      obs.At,
			},
		}
		return next, []Effect{
			{Kind: EffectOpened, Game: vision.GameValorant},
			{Kind: EffectSay, Text: Announcement(q)},
		}
	case vision.GameChess:
		next := State{
			ChannelID: s.ChannelID,
			Active:    true,
			Game:      vision.GameChess,
			Snapshot:  &Snapshot{OpenedAt: obs.At},
		}
		return next, []Effect{
			{Kind: EffectOpened, Game: vision.GameChess},
			{Kind: EffectSay, Text: ChessOpenNotice},
		}
	}
	return s, nil
}

func resolve(s State, obs Observation) (State, []Effect) {
	var text string
	switch s.Game {
	case vision.GameValorant:
		l := obs.Latest
		if l == nil || l.MatchID == "" {
			return s, nil
		}
		if !hasBaseline(s.Snapshot) {
			return withBaseline(s, l.MatchID, obs.At), nil
		}
		if l.MatchID == s.Snapshot.LatestMatchID {
			return s, nil
		}
		text = ResultMessage(obs.Player, l)
	case vision.GameChess:
		d := obs.Detection
		if d == nil || (d.IsInMatch && d.Game == vision.GameChess) {
			return s, nil
		}
		text = ChessOverNotice
	}
	return State{ChannelID: s.ChannelID}, []Effect{
		{Kind: EffectResolved, Game: s.Game},
		{Kind: EffectSay, Text: text},
	}
}

// hasBaseline reports whether snap says which match was newest when the poll
// opened. A summary with no matches is a baseline of its own.
func hasBaseline(snap *Snapshot) bool {
	return snap != nil && (snap.LatestMatchID != "" || snap.Summary != nil)
}

// withBaseline keeps the poll open and records matchID as the match to beat.
// It covers rows opened out-of-band and snapshots that could not be decoded.
func withBaseline(s State, matchID string, at time.Time) State {
	snap := Snapshot{OpenedAt: at}
	if s.Snapshot != nil {
		snap = *s.Snapshot
	}
	snap.LatestMatchID = matchID
	s.Snapshot = &snap
	return s
}
