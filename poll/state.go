// Package poll decides when to open and close the single prediction poll a
// channel may have, based on what the stream is showing.
//
// Transition is the pure decision step. Runner gathers observations, persists
// the result and then performs the chat effects.
package poll

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/onnwee/matchpoll/backend/db"
	"github.com/onnwee/matchpoll/backend/valorant"
	"github.com/onnwee/matchpoll/backend/vision"
)

// State is a channel's poll state. Active with an empty Game never leaves Transition.
type State struct {
	ChannelID string
	Active    bool
	Game      vision.Game
	Snapshot  *Snapshot
}

// Snapshot is what was known when the poll opened. It is stored as the
// row's last_api_snapshot.
type Snapshot struct {
	LatestMatchID string            `json:"latestMatchId"`
	Summary       *valorant.Summary `json:"summary,omitempty"`
	Template      Template          `json:"template,omitempty"`
	Question      string            `json:"question,omitempty"`
	OpenedAt      time.Time         `json:"openedAt"`
}

// Idle reports whether no poll is open.
func (s State) Idle() bool { return !s.Active }

// Equal compares the persisted parts of two states.
func (s State) Equal(o State) bool {
	if s.ChannelID != o.ChannelID || s.Active != o.Active || s.Game != o.Game {
		return false
	}
	switch {
	case s.Snapshot == nil && o.Snapshot == nil:
		return true
	case s.Snapshot == nil || o.Snapshot == nil:
		return false
	}
	a, b := s.Snapshot, o.Snapshot
	return a.LatestMatchID == b.LatestMatchID && a.Template == b.Template &&
		a.Question == b.Question && a.OpenedAt.Equal(b.OpenedAt)
}

// StateFromRow decodes a stored row. An undecodable snapshot is dropped; the
// flags stay authoritative.
func StateFromRow(row *db.PollState) State {
	s := State{ChannelID: row.ChannelID, Active: row.IsPollActive, Game: vision.Game(row.LastPollGame)}
	if len(row.LastAPISnapshot) > 0 && string(row.LastAPISnapshot) != "null" {
		var snap Snapshot
		if err := json.Unmarshal(row.LastAPISnapshot, &snap); err != nil {
			slog.Warn("ignoring unreadable poll snapshot", slog.String("channel_id", row.ChannelID), slog.Any("err", err))
		} else {
			s.Snapshot = &snap
		}
	}
	return s
}

// Row encodes s for storage.
func (s State) Row() (*db.PollState, error) {
	row := &db.PollState{ChannelID: s.ChannelID, IsPollActive: s.Active, LastPollGame: string(s.Game)}
	if s.Snapshot != nil {
		b, err := json.Marshal(s.Snapshot)
		if err != nil {
			return nil, err
		}
		row.LastAPISnapshot = b
	}
	return row, nil
}
