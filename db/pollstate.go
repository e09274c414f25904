package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// PollState is the persisted ChannelPollState row. LastPollGame is empty when
// no game is recorded.
type PollState struct {
	ChannelID       string
	IsPollActive    bool
	LastPollGame    string
	LastAPISnapshot json.RawMessage
	UpdatedAt       time.Time
}

// PollStateStore reads and writes channel_poll_state rows.
type PollStateStore struct {
	DB *sql.DB
}

// LoadOrCreate returns the row for channelID, inserting an idle row first if absent.
func (s *PollStateStore) LoadOrCreate(ctx context.Context, channelID string) (*PollState, error) {
	if _, err := s.DB.ExecContext(ctx,
		`INSERT INTO channel_poll_state(channel_id, is_poll_active) VALUES($1, FALSE) ON CONFLICT (channel_id) DO NOTHING`,
		channelID); err != nil {
		return nil, &PersistenceError{Op: "create poll state", Err: err}
	}
	st, err := s.get(ctx, channelID)
	if err != nil {
		return nil, &PersistenceError{Op: "load poll state", Err: err}
	}
	return st, nil
}

func (s *PollStateStore) get(ctx context.Context, channelID string) (*PollState, error) {
	var (
		st       PollState
		game     sql.NullString
		snapshot []byte
	)
	err := s.DB.QueryRowContext(ctx,
		`SELECT channel_id, is_poll_active, last_poll_game, last_api_snapshot, updated_at FROM channel_poll_state WHERE channel_id=$1`,
		channelID).Scan(&st.ChannelID, &st.IsPollActive, &game, &snapshot, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}
	st.LastPollGame = game.String
	if len(snapshot) > 0 {
		st.LastAPISnapshot = json.RawMessage(snapshot)
	}
	return &st, nil
}

// Save upserts the full row.
func (s *PollStateStore) Save(ctx context.Context, st *PollState) error {
	if st.IsPollActive && st.LastPollGame == "" {
		return &PersistenceError{Op: "save poll state", Err: errors.New("active poll requires a game")}
	}
	var game sql.NullString
	if st.LastPollGame != "" {
		game = sql.NullString{String: st.LastPollGame, Valid: true}
	}
	var snapshot any
	if len(st.LastAPISnapshot) > 0 {
		snapshot = []byte(st.LastAPISnapshot)
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO channel_poll_state(channel_id, is_poll_active, last_poll_game, last_api_snapshot, updated_at)
		 VALUES($1,$2,$3,$4,NOW())
		 ON CONFLICT(channel_id) DO UPDATE SET
		   is_poll_active=EXCLUDED.is_poll_active,
		   last_poll_game=EXCLUDED.last_poll_game,
		   last_api_snapshot=EXCLUDED.last_api_snapshot,
		   updated_at=NOW()`,
		st.ChannelID, st.IsPollActive, game, snapshot)
	if err != nil {
		return &PersistenceError{Op: "save poll state", Err: err}
	}
	return nil
}

// List returns all channel rows, for status reporting.
func (s *PollStateStore) List(ctx context.Context) ([]PollState, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT channel_id, is_poll_active, COALESCE(last_poll_game, ''), updated_at FROM channel_poll_state ORDER BY channel_id`)
	if err != nil {
		return nil, &PersistenceError{Op: "list poll state", Err: err}
	}
	defer func() { _ = rows.Close() }()
	var out []PollState
	for rows.Next() {
		var st PollState
		if err := rows.Scan(&st.ChannelID, &st.IsPollActive, &st.LastPollGame, &st.UpdatedAt); err != nil {
			return nil, &PersistenceError{Op: "list poll state", Err: err}
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
