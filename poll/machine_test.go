package poll

import (
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/matchpoll/backend/valorant"
	"github.com/onnwee/matchpoll/backend/vision"
)

var opened = time.Date(2024, 10, 15, 20, 0, 0, 0, time.UTC)

func det(g vision.Game, in bool) *vision.Detection { return &vision.Detection{Game: g, IsInMatch: in} }

func summary(latest string) *valorant.Summary {
	return &valorant.Summary{
		Totals:        valorant.Totals{Kills: 50, Deaths: 25},
		KDA:           2,
		PerGame:       valorant.Totals{Kills: 5, Deaths: 2, Headshots: 4, Bodyshots: 9, Legshots: 1, Ultimate: 2},
		Window:        10,
		Found:         10,
		Wins:          6,
		LatestMatchID: latest,
	}
}

func says(effects []Effect) []string {
	var out []string
	for _, e := range effects {
		if e.Kind == EffectSay {
			out = append(out, e.Text)
		}
	}
	return out
}

func openValorant(latest string) State {
	return State{
		ChannelID: "1234",
		Active:    true,
		Game:      vision.GameValorant,
		Snapshot:  &Snapshot{LatestMatchID: latest, Template: TemplateAverageKD, Question: "q", OpenedAt: opened},
	}
}

func TestTransitionIdleNotInMatch(t *testing.T) {
	idle := State{ChannelID: "1234"}
	for _, g := range []vision.Game{vision.GameValorant, vision.GameChess} {
		next, effects := Transition(idle, Observation{Detection: det(g, false), At: opened})
		if !next.Equal(idle) || len(effects) != 0 {
			t.Errorf("%s not in match: next=%+v effects=%v", g, next, effects)
		}
	}
}

func TestTransitionOpensValorant(t *testing.T) {
	idle := State{ChannelID: "1234"}
	next, effects := Transition(idle, Observation{
		Detection: det(vision.GameValorant, true),
		Summary:   summary("m1"),
		Template:  TemplateHeadshot,
		Player:    "Streamer",
		At:        opened,
	})
	if !next.Active || next.Game != vision.GameValorant {
		t.Fatalf("expected open valorant poll, got %+v", next)
	}
	if next.Snapshot.LatestMatchID != "m1" || next.Snapshot.Template != TemplateHeadshot {
		t.Errorf("snapshot=%+v", next.Snapshot)
	}
	msgs := says(effects)
	if len(msgs) != 1 {
		t.Fatalf("says=%v", msgs)
	}
	if !strings.HasPrefix(msgs[0], "Will Streamer land more than 4 headshots") || !strings.HasSuffix(msgs[0], PinInstruction) {
		t.Errorf("announcement=%q", msgs[0])
	}
	if effects[0].Kind != EffectOpened || effects[0].Game != vision.GameValorant {
		t.Errorf("first effect=%+v", effects[0])
	}
}

func TestTransitionValorantWithoutSummaryStaysIdle(t *testing.T) {
	idle := State{ChannelID: "1234"}
	next, effects := Transition(idle, Observation{Detection: det(vision.GameValorant, true)})
	if !next.Equal(idle) || len(effects) != 0 {
		t.Fatalf("next=%+v effects=%v", next, effects)
	}
}

func TestTransitionOpensChess(t *testing.T) {
	next, effects := Transition(State{ChannelID: "1234"}, Observation{Detection: det(vision.GameChess, true), At: opened})
	if !next.Active || next.Game != vision.GameChess {
		t.Fatalf("next=%+v", next)
	}
	if msgs := says(effects); len(msgs) != 1 || msgs[0] != ChessOpenNotice {
		t.Errorf("says=%v", msgs)
	}
}

func TestTransitionValorantResolution(t *testing.T) {
	cur := openValorant("m1")

	next, effects := Transition(cur, Observation{Latest: &valorant.MatchResult{MatchID: "m1", Found: true}})
	if !next.Equal(cur) || len(effects) != 0 {
		t.Fatalf("same newest match must not resolve: %+v %v", next, effects)
	}

	latest := &valorant.MatchResult{MatchID: "m2", Found: true, Won: true, Kills: 20, Deaths: 10, Assists: 4}
	next, effects = Transition(cur, Observation{Latest: latest, Player: "Streamer"})
	if next.Active || next.Game != "" || next.Snapshot != nil {
		t.Fatalf("expected idle, got %+v", next)
	}
	msgs := says(effects)
	if len(msgs) != 1 || !strings.Contains(msgs[0], "Streamer won with 20/10/4 (K/D 2.00)") {
		t.Errorf("result=%v", msgs)
	}

	// Running resolution again against the same external state is a no-op.
	again, effects := Transition(next, Observation{Latest: latest, Player: "Streamer"})
	if !again.Equal(next) || len(effects) != 0 {
		t.Fatalf("second resolution changed state: %+v %v", again, effects)
	}
}

func TestTransitionValorantEmptyHistoryDoesNotResolve(t *testing.T) {
	cur := openValorant("m1")
	next, effects := Transition(cur, Observation{Latest: &valorant.MatchResult{}})
	if !next.Equal(cur) || len(effects) != 0 {
		t.Fatalf("next=%+v effects=%v", next, effects)
	}
}

func TestTransitionChessResolution(t *testing.T) {
	cur := State{ChannelID: "1234", Active: true, Game: vision.GameChess, Snapshot: &Snapshot{OpenedAt: opened}}
	tests := []struct {
		name     string
		d        *vision.Detection
		resolved bool
	}{
		{name: "still playing", d: det(vision.GameChess, true), resolved: false},
		{name: "no detection", d: nil, resolved: false},
		{name: "game finished", d: det(vision.GameChess, false), resolved: true},
		{name: "switched game", d: det(vision.GameValorant, true), resolved: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, effects := Transition(cur, Observation{Detection: tt.d})
			if got := !next.Active; got != tt.resolved {
				t.Fatalf("resolved=%v want %v", got, tt.resolved)
			}
			if tt.resolved {
				if msgs := says(effects); len(msgs) != 1 || msgs[0] != ChessOverNotice {
					t.Errorf("says=%v", msgs)
				}
			} else if len(effects) != 0 {
				t.Errorf("unexpected effects %v", effects)
			}
		})
	}
}

func TestTransitionResetsActiveWithoutGame(t *testing.T) {
	for _, g := range []vision.Game{"", "fortnite"} {
		next, effects := Transition(State{ChannelID: "1234", Active: true, Game: g}, Observation{Detection: det(vision.GameChess, true)})
		if next.Active || len(effects) != 0 {
			t.Errorf("game %q: next=%+v effects=%v", g, next, effects)
		}
	}
}

func randomObservation(r *rand.Rand) Observation {
	var obs Observation
	games := []vision.Game{vision.GameValorant, vision.GameChess}
	if r.IntN(4) > 0 {
		obs.Detection = det(games[r.IntN(2)], r.IntN(2) == 0)
	}
	if r.IntN(2) == 0 {
		obs.Summary = summary([]string{"", "m1", "m2"}[r.IntN(3)])
		obs.Template = Templates[r.IntN(len(Templates))]
	}
	if r.IntN(2) == 0 {
		obs.Latest = &valorant.MatchResult{MatchID: []string{"", "m1", "m2", "m3"}[r.IntN(4)], Found: r.IntN(2) == 0}
	}
	return obs
}

func TestTransitionInvariantHolds(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for run := 0; run < 200; run++ {
		s := State{ChannelID: "1234"}
		for step := 0; step < 100; step++ {
			next, effects := Transition(s, randomObservation(r))
			if next.Active && !next.Game.Valid() {
				t.Fatalf("run %d step %d: active poll without game: %+v", run, step, next)
			}
			for _, e := range effects {
				switch e.Kind {
				case EffectOpened:
					if s.Active {
						t.Fatalf("run %d step %d: opened a poll while one was active", run, step)
					}
				case EffectResolved:
					if !s.Active {
						t.Fatalf("run %d step %d: resolved with no active poll", run, step)
					}
				}
			}
			if next.Equal(s) && len(effects) != 0 {
				t.Fatalf("run %d step %d: effects without a state change", run, step)
			}
			s = next
		}
	}
}

func TestTemplatesRender(t *testing.T) {
	s := summary("m1")
	for _, tpl := range Templates {
		q := tpl.Render("Streamer", s)
		if !strings.HasPrefix(q, "Will Streamer ") || !strings.HasSuffix(q, "?") && !strings.HasSuffix(q, ")") {
			t.Errorf("%s rendered %q", tpl, q)
		}
	}
	if got := TemplateAverageKD.Render("Streamer", s); got != "Will Streamer finish this match with a K/D above 2.00?" {
		t.Errorf("average_kd=%q", got)
	}
	if got := TemplateWinLoss.Render("Streamer", s); got != "Will Streamer win this match? (6 wins in the last 10)" {
		t.Errorf("win_loss=%q", got)
	}
}

func TestTransitionValorantWithoutBaselineRecordsOne(t *testing.T) {
	tests := []struct {
		name string
		cur  State
	}{
		{
			name: "no snapshot",
			cur:  State{ChannelID: "1234", Active: true, Game: vision.GameValorant},
		},
		{
			name: "snapshot without match or summary",
			cur:  State{ChannelID: "1234", Active: true, Game: vision.GameValorant, Snapshot: &Snapshot{Question: "q", OpenedAt: opened}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			old := &valorant.MatchResult{MatchID: "m1", Found: true, Won: true, Kills: 10, Deaths: 4}
			next, effects := Transition(tt.cur, Observation{Latest: old, Player: "Streamer", At: opened.Add(time.Minute)})
			if len(effects) != 0 {
				t.Fatalf("baseline must not announce: %v", effects)
			}
			if !next.Active || next.Game != vision.GameValorant || next.Snapshot == nil || next.Snapshot.LatestMatchID != "m1" {
				t.Fatalf("expected open poll with baseline m1, got %+v", next)
			}
			if next.Equal(tt.cur) {
				t.Fatal("baseline must be a persisted change")
			}

			again, effects := Transition(next, Observation{Latest: old, Player: "Streamer"})
			if !again.Equal(next) || len(effects) != 0 {
				t.Fatalf("same match resolved after baseline: %+v %v", again, effects)
			}

			done, effects := Transition(next, Observation{Latest: &valorant.MatchResult{MatchID: "m2", Found: true, Kills: 3, Deaths: 12}, Player: "Streamer"})
			if done.Active || len(says(effects)) != 1 {
				t.Fatalf("newer match must resolve: %+v %v", done, effects)
			}
		})
	}
}

func TestTransitionValorantOpenedOnEmptyHistoryResolvesFirstMatch(t *testing.T) {
	cur := State{ChannelID: "1234", Active: true, Game: vision.GameValorant, Snapshot: &Snapshot{Summary: summary(""), OpenedAt: opened}}
	next, effects := Transition(cur, Observation{Latest: &valorant.MatchResult{MatchID: "m1", Found: true}, Player: "Streamer"})
	if next.Active || len(says(effects)) != 1 {
		t.Fatalf("first match after an empty summary must resolve: %+v %v", next, effects)
	}
}
