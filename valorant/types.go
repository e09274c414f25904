package valorant

type matchesResponse struct {
	Status int         `json:"status"`
	Data   []MatchData `json:"data"`
}

// MatchData is one v4 match record, trimmed to the fields the bot reads.
type MatchData struct {
	Metadata MatchMetadata `json:"metadata"`
	Players  []Player      `json:"players"`
	Teams    []Team        `json:"teams"`
}

type MatchMetadata struct {
	MatchID string `json:"match_id"`
	Region  string `json:"region"`
	Map     struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"map"`
}

type Player struct {
	Puuid  string `json:"puuid"`
	Name   string `json:"name"`
	Tag    string `json:"tag"`
	TeamID string `json:"team_id"`
	Stats  struct {
		Score     int `json:"score"`
		Kills     int `json:"kills"`
		Deaths    int `json:"deaths"`
		Assists   int `json:"assists"`
		Headshots int `json:"headshots"`
		Bodyshots int `json:"bodyshots"`
		Legshots  int `json:"legshots"`
	} `json:"stats"`
	AbilityCasts struct {
		Grenade  int `json:"grenade"`
		Ability1 int `json:"ability1"`
		Ability2 int `json:"ability2"`
		Ultimate int `json:"ultimate"`
	} `json:"ability_casts"`
}

type Team struct {
	TeamID string `json:"team_id"`
	Rounds struct {
		Won  int `json:"won"`
		Lost int `json:"lost"`
	} `json:"rounds"`
	Won bool `json:"won"`
}

// Find returns the player record whose name and tag equal the handle exactly.
func (m *MatchData) Find(name, tag string) (*Player, bool) {
	for i := range m.Players {
		if m.Players[i].Name == name && m.Players[i].Tag == tag {
			return &m.Players[i], true
		}
	}
	return nil, false
}

// Won reports whether the player's team won the match.
func (m *MatchData) Won(p *Player) bool {
	for _, t := range m.Teams {
		if t.TeamID == p.TeamID {
			return t.Won
		}
	}
	return false
}
