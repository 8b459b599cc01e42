package surveyscramble

import "encoding/json"

// Player kinds the engine reacts to. The server sends more kinds than these
// (waiting screens, tutorials); everything else is ignored.
const (
	KindBounce     = "bounce"
	KindChoices    = "choices"
	KindHighLow    = "highLow"
	KindSpeed      = "speed"
	KindTicTacToe  = "ticTacToe"
	KindTeamChoice = "teamChoice"
	KindLobby      = "lobby"
	KindWaiting    = "waiting"
)

// Goal values for High/Low rounds.
const (
	GoalHigh = "High"
	GoalLow  = "Low"
)

// Suggestion is a human player's proposed guess shown to teammates.
type Suggestion struct {
	Active     bool   `json:"active"`
	IsDisabled bool   `json:"isDisabled"`
	Player     int    `json:"player"`
	Rank       int    `json:"rank"`
	Text       string `json:"text"`
}

// HistoryEntry is a past guess with its survey rank.
type HistoryEntry struct {
	Player int     `json:"player"`
	Rank   float64 `json:"rank"`
	Text   string  `json:"text"`
}

type textChoice struct {
	Text string `json:"text"`
}

// Player is this player's snapshot pushed under the player: key.
type Player struct {
	Kind            string          `json:"kind"`
	ResponseKey     string          `json:"responseKey"`
	Choices         json.RawMessage `json:"choices"`
	Goal            string          `json:"goal"`
	Instructions    string          `json:"instructions"`
	Suggestions     []Suggestion    `json:"suggestions"`
	History         []HistoryEntry  `json:"history"`
	CurrentTeamName string          `json:"currentTeamName"`
}

// CategoryChoices decodes the option texts shown on a choices screen.
func (p Player) CategoryChoices() []string {
	if p.Kind != KindChoices || len(p.Choices) == 0 {
		return nil
	}
	var choices []textChoice
	if err := json.Unmarshal(p.Choices, &choices); err != nil {
		return nil
	}
	texts := make([]string, len(choices))
	for i, c := range choices {
		texts[i] = c.Text
	}
	return texts
}

// Room is the shared room snapshot. The engine keys off player snapshots;
// the room only carries the overall stage.
type Room struct {
	State string `json:"state"`
}

// RoundInfo carries the survey prompt for the current game. It arrives on its
// own entity key rather than in the room or player snapshots.
type RoundInfo struct {
	LongPrompt   string `json:"longPrompt"`
	ShortPrompt  string `json:"shortPrompt"`
	RoundFormat  string `json:"roundFormat"`
	SurveyLength int    `json:"surveyLength"`
}
