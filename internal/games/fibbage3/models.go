package fibbage3

import (
	"encoding/json"

	"github.com/louisbranch/boxbot/internal/ecast"
)

// Room states the engine reacts to. The server sends more states than these;
// everything else is ignored.
const (
	StateLobby             = "Lobby"
	StateCategorySelection = "CategorySelection"
	StateEnterText         = "EnterText"
	StateChooseLie         = "ChooseLie"
	StateEndShortie        = "EndShortie"
)

// Room is the shared room snapshot pushed under the bc:room key.
type Room struct {
	State              string          `json:"state"`
	Question           string          `json:"question"`
	Choices            json.RawMessage `json:"choices"`
	ChoosingPlayerName string          `json:"choosingPlayerName"`
}

// CategoryChoices decodes the category list. It is only populated while the
// room is in category selection.
func (r Room) CategoryChoices() []string {
	if r.State != StateCategorySelection || len(r.Choices) == 0 {
		return nil
	}
	var categories []string
	if err := json.Unmarshal(r.Choices, &categories); err != nil {
		return nil
	}
	return categories
}

// LieChoice is one option on the truth-picking screen.
type LieChoice struct {
	Disabled bool   `json:"disabled"`
	Text     string `json:"text"`
}

// Player is this player's snapshot pushed under the bc:customer: key.
type Player struct {
	Question    string      `json:"question"`
	DoubleInput bool        `json:"doubleInput"`
	AnswerDelim string      `json:"answerDelim"`
	MaxLength   int         `json:"maxLength"`
	IsChoosing  bool        `json:"isChoosing"`
	Error       ecast.Flex  `json:"error"`
	LieChoices  []LieChoice `json:"lieChoices"`
}
