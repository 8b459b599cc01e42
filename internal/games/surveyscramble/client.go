package surveyscramble

import (
	"encoding/json"

	"github.com/louisbranch/boxbot/internal/client"
	"github.com/louisbranch/boxbot/internal/ecast"
)

const (
	keyRoundInfo = "roundInfo"
	keyGuessText = "textGuess"
	keyGuessObj  = "objectGuess"
	keyVote      = "voteResponse"
)

type choiceRequest struct {
	Action string `json:"action"`
	Value  int    `json:"value"`
}

type suggestionRequest struct {
	Suggestion string `json:"suggestion"`
}

type lockInRequest struct {
	Action string `json:"action"`
}

// Client wraps the generic room client with SurveyScramble's request forms.
// The title is player-serialized and pushes the round prompt on a separate
// roundInfo entity key.
type Client struct {
	*client.Client[Room, Player]

	// OnRoundInfo fires when the server pushes the survey prompt.
	OnRoundInfo func(RoundInfo)
}

// NewClient builds a SurveyScramble room client.
func NewClient(opts client.Options) (*Client, error) {
	opts.Keys = client.PlayerKeys()
	base, err := client.New[Room, Player](opts)
	if err != nil {
		return nil, err
	}
	c := &Client{Client: base}
	base.OnExtra = c.handleExtra
	return c, nil
}

func (c *Client) handleExtra(op ecast.Operation) {
	if op.Key != keyRoundInfo {
		return
	}
	var info RoundInfo
	if err := json.Unmarshal(op.Value, &info); err != nil {
		return
	}
	if c.OnRoundInfo != nil {
		c.OnRoundInfo(info)
	}
}

// Guess submits a free-text survey guess.
func (c *Client) Guess(text string) error {
	return c.ClientUpdate(text, keyGuessText)
}

// GuessCategory submits a pick between presented options.
func (c *Client) GuessCategory(index int) error {
	return c.ClientUpdate(choiceRequest{Action: "choice", Value: index}, keyGuessObj)
}

// GuessSuggestion submits a teammate's suggestion as the guess.
func (c *Client) GuessSuggestion(text string) error {
	return c.ClientUpdate(suggestionRequest{Suggestion: text}, keyGuessObj)
}

// ChooseCategory votes for a survey topic at the start of a game.
func (c *Client) ChooseCategory(index int) error {
	return c.ClientUpdate(choiceRequest{Action: "choice", Value: index}, keyVote)
}

// LockInTeam confirms the current team assignment.
func (c *Client) LockInTeam() error {
	return c.ClientUpdate(lockInRequest{Action: "lock"}, keyVote)
}
