package wordspud

import "github.com/louisbranch/boxbot/internal/client"

type submitSpudRequest struct {
	Spud      string `json:"spud"`
	Submitted bool   `json:"submitted"`
}

type voteRequest struct {
	Vote int `json:"vote"`
}

// Client wraps the generic room client with Word Spud's request forms.
type Client struct {
	*client.Client[Room, Player]
}

// NewClient builds a Word Spud room client.
func NewClient(opts client.Options) (*Client, error) {
	opts.Keys = client.BcKeys()
	base, err := client.New[Room, Player](opts)
	if err != nil {
		return nil, err
	}
	return &Client{Client: base}, nil
}

// SubmitSpud submits a continuation for the current word.
func (c *Client) SubmitSpud(spud string) error {
	return c.ClientSend(submitSpudRequest{Spud: spud, Submitted: true})
}

// Vote approves (+1) or rejects (-1) another player's spud.
func (c *Client) Vote(vote int) error {
	return c.ClientSend(voteRequest{Vote: vote})
}
