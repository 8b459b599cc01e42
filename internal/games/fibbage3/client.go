package fibbage3

import (
	"github.com/louisbranch/boxbot/internal/client"
)

type chooseRequest struct {
	Action string `json:"action"`
	Choice any    `json:"choice"`
}

type truthChoice struct {
	Order int    `json:"order"`
	Text  string `json:"text"`
}

type sendEntryRequest struct {
	Entry string `json:"entry"`
}

// Client wraps the generic room client with fibbage3's request forms. The
// title uses the bc: key convention and routes all actions through the host.
type Client struct {
	*client.Client[Room, Player]
}

// NewClient builds a fibbage3 room client.
func NewClient(opts client.Options) (*Client, error) {
	opts.Keys = client.BcKeys()
	base, err := client.New[Room, Player](opts)
	if err != nil {
		return nil, err
	}
	return &Client{Client: base}, nil
}

// ChooseCategory picks a category by index during category selection.
func (c *Client) ChooseCategory(index int) error {
	return c.ClientSend(chooseRequest{Action: "choose", Choice: index})
}

// ChooseTruth picks an option on the truth screen.
func (c *Client) ChooseTruth(index int, text string) error {
	return c.ClientSend(chooseRequest{Action: "choose", Choice: truthChoice{Order: index, Text: text}})
}

// SubmitLie sends a written entry. Double-input prompts join both parts with
// the delimiter the server announced.
func (c *Client) SubmitLie(lie string) error {
	return c.ClientSend(sendEntryRequest{Entry: lie})
}
