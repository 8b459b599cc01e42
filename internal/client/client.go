// Package client implements the generic ecast room client: a websocket
// session paired with a state store that tracks room and player snapshots
// and surfaces typed revisions to a per-title engine.
//
// Updates are applied store-then-emit: by the time a callback runs, GameState
// already holds the new snapshot. Callbacks fire synchronously on the receive
// goroutine, so operations are observed strictly in arrival order.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/net/websocket"

	"github.com/louisbranch/boxbot/internal/ecast"
	"github.com/louisbranch/boxbot/internal/platform/id"
)

// ErrNotConnected indicates an outbound action before Connect established a
// session.
var ErrNotConnected = errors.New("client is not connected")

// Keys selects the serialization convention a title uses for its entity keys.
type Keys struct {
	// Room is the exact key carrying room snapshots.
	Room string
	// PlayerPrefix is concatenated with a player id to form player keys.
	PlayerPrefix string
}

// BcKeys returns the "bc:" convention shared by several titles.
func BcKeys() Keys {
	return Keys{Room: "bc:room", PlayerPrefix: "bc:customer:"}
}

// PlayerKeys returns the plain player-serialized convention.
func PlayerKeys() Keys {
	return Keys{Room: "room", PlayerPrefix: "player:"}
}

// Options configures a Client.
type Options struct {
	Host     string
	RoomCode string
	Name     string
	Instance int
	Keys     Keys
}

// Client synchronizes one player's view of a room over a websocket session.
// TRoom and TPlayer are the title's snapshot schemas.
type Client[TRoom, TPlayer any] struct {
	opts   Options
	userID string
	state  GameState[TRoom, TPlayer]

	// OnWelcome fires once the server confirms the player id.
	OnWelcome func(ecast.Welcome)
	// OnRoomUpdate and OnSelfUpdate fire after the corresponding snapshot is
	// stored. Set before Connect; the receive loop is the only caller.
	OnRoomUpdate func(Revision[TRoom])
	OnSelfUpdate func(Revision[TPlayer])
	// OnExtra receives operations whose key matches neither entity, letting
	// titles layer additional entity classes on top of the base pair.
	OnExtra func(ecast.Operation)

	mu   sync.Mutex
	seq  int
	conn io.Writer
}

// New creates a client for one title instance. The user id sent in the
// handshake is generated here and doubles as the provisional player key until
// the welcome confirms the numeric id.
func New[TRoom, TPlayer any](opts Options) (*Client[TRoom, TPlayer], error) {
	if strings.TrimSpace(opts.RoomCode) == "" {
		return nil, errors.New("room code is required")
	}
	userID, err := id.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate user id: %w", err)
	}
	return &Client[TRoom, TPlayer]{opts: opts, userID: userID}, nil
}

// SetName overrides the display name sent in the handshake. It must be called
// before Connect.
func (c *Client[TRoom, TPlayer]) SetName(name string) {
	c.opts.Name = name
}

// State returns the latest known game state.
func (c *Client[TRoom, TPlayer]) State() GameState[TRoom, TPlayer] {
	return c.state
}

// PlayerID returns the server-confirmed player id, or zero before the
// welcome.
func (c *Client[TRoom, TPlayer]) PlayerID() int {
	return c.state.PlayerID
}

// Connect establishes the websocket session and blocks until it ends. There
// is no automatic reconnect; restart policy belongs to the caller.
func (c *Client[TRoom, TPlayer]) Connect(ctx context.Context) error {
	bootstrap := ecast.Bootstrap{
		Role:   "player",
		Name:   c.opts.Name,
		UserID: c.userID,
		Format: "json",
	}
	joinURL := ecast.JoinURL(c.opts.Host, strings.ToUpper(c.opts.RoomCode), bootstrap)

	cfg, err := websocket.NewConfig(joinURL, "https://"+c.opts.Host)
	if err != nil {
		return fmt.Errorf("build websocket config: %w", err)
	}
	cfg.Protocol = []string{ecast.Subprotocol}

	conn, err := websocket.DialConfig(cfg)
	if err != nil {
		return fmt.Errorf("join room %s: %w", c.opts.RoomCode, err)
	}
	defer func() {
		_ = conn.Close()
	}()

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	if c.opts.Instance <= 1 {
		log.Printf("client: connected to room %s", strings.ToUpper(c.opts.RoomCode))
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	decoder := json.NewDecoder(conn)
	for {
		var msg ecast.ServerMessage
		if err := decoder.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				log.Printf("client%d: disconnected from room", c.opts.Instance)
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}
		c.HandleMessage(msg)
	}
}

// HandleMessage routes one inbound envelope through the state store. It is
// exported so engine tests can script inbound traffic without a socket.
func (c *Client[TRoom, TPlayer]) HandleMessage(msg ecast.ServerMessage) {
	if msg.Opcode == ecast.OpcodeClientWelcome {
		welcome, err := ecast.DecodeWelcome(msg)
		if err != nil {
			return
		}
		c.mu.Lock()
		c.state.PlayerID = welcome.ID
		c.mu.Unlock()
		if c.OnWelcome != nil {
			c.OnWelcome(welcome)
		}
		return
	}

	op, err := ecast.DecodeOperation(msg)
	if err != nil {
		// Unknown opcodes and malformed payloads are dropped; the stale
		// snapshot stays in place and no revision fires.
		return
	}
	c.HandleOperation(op)
}

// HandleOperation applies one entity update. Player keys are matched against
// both the locally generated user id and the server-confirmed numeric id,
// because the server may push player state before the welcome lands.
func (c *Client[TRoom, TPlayer]) HandleOperation(op ecast.Operation) {
	switch {
	case c.isSelfKey(op.Key):
		var self TPlayer
		if err := json.Unmarshal(op.Value, &self); err != nil {
			return
		}
		rev := Revision[TPlayer]{Old: c.state.Self, New: self}
		c.state.Self = self
		if c.OnSelfUpdate != nil {
			c.OnSelfUpdate(rev)
		}
	case op.Key == c.opts.Keys.Room:
		var room TRoom
		if err := json.Unmarshal(op.Value, &room); err != nil {
			return
		}
		rev := Revision[TRoom]{Old: c.state.Room, New: room}
		c.state.Room = room
		if c.OnRoomUpdate != nil {
			c.OnRoomUpdate(rev)
		}
	default:
		if c.OnExtra != nil {
			c.OnExtra(op)
		}
	}
}

func (c *Client[TRoom, TPlayer]) isSelfKey(key string) bool {
	prefix := c.opts.Keys.PlayerPrefix
	if prefix == "" {
		return false
	}
	return key == prefix+c.userID || key == prefix+strconv.Itoa(c.state.PlayerID)
}

// ClientSend routes a request body to the room host.
func (c *Client[TRoom, TPlayer]) ClientSend(body any) error {
	return c.send(ecast.OpcodeClientSend, ecast.ClientSend{
		From: c.playerID(),
		To:   1,
		Body: body,
	})
}

// playerID reads the confirmed id under the send mutex, since engines submit
// from goroutines other than the receive loop.
func (c *Client[TRoom, TPlayer]) playerID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.PlayerID
}

// ClientUpdate pushes a direct key/value update, keyed by the given suffix
// and this player's id. Strings go out as text updates, everything else as
// object updates; the two forms are not interchangeable within one title.
func (c *Client[TRoom, TPlayer]) ClientUpdate(value any, keySuffix string) error {
	opcode := ecast.OpcodeObjectUpdate
	if _, ok := value.(string); ok {
		opcode = ecast.OpcodeTextUpdate
	}
	return c.send(opcode, ecast.ClientUpdate{
		Key:   fmt.Sprintf("%s:%d", keySuffix, c.playerID()),
		Value: value,
	})
}

func (c *Client[TRoom, TPlayer]) send(opcode string, params any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	c.seq++
	msg := ecast.ClientMessage{Seq: c.seq, Opcode: opcode, Params: params}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", opcode, err)
	}
	if _, err := c.conn.Write(raw); err != nil {
		return fmt.Errorf("send %s: %w", opcode, err)
	}
	return nil
}

// SetConn installs an alternate transport for the send path. Tests use it to
// capture outbound envelopes.
func (c *Client[TRoom, TPlayer]) SetConn(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = w
}
