// Package wordspud plays Word Spud: it continues the current word or phrase
// with a short related one when it is this player's turn, and votes on other
// players' submissions.
package wordspud

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/boxbot/internal/client"
	"github.com/louisbranch/boxbot/internal/completion"
	"github.com/louisbranch/boxbot/internal/transcript"
)

// Config carries the collaborators and tuning for one engine instance.
type Config struct {
	Service    *completion.Service
	Transcript *transcript.Store

	Host     string
	RoomCode string
	Name     string
	Instance int

	UseChat          bool
	UseChatForVoting bool
	MaxRetries       int
	GenTemperature   float64
	VoteTemperature  float64
	VoteDelay        time.Duration
}

type phase int

const (
	phaseIdle phase = iota
	phaseResponding
)

// Engine drives one automated Word Spud player.
type Engine struct {
	client    *Client
	gen       *generator
	store     *transcript.Store
	roomCode  string
	name      string
	instance  int
	voteDelay time.Duration
	ctx       context.Context

	mu    sync.Mutex
	phase phase
	room  Room
	self  Player
	wg    sync.WaitGroup
}

// New builds the engine and its room client. Connect happens in Play.
func New(cfg Config) (*Engine, error) {
	if cfg.Service == nil {
		return nil, errors.New("completion service is required")
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 5
	}
	if cfg.GenTemperature == 0 {
		cfg.GenTemperature = 0.8
	}
	if cfg.VoteTemperature == 0 {
		cfg.VoteTemperature = 1
	}
	if cfg.VoteDelay == 0 {
		cfg.VoteDelay = 3 * time.Second
	}

	c, err := NewClient(client.Options{
		Host:     cfg.Host,
		RoomCode: cfg.RoomCode,
		Name:     cfg.Name,
		Instance: cfg.Instance,
	})
	if err != nil {
		return nil, err
	}

	e := &Engine{
		client:    c,
		store:     cfg.Transcript,
		roomCode:  cfg.RoomCode,
		name:      cfg.Name,
		instance:  cfg.Instance,
		voteDelay: cfg.VoteDelay,
		ctx:       context.Background(),
		gen: &generator{
			service:          cfg.Service,
			useChat:          cfg.UseChat,
			useChatForVoting: cfg.UseChatForVoting,
			maxTries:         cfg.MaxRetries,
			genTemperature:   cfg.GenTemperature,
			voteTemperature:  cfg.VoteTemperature,
		},
	}
	c.OnRoomUpdate = e.handleRoom
	c.OnSelfUpdate = e.handleSelf
	cfg.Service.ResetAll()
	return e, nil
}

// Play connects to the room and blocks until the session ends.
func (e *Engine) Play(ctx context.Context) error {
	e.ctx = ctx
	err := e.client.Connect(ctx)
	e.wg.Wait()
	return err
}

func (e *Engine) handleRoom(rev client.Revision[Room]) {
	e.mu.Lock()
	e.room = rev.New
	ownTurn := e.self.State == StateGameplayEnter
	e.mu.Unlock()

	if rev.Old.State == rev.New.State || rev.New.State != StateVote {
		return
	}
	// The writer does not vote on their own spud.
	if ownTurn {
		return
	}
	if e.enter() {
		room := rev.New
		e.spawn(func() { e.voteSpud(room) })
	}
}

func (e *Engine) handleSelf(rev client.Revision[Player]) {
	e.mu.Lock()
	e.self = rev.New
	room := e.room
	e.mu.Unlock()

	if rev.New.State != StateGameplayEnter {
		return
	}
	if !room.AwaitingSpud() {
		return
	}
	if e.enter() {
		e.spawn(func() { e.submitSpud(room) })
	}
}

func (e *Engine) submitSpud(room Room) {
	defer e.leave()

	fields := strings.Fields(room.CurrentWord)
	if len(fields) == 0 {
		return
	}
	currentWord := fields[len(fields)-1]
	log.Printf("wordspud[%d]: getting a spud for %q", e.instance, currentWord)

	spud, finish := e.gen.spud(e.ctx, currentWord)
	if !e.turnStillOpen(currentWord) {
		log.Printf("wordspud[%d]: discarding %q, the turn has moved on", e.instance, spud)
		return
	}
	log.Printf("wordspud[%d]: submitting %q", e.instance, spud)
	if err := e.client.SubmitSpud(spud); err != nil {
		log.Printf("wordspud[%d]: submit spud: %v", e.instance, err)
	}
	e.record("spud", currentWord, spud, finish)
}

func (e *Engine) voteSpud(room Room) {
	defer e.leave()

	e.sleep(e.voteDelay)

	approve := true
	finish := ""
	combo := ""
	if e.gen.useChatForVoting && room.Spud != nil {
		combo = lastBlock(room.CurrentWord) + *room.Spud
		approve, finish = e.gen.approve(e.ctx, combo)
		if approve {
			log.Printf("wordspud[%d]: voting positively", e.instance)
		} else {
			log.Printf("wordspud[%d]: voting negatively", e.instance)
		}
	}

	if !e.voteStillOpen(room) {
		log.Printf("wordspud[%d]: discarding vote, the round has moved on", e.instance)
		return
	}

	vote := 1
	response := voteGood
	if !approve {
		vote = -1
		response = voteBad
	}
	if err := e.client.Vote(vote); err != nil {
		log.Printf("wordspud[%d]: vote: %v", e.instance, err)
	}
	e.record("vote", combo, response, finish)
}

// lastBlock returns the piece of the running phrase the new spud attaches to:
// the final space-separated chunk, or the one before it (with its trailing
// space) when the phrase ends in a space.
func lastBlock(currentWord string) string {
	splits := strings.Split(currentWord, " ")
	last := splits[len(splits)-1]
	if last != "" {
		return last
	}
	if len(splits) > 1 {
		return splits[len(splits)-2] + " "
	}
	return ""
}

// turnStillOpen reports whether the turn that triggered a generation is still
// waiting for this player's spud for the same word.
func (e *Engine) turnStillOpen(currentWord string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.self.State != StateGameplayEnter || !e.room.AwaitingSpud() {
		return false
	}
	fields := strings.Fields(e.room.CurrentWord)
	return len(fields) > 0 && fields[len(fields)-1] == currentWord
}

// voteStillOpen reports whether the vote screen that triggered a worker is
// still showing the same submission.
func (e *Engine) voteStillOpen(room Room) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.room.State != StateVote || e.room.CurrentWord != room.CurrentWord {
		return false
	}
	if (e.room.Spud == nil) != (room.Spud == nil) {
		return false
	}
	return room.Spud == nil || *e.room.Spud == *room.Spud
}

func (e *Engine) enter() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != phaseIdle {
		return false
	}
	e.phase = phaseResponding
	return true
}

func (e *Engine) leave() {
	e.mu.Lock()
	e.phase = phaseIdle
	e.mu.Unlock()
}

func (e *Engine) spawn(fn func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
}

func (e *Engine) sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-e.ctx.Done():
	case <-timer.C:
	}
}

func (e *Engine) record(kind, prompt, response, finish string) {
	if e.store == nil {
		return
	}
	err := e.store.Append(e.ctx, transcript.Event{
		Game:         "wordspud",
		RoomCode:     e.roomCode,
		PlayerName:   e.name,
		Kind:         kind,
		Prompt:       prompt,
		Response:     response,
		FinishReason: finish,
	})
	if err != nil {
		log.Printf("wordspud[%d]: record transcript: %v", e.instance, err)
	}
}
