// Package fibbage3 plays Fibbage XL: it writes lies for fill-in-the-blank
// prompts, retries when the game rejects a submission for being too close to
// the truth, and picks the answer it believes is real on the voting screen.
package fibbage3

import (
	"context"
	"errors"
	"log"
	mrand "math/rand"
	"sync"
	"time"

	"github.com/louisbranch/boxbot/internal/choose"
	"github.com/louisbranch/boxbot/internal/client"
	"github.com/louisbranch/boxbot/internal/completion"
	"github.com/louisbranch/boxbot/internal/sanitize"
	"github.com/louisbranch/boxbot/internal/transcript"
)

// Config carries the collaborators and tuning for one engine instance.
type Config struct {
	Service    *completion.Service
	Rand       *mrand.Rand
	Transcript *transcript.Store

	Host     string
	RoomCode string
	Name     string
	Instance int

	UseChat           bool
	UseChatForVoting  bool
	MaxRetries        int
	SubmissionRetries int
	GenTemperature    float64
	VoteTemperature   float64
	CategoryDelay     time.Duration
}

// phase is the engine's position in a round. Transitions happen only in the
// dispatch handlers and in the phase re-checks before an outbound action.
type phase int

const (
	phaseIdle phase = iota
	phaseChoosingCategory
	phaseWritingLie
	phaseLieSubmitted
	phaseChoosingTruth
	phaseTruthSubmitted
)

// Engine drives one automated fibbage3 player.
type Engine struct {
	client     *Client
	gen        *generator
	store      *transcript.Store
	rng        *mrand.Rand
	roomCode   string
	name       string
	instance   int
	submitCap  int
	pickDelay  time.Duration
	ctx        context.Context

	mu      sync.Mutex
	phase   phase
	retries int
	wg      sync.WaitGroup
}

// New builds the engine and its room client. Connect happens in Play.
func New(cfg Config) (*Engine, error) {
	if cfg.Service == nil {
		return nil, errors.New("completion service is required")
	}
	if cfg.Rand == nil {
		return nil, errors.New("random source is required")
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 5
	}
	if cfg.SubmissionRetries < 1 {
		cfg.SubmissionRetries = 2
	}
	if cfg.GenTemperature == 0 {
		cfg.GenTemperature = 0.8
	}
	if cfg.VoteTemperature == 0 {
		cfg.VoteTemperature = 1
	}
	if cfg.CategoryDelay == 0 {
		cfg.CategoryDelay = 3 * time.Second
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
		rng:       cfg.Rand,
		roomCode:  cfg.RoomCode,
		name:      cfg.Name,
		instance:  cfg.Instance,
		submitCap: cfg.SubmissionRetries,
		pickDelay: cfg.CategoryDelay,
		ctx:       context.Background(),
		gen: &generator{
			service:          cfg.Service,
			rng:              cfg.Rand,
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
	if rev.Old.State != rev.New.State {
		log.Printf("fibbage3[%d]: room state %s", e.instance, rev.New.State)
	}
}

func (e *Engine) handleSelf(rev client.Revision[Player]) {
	self := rev.New
	room := e.client.State().Room

	if self.Error.Truthy() {
		log.Printf("fibbage3[%d]: submission error from game: %s", e.instance, self.Error.String())
		e.mu.Lock()
		e.retries++
		e.phase = phaseIdle
		e.mu.Unlock()
	} else if room.State == StateEndShortie {
		e.mu.Lock()
		e.phase = phaseIdle
		e.retries = 0
		e.mu.Unlock()
	}

	switch {
	case room.State == StateCategorySelection && self.IsChoosing:
		if e.transition(phaseIdle, phaseChoosingCategory) {
			e.spawn(func() { e.chooseCategory(room) })
		}
	case room.State == StateEnterText:
		if e.transition(phaseIdle, phaseWritingLie) {
			e.spawn(func() { e.submitLie(self) })
		}
	case room.State == StateChooseLie:
		if e.transition(phaseIdle, phaseChoosingTruth) || e.transition(phaseLieSubmitted, phaseChoosingTruth) {
			e.spawn(func() { e.submitTruth(self, room) })
		}
	}
}

func (e *Engine) chooseCategory(room Room) {
	log.Printf("fibbage3[%d]: time to choose a category", e.instance)
	e.sleep(e.pickDelay)

	choices := room.CategoryChoices()
	if len(choices) == 0 {
		e.transition(phaseChoosingCategory, phaseIdle)
		return
	}
	index := choose.RandomIndex(e.rng, len(choices))
	if !e.transition(phaseChoosingCategory, phaseIdle) {
		return
	}
	log.Printf("fibbage3[%d]: choosing category %q", e.instance, choices[index])
	if err := e.client.ChooseCategory(index); err != nil {
		log.Printf("fibbage3[%d]: choose category: %v", e.instance, err)
	}
}

func (e *Engine) submitLie(self Player) {
	prompt := sanitize.StripHTML(self.Question)
	maxLength := self.MaxLength
	if maxLength <= 0 {
		maxLength = defaultMaxLength
	}

	var lie, finish string
	if e.takeExhaustedRetries() {
		log.Printf("fibbage3[%d]: submitting a default answer after too many submission errors", e.instance)
		lie, finish = defaultLie, completion.FinishNoValidResponses
		if self.DoubleInput {
			lie = defaultDoubleLie1 + self.AnswerDelim + defaultDoubleLie2
		}
	} else if self.DoubleInput {
		log.Printf("fibbage3[%d]: asking for a double lie to %q", e.instance, prompt)
		lie, finish = e.gen.doubleLie(e.ctx, prompt, self.AnswerDelim, maxLength)
	} else {
		log.Printf("fibbage3[%d]: asking for a lie to %q", e.instance, prompt)
		lie, finish = e.gen.lie(e.ctx, prompt, maxLength)
	}

	if !e.transition(phaseWritingLie, phaseLieSubmitted) {
		return
	}
	log.Printf("fibbage3[%d]: submitting lie %q", e.instance, lie)
	if err := e.client.SubmitLie(lie); err != nil {
		log.Printf("fibbage3[%d]: submit lie: %v", e.instance, err)
	}
	e.record("lie", prompt, lie, finish)
}

func (e *Engine) submitTruth(self Player, room Room) {
	prompt := sanitize.StripHTML(room.Question)
	texts := make([]string, len(self.LieChoices))
	for i, c := range self.LieChoices {
		texts[i] = c.Text
	}
	if len(texts) == 0 {
		e.transition(phaseChoosingTruth, phaseIdle)
		return
	}

	log.Printf("fibbage3[%d]: choosing the truth for %q", e.instance, prompt)
	index, finish := e.gen.truth(e.ctx, prompt, texts)

	if !e.transition(phaseChoosingTruth, phaseTruthSubmitted) {
		return
	}
	log.Printf("fibbage3[%d]: submitting truth %d (%q)", e.instance, index, texts[index])
	if err := e.client.ChooseTruth(index, texts[index]); err != nil {
		log.Printf("fibbage3[%d]: choose truth: %v", e.instance, err)
	}
	e.record("truth", prompt, texts[index], finish)
}

// transition moves the phase from one value to another, reporting whether the
// move happened. A false return means another action won the phase in the
// meantime and this one must be dropped.
func (e *Engine) transition(from, to phase) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != from {
		return false
	}
	e.phase = to
	return true
}

// takeExhaustedRetries reports whether submission errors have used up the
// budget, resetting the counter when they have.
func (e *Engine) takeExhaustedRetries() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.retries <= e.submitCap {
		return false
	}
	e.retries = 0
	return true
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
		Game:         "fibbage3",
		RoomCode:     e.roomCode,
		PlayerName:   e.name,
		Kind:         kind,
		Prompt:       prompt,
		Response:     response,
		FinishReason: finish,
	})
	if err != nil {
		log.Printf("fibbage3[%d]: record transcript: %v", e.instance, err)
	}
}
