// Package surveyscramble plays SurveyScramble: it guesses entries from a
// hidden survey ranking, amortizing one multi-candidate generation across
// several turns through per-goal candidate queues, and ranking queued
// candidates by embedding similarity when a round cares about position.
package surveyscramble

import (
	"context"
	"errors"
	"log"
	mrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/boxbot/internal/choose"
	"github.com/louisbranch/boxbot/internal/client"
	"github.com/louisbranch/boxbot/internal/completion"
	"github.com/louisbranch/boxbot/internal/transcript"
)

// position is where on the survey list a guess should land.
type position int

const (
	positionHigh position = iota
	positionLow
	positionAll
)

// speedPlaceholder is submitted when generation yields nothing in speed
// rounds; the server rejects it and prompts again, which retriggers
// generation later.
const speedPlaceholder = "DEFAULTRESPONSE"

// Config carries the collaborators and tuning for one engine instance.
type Config struct {
	Service    *completion.Service
	Rand       *mrand.Rand
	Transcript *transcript.Store

	Host     string
	RoomCode string
	Name     string
	Instance int

	MaxRetries       int
	GenTemperature   float64
	VoteTemperature  float64
	ResponseMinDelay time.Duration
	ResponseMaxDelay time.Duration
	TeamLockDelay    time.Duration
	SuggestionChance float64
}

type phase int

const (
	phaseIdle phase = iota
	phaseResponding
)

// Engine drives one automated SurveyScramble player.
type Engine struct {
	client   *Client
	gen      *generator
	store    *transcript.Store
	rng      *mrand.Rand
	roomCode string
	name     string
	instance int

	minDelay         time.Duration
	maxDelay         time.Duration
	teamLockDelay    time.Duration
	suggestionChance float64
	ctx              context.Context

	mu          sync.Mutex
	phase       phase
	epoch       int
	dead        bool
	promptShown bool
	prompt      RoundInfo
	self        Player
	guessed     map[string]bool
	queues      map[position][]string
	wg          sync.WaitGroup
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
		cfg.MaxRetries = 8
	}
	if cfg.GenTemperature == 0 {
		cfg.GenTemperature = 0.7
	}
	if cfg.VoteTemperature == 0 {
		cfg.VoteTemperature = 1
	}
	if cfg.ResponseMinDelay == 0 {
		cfg.ResponseMinDelay = 3 * time.Second
	}
	if cfg.ResponseMaxDelay <= cfg.ResponseMinDelay {
		cfg.ResponseMaxDelay = cfg.ResponseMinDelay + 7*time.Second
	}
	if cfg.TeamLockDelay == 0 {
		cfg.TeamLockDelay = 5 * time.Second
	}
	if cfg.SuggestionChance == 0 {
		cfg.SuggestionChance = 0.5
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
		client:           c,
		store:            cfg.Transcript,
		rng:              cfg.Rand,
		roomCode:         cfg.RoomCode,
		name:             cfg.Name,
		instance:         cfg.Instance,
		minDelay:         cfg.ResponseMinDelay,
		maxDelay:         cfg.ResponseMaxDelay,
		teamLockDelay:    cfg.TeamLockDelay,
		suggestionChance: cfg.SuggestionChance,
		ctx:              context.Background(),
		guessed:          make(map[string]bool),
		queues:           make(map[position][]string),
		gen: &generator{
			service:         cfg.Service,
			rng:             cfg.Rand,
			maxTries:        cfg.MaxRetries,
			genTemperature:  cfg.GenTemperature,
			voteTemperature: cfg.VoteTemperature,
		},
	}
	c.OnSelfUpdate = e.handleSelf
	c.OnRoundInfo = e.handleRoundInfo
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

// isNewGame reports whether a player snapshot marks the start of a new game.
// The server sends no explicit signal; the topic vote screen is the only
// reliable marker (a choices screen keyed by a voteResponse).
func isNewGame(self Player) bool {
	return self.Kind == KindChoices && strings.HasPrefix(self.ResponseKey, keyVote)
}

func (e *Engine) handleRoundInfo(info RoundInfo) {
	e.mu.Lock()
	e.prompt = info
	shown := e.promptShown
	e.promptShown = true
	e.mu.Unlock()
	if !shown {
		log.Printf("surveyscramble[%d]: the prompt for this round is %q", e.instance, info.LongPrompt)
	}
}

func (e *Engine) handleSelf(rev client.Revision[Player]) {
	self := rev.New
	e.mu.Lock()
	e.self = self
	e.mu.Unlock()

	if isNewGame(self) {
		log.Printf("surveyscramble[%d]: new game, resetting", e.instance)
		e.mu.Lock()
		// Workers started before the reset hold the old epoch; their results
		// and queue write-backs are discarded on the mismatch.
		e.epoch++
		e.dead = false
		e.promptShown = false
		e.prompt = RoundInfo{}
		e.guessed = make(map[string]bool)
		e.queues = make(map[position][]string)
		e.phase = phaseIdle
		e.mu.Unlock()

		if ep, ok := e.enter(); ok {
			e.spawn(func() { e.chooseTopic(self, ep) })
		}
		return
	}

	e.mu.Lock()
	dead := e.dead
	e.mu.Unlock()
	if dead {
		return
	}

	switch self.Kind {
	case KindBounce:
		log.Printf("surveyscramble[%d]: mode %q is not supported", e.instance, self.Kind)
		e.mu.Lock()
		e.dead = true
		e.mu.Unlock()
	case KindHighLow:
		if ep, ok := e.enter(); ok {
			e.spawn(func() { e.playHighLow(self, ep) })
		}
	case KindSpeed:
		if ep, ok := e.enter(); ok {
			e.spawn(func() { e.playSpeed(self, ep) })
		}
	case KindTicTacToe:
		if self.Instructions != "YOU'RE UP!" {
			return
		}
		if ep, ok := e.enter(); ok {
			e.spawn(func() { e.playTicTacToe(self, ep) })
		}
	case KindChoices:
		if !strings.HasPrefix(self.ResponseKey, keyGuessObj) {
			return
		}
		if ep, ok := e.enter(); ok {
			e.spawn(func() { e.pickMostPopular(self, ep) })
		}
	case KindTeamChoice:
		if ep, ok := e.enter(); ok {
			e.spawn(func() { e.lockTeam(ep) })
		}
	}
}

func (e *Engine) chooseTopic(self Player, ep int) {
	defer e.leave(ep)

	choices := self.CategoryChoices()
	if len(choices) == 0 {
		return
	}
	index := choose.RandomIndex(e.rng, len(choices))
	if !e.sameEpoch(ep) {
		return
	}
	log.Printf("surveyscramble[%d]: choosing topic %q", e.instance, choices[index])
	if err := e.client.ChooseCategory(index); err != nil {
		log.Printf("surveyscramble[%d]: choose topic: %v", e.instance, err)
	}
}

func (e *Engine) playHighLow(self Player, ep int) {
	defer e.leave(ep)

	prompt := e.roundPrompt()
	if prompt == "" {
		return
	}
	pos := positionHigh
	if self.Goal == GoalLow {
		pos = positionLow
	}

	if e.queueLen(pos) == 0 {
		log.Printf("surveyscramble[%d]: requesting more responses for goal %s", e.instance, self.Goal)
		batch := e.gen.answers(e.ctx, prompt, self.Instructions, pos, e.taken)
		e.enqueue(ep, pos, batch)

		// A dry Low queue can borrow leftover High candidates; they rank
		// somewhere, which beats skipping the turn.
		if e.queueLen(pos) == 0 && pos == positionLow {
			e.drainInto(ep, positionHigh, positionLow)
		}
		if e.queueLen(pos) == 0 {
			log.Printf("surveyscramble[%d]: no usable responses, skipping this turn", e.instance)
			return
		}
	}

	e.sleep(e.minDelay)
	if !e.sameRound(ep, KindHighLow, prompt) {
		log.Printf("surveyscramble[%d]: discarding response, the round has moved on", e.instance)
		return
	}
	guess, ok := e.dequeueRanked(ep, pos, prompt)
	if !ok {
		return
	}
	log.Printf("surveyscramble[%d]: submitting response %q", e.instance, guess)
	if err := e.client.Guess(guess); err != nil {
		log.Printf("surveyscramble[%d]: guess: %v", e.instance, err)
	}
	e.markGuessed(ep, guess)
	e.record("guess", prompt, guess)
}

func (e *Engine) playSpeed(self Player, ep int) {
	defer e.leave(ep)

	prompt := e.roundPrompt()
	if prompt == "" {
		return
	}

	if e.queueLen(positionAll) == 0 {
		log.Printf("surveyscramble[%d]: requesting more responses", e.instance)
		batch := e.gen.answers(e.ctx, prompt, self.Instructions, positionAll, e.taken)
		e.enqueue(ep, positionAll, batch)
		if e.queueLen(positionAll) == 0 {
			log.Printf("surveyscramble[%d]: no usable responses, delaying further generation", e.instance)
			e.sleep(e.maxDelay)
			e.enqueue(ep, positionAll, []string{speedPlaceholder})
		}
	}

	delay := e.minDelay
	if e.maxDelay > e.minDelay {
		delay += time.Duration(e.rng.Int63n(int64(e.maxDelay - e.minDelay)))
	}
	e.sleep(delay)

	if !e.sameRound(ep, KindSpeed, prompt) {
		log.Printf("surveyscramble[%d]: discarding response, the round has moved on", e.instance)
		return
	}
	guess, ok := e.dequeue(ep, positionAll)
	if !ok {
		return
	}
	log.Printf("surveyscramble[%d]: submitting response %q", e.instance, guess)
	if err := e.client.Guess(guess); err != nil {
		log.Printf("surveyscramble[%d]: guess: %v", e.instance, err)
	}
	e.markGuessed(ep, guess)
	e.record("guess", prompt, guess)
}

func (e *Engine) playTicTacToe(self Player, ep int) {
	defer e.leave(ep)

	prompt := e.roundPrompt()
	if prompt == "" {
		return
	}

	// Team guesses arrive through history; they count as used.
	for _, entry := range self.History {
		e.markGuessed(ep, entry.Text)
	}

	var fresh []Suggestion
	for _, s := range self.Suggestions {
		if !e.taken(s.Text) {
			fresh = append(fresh, s)
		}
	}
	if len(fresh) > 0 && e.rng.Float64() < e.suggestionChance {
		e.sleep(e.minDelay)
		if !e.sameRound(ep, KindTicTacToe, prompt) {
			return
		}
		pick := fresh[choose.RandomIndex(e.rng, len(fresh))].Text
		log.Printf("surveyscramble[%d]: submitting suggested response %q", e.instance, pick)
		if err := e.client.GuessSuggestion(pick); err != nil {
			log.Printf("surveyscramble[%d]: guess suggestion: %v", e.instance, err)
		}
		e.markGuessed(ep, pick)
		e.record("suggestion", prompt, pick)
		return
	}

	if e.queueLen(positionAll) == 0 {
		batch := e.gen.answers(e.ctx, prompt, self.Instructions, positionAll, e.taken)
		e.enqueue(ep, positionAll, batch)
		if e.queueLen(positionAll) == 0 {
			log.Printf("surveyscramble[%d]: no usable responses, skipping this turn", e.instance)
			return
		}
	}

	e.sleep(e.minDelay)
	if !e.sameRound(ep, KindTicTacToe, prompt) {
		log.Printf("surveyscramble[%d]: discarding response, the round has moved on", e.instance)
		return
	}
	guess, ok := e.dequeue(ep, positionAll)
	if !ok {
		return
	}
	log.Printf("surveyscramble[%d]: submitting response %q", e.instance, guess)
	if err := e.client.Guess(guess); err != nil {
		log.Printf("surveyscramble[%d]: guess: %v", e.instance, err)
	}
	e.markGuessed(ep, guess)
	e.record("guess", prompt, guess)
}

func (e *Engine) pickMostPopular(self Player, ep int) {
	defer e.leave(ep)

	prompt := e.roundPrompt()
	options := self.CategoryChoices()
	if prompt == "" || len(options) == 0 {
		return
	}

	index, finish := e.gen.best(e.ctx, prompt, options)
	if !e.sameRound(ep, KindChoices, prompt) {
		log.Printf("surveyscramble[%d]: discarding choice, the round has moved on", e.instance)
		return
	}
	log.Printf("surveyscramble[%d]: choosing most popular option %q", e.instance, options[index])
	if err := e.client.GuessCategory(index); err != nil {
		log.Printf("surveyscramble[%d]: guess category: %v", e.instance, err)
	}
	if finish == completion.FinishNoValidResponses {
		log.Printf("surveyscramble[%d]: option was chosen randomly", e.instance)
	}
	e.record("popular", prompt, options[index])
}

func (e *Engine) lockTeam(ep int) {
	defer e.leave(ep)

	e.sleep(e.teamLockDelay)
	if !e.sameEpoch(ep) {
		return
	}
	if err := e.client.LockInTeam(); err != nil {
		log.Printf("surveyscramble[%d]: lock team: %v", e.instance, err)
	}
}

// dequeueRanked pops the queued candidate best matching the round's goal:
// the most prompt-similar candidate for High rounds, the least similar for
// Low. Ranking failures fall back to queue order. Ranking runs unlocked; a
// game reset during it invalidates the copy, so the pop and write-back are
// discarded when the epoch moved.
func (e *Engine) dequeueRanked(ep int, pos position, prompt string) (string, bool) {
	e.mu.Lock()
	if e.epoch != ep {
		e.mu.Unlock()
		return "", false
	}
	queue := make([]string, len(e.queues[pos]))
	copy(queue, e.queues[pos])
	e.mu.Unlock()
	if len(queue) == 0 {
		return "", false
	}

	pick := 0
	results, err := e.gen.service.SemanticSearch(e.ctx, prompt, queue)
	if err != nil {
		log.Printf("surveyscramble[%d]: rank candidates: %v", e.instance, err)
	} else if len(results) > 0 {
		if pos == positionLow {
			pick = results[len(results)-1].Index
		} else {
			pick = results[0].Index
		}
	}

	guess := queue[pick]
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.epoch != ep {
		return "", false
	}
	e.queues[pos] = append(queue[:pick], queue[pick+1:]...)
	return guess, true
}

// enter claims the single responder slot and returns the current game epoch;
// workers carry the epoch so anything they produce after a reset is discarded.
func (e *Engine) enter() (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != phaseIdle {
		return 0, false
	}
	e.phase = phaseResponding
	return e.epoch, true
}

// leave releases the responder slot. A worker orphaned by a game reset holds
// an old epoch and must not clobber the new game's phase.
func (e *Engine) leave(ep int) {
	e.mu.Lock()
	if e.epoch == ep {
		e.phase = phaseIdle
	}
	e.mu.Unlock()
}

// sameEpoch reports whether the engine is still in the game a worker was
// started for.
func (e *Engine) sameEpoch(ep int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.epoch == ep
}

// sameRound reports whether a worker's triggering screen is still live: same
// game, same round prompt, and the player snapshot still showing the kind
// that started the worker. Checked before every submission so responses
// generated for a screen that has since moved on are discarded.
func (e *Engine) sameRound(ep int, kind, prompt string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.epoch == ep && e.self.Kind == kind && e.prompt.LongPrompt == prompt
}

func (e *Engine) roundPrompt() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.prompt.LongPrompt
}

func (e *Engine) queueLen(pos position) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queues[pos])
}

func (e *Engine) enqueue(ep int, pos position, batch []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.epoch != ep {
		return
	}
	e.queues[pos] = append(e.queues[pos], batch...)
}

func (e *Engine) dequeue(ep int, pos position) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.epoch != ep {
		return "", false
	}
	queue := e.queues[pos]
	if len(queue) == 0 {
		return "", false
	}
	e.queues[pos] = queue[1:]
	return queue[0], true
}

// drainInto moves unguessed candidates from one queue to another.
func (e *Engine) drainInto(ep int, from, to position) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.epoch != ep {
		return
	}
	for _, candidate := range e.queues[from] {
		if !e.guessed[candidate] {
			e.queues[to] = append(e.queues[to], candidate)
		}
	}
	e.queues[from] = nil
}

func (e *Engine) markGuessed(ep int, text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.epoch != ep {
		return
	}
	e.guessed[text] = true
}

// taken reports whether a candidate was already guessed or is waiting in a
// queue. Safe to call from generation goroutines.
func (e *Engine) taken(text string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.guessed[text] {
		return true
	}
	for _, queue := range e.queues {
		for _, queued := range queue {
			if queued == text {
				return true
			}
		}
	}
	return false
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

func (e *Engine) record(kind, prompt, response string) {
	if e.store == nil {
		return
	}
	err := e.store.Append(e.ctx, transcript.Event{
		Game:       "surveyscramble",
		RoomCode:   e.roomCode,
		PlayerName: e.name,
		Kind:       kind,
		Prompt:     prompt,
		Response:   response,
	})
	if err != nil {
		log.Printf("surveyscramble[%d]: record transcript: %v", e.instance, err)
	}
}
