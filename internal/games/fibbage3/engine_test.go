package fibbage3

import (
	"context"
	"encoding/json"
	mrand "math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/boxbot/internal/completion"
	"github.com/louisbranch/boxbot/internal/ecast"
)

// scriptedProvider returns queued completion texts in order. An optional gate
// blocks each call until released, letting tests hold a generation in flight.
type scriptedProvider struct {
	mu    sync.Mutex
	texts []string
	calls int
	gate  chan struct{}
}

func (p *scriptedProvider) next() completion.Response {
	if p.gate != nil {
		<-p.gate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.texts) == 0 {
		return completion.Response{Text: "unscripted", FinishReason: "stop"}
	}
	text := p.texts[0]
	p.texts = p.texts[1:]
	return completion.Response{Text: text, FinishReason: "stop"}
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *scriptedProvider) Completion(ctx context.Context, prompt string, params completion.Parameters) (completion.Response, error) {
	return p.next(), nil
}

func (p *scriptedProvider) Chat(ctx context.Context, messages []completion.Message, params completion.Parameters) (completion.Response, error) {
	return p.next(), nil
}

func (p *scriptedProvider) Embedding(ctx context.Context, text string) ([]float64, error) {
	return []float64{1}, nil
}

type frameSink struct {
	mu     sync.Mutex
	frames [][]byte
}

func (s *frameSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(p))
	copy(buf, p)
	s.frames = append(s.frames, buf)
	return len(p), nil
}

func (s *frameSink) take() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	frames := s.frames
	s.frames = nil
	return frames
}

func newTestEngine(t *testing.T, provider *scriptedProvider) (*Engine, *frameSink) {
	t.Helper()

	service := completion.NewService(provider)
	service.RetryPause = 0
	engine, err := New(Config{
		Service:       service,
		Rand:          mrand.New(mrand.NewSource(7)),
		RoomCode:      "ABCD",
		Name:          "BOT",
		Instance:      1,
		MaxRetries:    2,
		CategoryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	sink := &frameSink{}
	engine.client.SetConn(sink)
	return engine, sink
}

func push(t *testing.T, e *Engine, opcode, key string, payload any) {
	t.Helper()

	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	var result []byte
	if opcode == ecast.OpcodeText {
		result, err = json.Marshal(map[string]string{"key": key, "val": string(raw)})
	} else {
		result, err = json.Marshal(map[string]any{"key": key, "val": json.RawMessage(raw)})
	}
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	e.client.HandleMessage(ecast.ServerMessage{Opcode: opcode, Result: result})
}

func welcome(t *testing.T, e *Engine, id int) {
	t.Helper()
	result, _ := json.Marshal(map[string]any{"id": id, "name": "BOT"})
	e.client.HandleMessage(ecast.ServerMessage{Opcode: ecast.OpcodeClientWelcome, Result: result})
}

func decodeFrames(t *testing.T, frames [][]byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, frame := range frames {
		var msg map[string]any
		if err := json.Unmarshal(frame, &msg); err != nil {
			t.Fatalf("decode outbound frame %s: %v", frame, err)
		}
		out = append(out, msg)
	}
	return out
}

func sentEntry(t *testing.T, msg map[string]any) string {
	t.Helper()
	params := msg["params"].(map[string]any)
	body := params["body"].(map[string]any)
	entry, _ := body["entry"].(string)
	return entry
}

func TestEnginePhaseWalk(t *testing.T) {
	provider := &scriptedProvider{texts: []string{"A GIANT POTATO", "A BIGGER POTATO", "2"}, gate: make(chan struct{}, 16)}
	engine, sink := newTestEngine(t, provider)

	welcome(t, engine, 5)
	push(t, engine, ecast.OpcodeObject, "bc:room", Room{State: StateEnterText})

	// Trigger lie writing but hold the generation in flight.
	push(t, engine, ecast.OpcodeObject, "bc:customer:5", Player{Question: "THE WORLD'S LARGEST ___", MaxLength: 45})
	// A duplicate server prompt while a generation is in flight must be dropped.
	push(t, engine, ecast.OpcodeObject, "bc:customer:5", Player{Question: "THE WORLD'S LARGEST ___", MaxLength: 45})

	provider.gate <- struct{}{}
	engine.wg.Wait()

	frames := decodeFrames(t, sink.take())
	if len(frames) != 1 {
		t.Fatalf("outbound frames = %d, want exactly 1 submission", len(frames))
	}
	if frames[0]["opcode"] != "client/send" {
		t.Fatalf("opcode = %v", frames[0]["opcode"])
	}
	if got := sentEntry(t, frames[0]); got != "A GIANT POTATO" {
		t.Fatalf("entry = %q", got)
	}
	if provider.callCount() != 1 {
		t.Fatalf("provider calls = %d, want 1", provider.callCount())
	}

	// The game rejects the lie; the engine must unlock, regenerate, and
	// submit exactly once more.
	provider.gate <- struct{}{}
	push(t, engine, ecast.OpcodeObject, "bc:customer:5", map[string]any{
		"question":  "THE WORLD'S LARGEST ___",
		"maxLength": 45,
		"error":     "TOO CLOSE TO THE TRUTH",
	})
	engine.wg.Wait()

	frames = decodeFrames(t, sink.take())
	if len(frames) != 1 {
		t.Fatalf("outbound frames after error = %d, want 1", len(frames))
	}
	if got := sentEntry(t, frames[0]); got != "A BIGGER POTATO" {
		t.Fatalf("entry after retry = %q", got)
	}

	// Round ends, then the truth screen: the engine picks option 2 (index 1).
	push(t, engine, ecast.OpcodeObject, "bc:room", Room{State: StateEndShortie})
	push(t, engine, ecast.OpcodeObject, "bc:customer:5", Player{})
	push(t, engine, ecast.OpcodeObject, "bc:room", Room{State: StateChooseLie, Question: "THE WORLD'S LARGEST ___"})
	provider.gate <- struct{}{}
	push(t, engine, ecast.OpcodeObject, "bc:customer:5", Player{LieChoices: []LieChoice{
		{Text: "A GIANT POTATO"},
		{Text: "A PUMPKIN"},
		{Text: "A SQUASH"},
	}})
	engine.wg.Wait()

	frames = decodeFrames(t, sink.take())
	if len(frames) != 1 {
		t.Fatalf("outbound frames for truth = %d, want 1", len(frames))
	}
	params := frames[0]["params"].(map[string]any)
	body := params["body"].(map[string]any)
	choice := body["choice"].(map[string]any)
	if choice["order"].(float64) != 1 || choice["text"] != "A PUMPKIN" {
		t.Fatalf("truth choice = %v", choice)
	}
}

func TestEngineSubmitsDefaultAfterTooManySubmissionErrors(t *testing.T) {
	provider := &scriptedProvider{texts: []string{"LIE ONE", "LIE TWO", "LIE THREE"}}
	engine, sink := newTestEngine(t, provider)
	engine.submitCap = 2

	welcome(t, engine, 5)
	push(t, engine, ecast.OpcodeObject, "bc:room", Room{State: StateEnterText})
	push(t, engine, ecast.OpcodeObject, "bc:customer:5", Player{Question: "PROMPT ___"})
	engine.wg.Wait()

	for i := 0; i < 3; i++ {
		push(t, engine, ecast.OpcodeObject, "bc:customer:5", map[string]any{
			"question": "PROMPT ___",
			"error":    "TOO CLOSE TO THE TRUTH",
		})
		engine.wg.Wait()
	}

	frames := decodeFrames(t, sink.take())
	if len(frames) != 4 {
		t.Fatalf("outbound frames = %d, want 4", len(frames))
	}
	last := sentEntry(t, frames[3])
	if !strings.EqualFold(last, defaultLie) {
		t.Fatalf("final entry = %q, want the default answer", last)
	}
	if provider.callCount() != 3 {
		t.Fatalf("provider calls = %d, want 3 (default bypasses generation)", provider.callCount())
	}
}

func TestEngineDoubleLieUsesDelimiter(t *testing.T) {
	provider := &scriptedProvider{texts: []string{"tomatoes|vegetables"}}
	engine, sink := newTestEngine(t, provider)

	welcome(t, engine, 5)
	push(t, engine, ecast.OpcodeObject, "bc:room", Room{State: StateEnterText})
	push(t, engine, ecast.OpcodeObject, "bc:customer:5", Player{
		Question:    "THE COURT RULED THAT ___ ARE ___",
		DoubleInput: true,
		AnswerDelim: "<ANY>",
		MaxLength:   45,
	})
	engine.wg.Wait()

	frames := decodeFrames(t, sink.take())
	if len(frames) != 1 {
		t.Fatalf("outbound frames = %d, want 1", len(frames))
	}
	if got := sentEntry(t, frames[0]); got != "TOMATOES<ANY>VEGETABLES" {
		t.Fatalf("double entry = %q", got)
	}
}
