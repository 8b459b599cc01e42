package fibbage3

import (
	"context"
	"errors"
	mrand "math/rand"
	"testing"

	"github.com/louisbranch/boxbot/internal/completion"
)

// failingProvider never produces usable text.
type failingProvider struct{}

func (failingProvider) Completion(ctx context.Context, prompt string, params completion.Parameters) (completion.Response, error) {
	return completion.Response{Text: "___", FinishReason: "stop"}, nil
}

func (failingProvider) Chat(ctx context.Context, messages []completion.Message, params completion.Parameters) (completion.Response, error) {
	return completion.Response{Text: "___", FinishReason: "stop"}, nil
}

func (failingProvider) Embedding(ctx context.Context, text string) ([]float64, error) {
	return nil, errors.New("not used")
}

func newExhaustedGenerator() *generator {
	service := completion.NewService(failingProvider{})
	service.RetryPause = 0
	return &generator{
		service:         service,
		rng:             mrand.New(mrand.NewSource(3)),
		maxTries:        2,
		genTemperature:  0.8,
		voteTemperature: 1,
	}
}

func TestLieFallsBackToFixedDefault(t *testing.T) {
	g := newExhaustedGenerator()

	for i := 0; i < 3; i++ {
		lie, finish := g.lie(context.Background(), "PROMPT ___", 45)
		if lie != defaultLie {
			t.Fatalf("lie = %q, want fixed default", lie)
		}
		if finish != completion.FinishNoValidResponses {
			t.Fatalf("finish = %q, want sentinel", finish)
		}
	}
}

func TestTruthFallsBackToRandomIndex(t *testing.T) {
	g := newExhaustedGenerator()
	options := []string{"A", "B", "C", "D", "E", "F"}

	seen := map[int]bool{}
	for i := 0; i < 40; i++ {
		index, finish := g.truth(context.Background(), "PROMPT ___", options)
		if index < 0 || index >= len(options) {
			t.Fatalf("index %d out of range", index)
		}
		if finish != completion.FinishNoValidResponses {
			t.Fatalf("finish = %q, want sentinel", finish)
		}
		seen[index] = true
	}
	// Text fallback is a constant; choice fallback must not be.
	if len(seen) < 2 {
		t.Fatalf("random fallback produced a single index %v over 40 trials", seen)
	}
}

func TestTruthAcceptsSpelledOutNumbers(t *testing.T) {
	service := completion.NewService(wordProvider{text: "THREE"})
	service.RetryPause = 0
	g := &generator{service: service, rng: mrand.New(mrand.NewSource(1)), maxTries: 2, voteTemperature: 1}

	index, finish := g.truth(context.Background(), "PROMPT ___", []string{"A", "B", "C", "D"})
	if index != 2 {
		t.Fatalf("index = %d, want 2", index)
	}
	if finish == completion.FinishNoValidResponses {
		t.Fatal("expected a generated pick, got fallback")
	}
}

type wordProvider struct{ text string }

func (p wordProvider) Completion(ctx context.Context, prompt string, params completion.Parameters) (completion.Response, error) {
	return completion.Response{Text: p.text, FinishReason: "stop"}, nil
}

func (p wordProvider) Chat(ctx context.Context, messages []completion.Message, params completion.Parameters) (completion.Response, error) {
	return completion.Response{Text: p.text, FinishReason: "stop"}, nil
}

func (p wordProvider) Embedding(ctx context.Context, text string) ([]float64, error) {
	return nil, errors.New("not used")
}
