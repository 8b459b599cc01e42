package games

import (
	"context"
	mrand "math/rand"
	"testing"

	"github.com/louisbranch/boxbot/internal/completion"
)

type stubProvider struct{}

func (stubProvider) Completion(ctx context.Context, prompt string, params completion.Parameters) (completion.Response, error) {
	return completion.Response{Text: "", FinishReason: "stop"}, nil
}

func (stubProvider) Chat(ctx context.Context, messages []completion.Message, params completion.Parameters) (completion.Response, error) {
	return completion.Response{Text: "", FinishReason: "stop"}, nil
}

func (stubProvider) Embedding(ctx context.Context, text string) ([]float64, error) {
	return []float64{0, 0, 1}, nil
}

func TestNewBuildsEveryRegisteredTag(t *testing.T) {
	settings := Settings{
		Service:  completion.NewService(stubProvider{}),
		Rand:     mrand.New(mrand.NewSource(1)),
		RoomCode: "ABCD",
		Name:     "BOT",
		Instance: 1,
	}

	for _, tag := range Tags() {
		t.Run(tag, func(t *testing.T) {
			engine, err := New(tag, settings)
			if err != nil {
				t.Fatalf("New(%q): %v", tag, err)
			}
			if engine == nil {
				t.Fatalf("New(%q) returned a nil engine", tag)
			}
		})
	}
}

func TestNewRejectsUnknownTag(t *testing.T) {
	settings := Settings{
		Service:  completion.NewService(stubProvider{}),
		Rand:     mrand.New(mrand.NewSource(1)),
		RoomCode: "ABCD",
	}
	if _, err := New("quiplash9", settings); err == nil {
		t.Fatal("expected an error for an unregistered tag")
	}
}
