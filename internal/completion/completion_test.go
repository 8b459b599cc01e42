package completion

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
)

// fakeProvider scripts generation attempts and records traffic.
type fakeProvider struct {
	completions     []Response
	completionErrs  []error
	chatReplies     []Response
	chatErrs        []error
	embeddings      map[string][]float64
	embeddingErrs   int
	completionCalls int
	chatCalls       int
	embeddingCalls  int
	chatHistory     [][]Message
}

func (f *fakeProvider) Completion(ctx context.Context, prompt string, params Parameters) (Response, error) {
	i := f.completionCalls
	f.completionCalls++
	if i < len(f.completionErrs) && f.completionErrs[i] != nil {
		return Response{}, f.completionErrs[i]
	}
	if i < len(f.completions) {
		return f.completions[i], nil
	}
	return Response{Text: "overflow", FinishReason: "stop"}, nil
}

func (f *fakeProvider) Chat(ctx context.Context, messages []Message, params Parameters) (Response, error) {
	i := f.chatCalls
	f.chatCalls++
	snapshot := make([]Message, len(messages))
	copy(snapshot, messages)
	f.chatHistory = append(f.chatHistory, snapshot)
	if i < len(f.chatErrs) && f.chatErrs[i] != nil {
		return Response{}, f.chatErrs[i]
	}
	if i < len(f.chatReplies) {
		return f.chatReplies[i], nil
	}
	return Response{Text: "overflow", FinishReason: "stop"}, nil
}

func (f *fakeProvider) Embedding(ctx context.Context, text string) ([]float64, error) {
	f.embeddingCalls++
	if f.embeddingErrs > 0 {
		f.embeddingErrs--
		return nil, errors.New("embedding unavailable")
	}
	if v, ok := f.embeddings[text]; ok {
		return v, nil
	}
	return []float64{0, 0, 1}, nil
}

func newTestService(p *fakeProvider) *Service {
	s := NewService(p)
	s.RetryPause = 0
	return s
}

func rejectAll(Response) bool { return false }

func TestCompleteExhaustsExactlyMaxTries(t *testing.T) {
	for _, maxTries := range []int{1, 2, 5, 9} {
		p := &fakeProvider{}
		s := newTestService(p)

		got := s.Complete(context.Background(), Input{CompletionPrompt: "Q"}, false,
			Parameters{}, rejectAll, maxTries, "fallback")

		if p.completionCalls != maxTries {
			t.Fatalf("maxTries=%d: %d provider calls", maxTries, p.completionCalls)
		}
		if got.FinishReason != FinishNoValidResponses {
			t.Fatalf("finish reason = %q, want %q", got.FinishReason, FinishNoValidResponses)
		}
		if got.Text != "fallback" {
			t.Fatalf("text = %q, want fallback", got.Text)
		}
	}
}

func TestCompleteStopsAtFirstValidResponse(t *testing.T) {
	p := &fakeProvider{completions: []Response{
		{Text: "bad", FinishReason: "stop"},
		{Text: "bad", FinishReason: "stop"},
		{Text: "good", FinishReason: "stop"},
	}}
	s := newTestService(p)

	got := s.Complete(context.Background(), Input{CompletionPrompt: "Q"}, false, Parameters{},
		func(r Response) bool { return r.Text == "good" }, 5, "")

	if p.completionCalls != 3 {
		t.Fatalf("provider calls = %d, want 3", p.completionCalls)
	}
	if got.Text != "good" || got.FinishReason != "stop" {
		t.Fatalf("response = %+v", got)
	}
}

func TestCompleteNilValidatorAcceptsFirst(t *testing.T) {
	p := &fakeProvider{completions: []Response{{Text: "anything", FinishReason: "stop"}}}
	s := newTestService(p)

	got := s.Complete(context.Background(), Input{CompletionPrompt: "Q"}, false, Parameters{}, nil, 5, "")
	if p.completionCalls != 1 {
		t.Fatalf("provider calls = %d, want 1", p.completionCalls)
	}
	if got.Text != "anything" {
		t.Fatalf("response = %+v", got)
	}
}

func TestCompleteTransientErrorConsumesTry(t *testing.T) {
	p := &fakeProvider{
		completionErrs: []error{errors.New("transport down"), nil},
		completions:    []Response{{}, {Text: "recovered", FinishReason: "stop"}},
	}
	s := newTestService(p)

	got := s.Complete(context.Background(), Input{CompletionPrompt: "Q"}, false, Parameters{}, nil, 2, "fallback")
	if got.Text != "recovered" {
		t.Fatalf("response = %+v, want recovery on second try", got)
	}
	if p.completionCalls != 2 {
		t.Fatalf("provider calls = %d, want 2", p.completionCalls)
	}
}

func TestChatRetriesContinueConversation(t *testing.T) {
	p := &fakeProvider{chatReplies: []Response{
		{Text: "first answer", FinishReason: "stop"},
		{Text: "second answer", FinishReason: "stop"},
	}}
	s := newTestService(p)

	input := Input{System: "You are playing Fibbage.", ChatPrompt: "Here's a new prompt: Q"}
	got := s.Complete(context.Background(), input, true, Parameters{},
		func(r Response) bool { return r.Text == "second answer" }, 5, "")

	if got.Text != "second answer" {
		t.Fatalf("response = %+v", got)
	}
	if p.chatCalls != 2 {
		t.Fatalf("chat calls = %d, want 2", p.chatCalls)
	}

	second := p.chatHistory[1]
	last := second[len(second)-1]
	if last.Role != "user" || last.Content != "Try again" {
		t.Fatalf("retry turn = %+v, want user 'Try again'", last)
	}
	// The failed first answer stays in context on the retry.
	var sawFirstAnswer bool
	for _, m := range second {
		if m.Role == "assistant" && m.Content == "first answer" {
			sawFirstAnswer = true
		}
	}
	if !sawFirstAnswer {
		t.Fatal("first answer missing from retry conversation")
	}
}

func TestChatWithoutSystemIsOneShot(t *testing.T) {
	p := &fakeProvider{chatReplies: []Response{
		{Text: "first", FinishReason: "stop"},
		{Text: "second", FinishReason: "stop"},
	}}
	s := newTestService(p)

	got := s.Complete(context.Background(), Input{ChatPrompt: "say hi"}, true, Parameters{},
		func(r Response) bool { return r.Text == "second" }, 3, "fallback")
	if got.Text != "second" {
		t.Fatalf("text = %q, want %q", got.Text, "second")
	}
	if p.chatCalls != 2 {
		t.Fatalf("chat calls = %d, want 2", p.chatCalls)
	}
	// Without a conversation to continue, retries resend the prompt alone.
	for i, msgs := range p.chatHistory {
		if len(msgs) != 1 || msgs[0].Role != "user" || msgs[0].Content != "say hi" {
			t.Fatalf("attempt %d messages = %+v, want the bare prompt", i, msgs)
		}
	}
}

func TestConversationCacheAndReset(t *testing.T) {
	p := &fakeProvider{}
	s := newTestService(p)
	s.ApplyPersonality("a pirate")

	input := Input{System: "system A", ChatPrompt: "hello"}
	s.Complete(context.Background(), input, true, Parameters{}, nil, 1, "")

	first := p.chatHistory[0]
	if first[0].Role != "system" || !strings.Contains(first[0].Content, "AI player") {
		t.Fatalf("base context missing: %+v", first[0])
	}
	if !strings.Contains(first[1].Content, "a pirate") {
		t.Fatalf("personality context missing: %+v", first[1])
	}
	if first[2].Content != "system A" {
		t.Fatalf("caller system message missing: %+v", first[2])
	}

	// Second call reuses the cached conversation: history grows.
	s.Complete(context.Background(), input, true, Parameters{}, nil, 1, "")
	if len(p.chatHistory[1]) <= len(p.chatHistory[0]) {
		t.Fatal("expected cached conversation to accumulate turns")
	}

	s.ResetOne("system A")
	s.Complete(context.Background(), input, true, Parameters{}, nil, 1, "")
	fresh := p.chatHistory[2]
	if len(fresh) != 4 { // three system turns + the user prompt
		t.Fatalf("expected fresh conversation after reset, got %d messages", len(fresh))
	}
}

func TestCompleteAs(t *testing.T) {
	p := &fakeProvider{completions: []Response{
		{Text: "nonsense", FinishReason: "stop"},
		{Text: "7", FinishReason: "stop"},
	}}
	s := newTestService(p)

	got := CompleteAs(context.Background(), s, Input{CompletionPrompt: "pick"}, false, Parameters{},
		func(r Response) int {
			n, err := strconv.Atoi(strings.TrimSpace(r.Text))
			if err != nil {
				return -1
			}
			return n
		},
		-1,
		func(n int) bool { return n > 0 },
		5)

	if got != 7 {
		t.Fatalf("CompleteAs = %d, want 7", got)
	}
	if p.completionCalls != 2 {
		t.Fatalf("provider calls = %d, want 2", p.completionCalls)
	}
}

func TestCompleteAsExhaustionReturnsDefault(t *testing.T) {
	p := &fakeProvider{}
	s := newTestService(p)

	got := CompleteAs(context.Background(), s, Input{CompletionPrompt: "pick"}, false, Parameters{},
		func(Response) int { return 99 }, -1, func(int) bool { return false }, 3)

	if got != -1 {
		t.Fatalf("CompleteAs = %d, want default -1", got)
	}
	if p.completionCalls != 3 {
		t.Fatalf("provider calls = %d, want 3", p.completionCalls)
	}
}

func TestSemanticSearchRanksStably(t *testing.T) {
	p := &fakeProvider{embeddings: map[string][]float64{
		"query": {1, 0, 0},
		"far":   {0, 1, 0},
		"near":  {1, 0.1, 0},
		"tie-a": {0, 0, 1},
		"tie-b": {0, 0, 1},
	}}
	s := newTestService(p)

	results, err := s.SemanticSearch(context.Background(), "query", []string{"far", "tie-a", "near", "tie-b"})
	if err != nil {
		t.Fatalf("semantic search: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("results = %d, want 4", len(results))
	}
	if results[0].Index != 2 {
		t.Fatalf("best match index = %d, want 2 (near)", results[0].Index)
	}
	if results[0].Score <= 0 || results[0].Score > scoreScale {
		t.Fatalf("score %f outside scaled range", results[0].Score)
	}
	// Ties keep document order.
	var tieOrder []int
	for _, r := range results {
		if r.Index == 1 || r.Index == 3 {
			tieOrder = append(tieOrder, r.Index)
		}
	}
	if len(tieOrder) != 2 || tieOrder[0] != 1 || tieOrder[1] != 3 {
		t.Fatalf("tie order = %v, want [1 3]", tieOrder)
	}
}

func TestSemanticSearchRetriesEmbeddings(t *testing.T) {
	p := &fakeProvider{embeddingErrs: 1, embeddings: map[string][]float64{}}
	s := newTestService(p)

	if _, err := s.SemanticSearch(context.Background(), "q", []string{"doc"}); err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
}
