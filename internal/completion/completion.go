// Package completion wraps a text-generation provider behind the
// generate-validate-retry contract every game engine depends on.
//
// The retry loop is the load-bearing piece: generation is attempted up to
// maxTries times, transient provider failures consume a try instead of
// surfacing, and exhaustion yields a caller-supplied default tagged with a
// sentinel finish reason so callers can tell fallback from generated text.
package completion

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracer produces no-op spans unless the process opted into telemetry at
// startup.
var tracer = otel.Tracer("boxbot/completion")

// FinishNoValidResponses tags responses produced by fallback rather than the
// model. Callers must treat it as "use your default", never as an error.
const FinishNoValidResponses = "no_valid_responses"

// baseContext opens every chat conversation. Multiple bot instances may share
// a room, hence the nudge toward varied answers.
const baseContext = "You are an AI player in a game that may have other AI players in it. " +
	"You should add variety to your responses to avoid overlapping with other AI players. " +
	"Please do not include emoji or unicode in your responses as this game does not allow them."

// Response is the atomic unit returned by every generation attempt.
type Response struct {
	Text         string
	FinishReason string
}

// Parameters tunes a single generation call.
type Parameters struct {
	Temperature      float64
	MaxTokens        int
	TopP             float64
	PresencePenalty  float64
	FrequencyPenalty float64
	StopSequences    []string
}

// Input carries a prompt in both supported styles. Chat-backed services use
// System + ChatPrompt; completion-backed services use CompletionPrompt. Which
// style runs is the caller's per-game choice.
type Input struct {
	System           string
	ChatPrompt       string
	CompletionPrompt string
}

// Message is one turn in a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider performs single generation attempts against a model backend.
// Implementations should return an error only for transport or API failures;
// the Service's retry loop treats those as recoverable.
type Provider interface {
	Completion(ctx context.Context, prompt string, params Parameters) (Response, error)
	Chat(ctx context.Context, messages []Message, params Parameters) (Response, error)
	Embedding(ctx context.Context, text string) ([]float64, error)
}

// Service runs validated generation against a Provider. Each worker owns one
// Service; the conversation cache is not safe for concurrent use.
type Service struct {
	provider Provider

	// RetryPause is slept after a failed provider call before the next try.
	RetryPause time.Duration

	personality string
	convos      map[string]*conversation
}

type conversation struct {
	messages []Message
}

// NewService wraps a provider with the standard retry behavior.
func NewService(provider Provider) *Service {
	return &Service{
		provider:   provider,
		RetryPause: 100 * time.Millisecond,
		convos:     make(map[string]*conversation),
	}
}

// ApplyPersonality injects a personality hint into every subsequent chat
// conversation. Existing cached conversations are unaffected; callers reset
// when they want the new context picked up.
func (s *Service) ApplyPersonality(info string) {
	info = strings.ReplaceAll(info, "`", "")
	s.personality = "To make things more varied, please incorporate being " + info + " in your responses."
}

// ResetOne drops the cached conversation for one system message, so the next
// chat call starts a fresh context.
func (s *Service) ResetOne(systemMsg string) {
	delete(s.convos, systemMsg)
}

// ResetAll drops every cached conversation. Engines call it when a new
// category of prompt context begins to avoid context bleed.
func (s *Service) ResetAll() {
	s.convos = make(map[string]*conversation)
}

// conversationFor returns the cached conversation keyed by the system
// message, creating it with the base and personality contexts on first use.
func (s *Service) conversationFor(systemMsg string) *conversation {
	if systemMsg == "" {
		return nil
	}
	if convo, ok := s.convos[systemMsg]; ok {
		return convo
	}
	convo := &conversation{}
	convo.messages = append(convo.messages, Message{Role: "system", Content: baseContext})
	if s.personality != "" {
		convo.messages = append(convo.messages, Message{Role: "system", Content: s.personality})
	}
	convo.messages = append(convo.messages, Message{Role: "system", Content: systemMsg})
	s.convos[systemMsg] = convo
	return convo
}

// Complete attempts generation up to maxTries times and returns the first
// response accepted by validate. A nil validate accepts the first successful
// attempt. In chat mode, attempts after the first continue the same
// conversation with a "Try again" turn; completion mode is one-shot every
// attempt. On exhaustion (or a cancelled context) the default text is
// returned tagged FinishNoValidResponses. maxTries below 1 is treated as 1.
func (s *Service) Complete(ctx context.Context, input Input, chat bool, params Parameters,
	validate func(Response) bool, maxTries int, defaultText string) Response {

	if maxTries < 1 {
		maxTries = 1
	}
	ctx, span := tracer.Start(ctx, "completion.Complete", trace.WithAttributes(
		attribute.Bool("chat", chat),
		attribute.Int("max_tries", maxTries),
	))
	defer span.End()

	convo := s.conversationFor(input.System)

	var result Response
	valid := false
	tries := 0
	for ; tries < maxTries && !valid; tries++ {
		if ctx.Err() != nil {
			break
		}

		output, err := s.attempt(ctx, input, chat, convo, params, tries)
		if err != nil {
			span.RecordError(err)
			s.pause(ctx)
			continue
		}

		result = output
		if validate == nil {
			span.SetAttributes(attribute.Int("tries", tries+1))
			return result
		}
		valid = validate(result)
	}

	span.SetAttributes(attribute.Int("tries", tries), attribute.Bool("fallback", !valid))
	if valid {
		return result
	}
	return Response{Text: defaultText, FinishReason: FinishNoValidResponses}
}

func (s *Service) attempt(ctx context.Context, input Input, chat bool, convo *conversation,
	params Parameters, tries int) (Response, error) {

	if !chat {
		return s.provider.Completion(ctx, input.CompletionPrompt, params)
	}

	// No system message means no cached conversation; every attempt is a
	// fresh one-shot chat.
	if convo == nil {
		return s.provider.Chat(ctx, []Message{{Role: "user", Content: input.ChatPrompt}}, params)
	}

	message := input.ChatPrompt
	if tries > 0 {
		// Keep the failed turn in context; asking for another take works
		// better than replaying the prompt from scratch.
		message = "Try again"
	}
	convo.messages = append(convo.messages, Message{Role: "user", Content: message})
	output, err := s.provider.Chat(ctx, convo.messages, params)
	if err != nil {
		return Response{}, err
	}
	convo.messages = append(convo.messages, Message{Role: "assistant", Content: output.Text})
	return output, nil
}

func (s *Service) pause(ctx context.Context) {
	if s.RetryPause <= 0 {
		return
	}
	timer := time.NewTimer(s.RetryPause)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// CompleteAs runs the same retry loop but pipes each raw response through
// process and validates the processed value. The default value is returned
// when no attempt validates. Implemented as a function because Go methods
// cannot introduce type parameters.
func CompleteAs[T any](ctx context.Context, s *Service, input Input, chat bool, params Parameters,
	process func(Response) T, defaultValue T, validate func(T) bool, maxTries int) T {

	if maxTries < 1 {
		maxTries = 1
	}
	ctx, span := tracer.Start(ctx, "completion.CompleteAs", trace.WithAttributes(
		attribute.Bool("chat", chat),
		attribute.Int("max_tries", maxTries),
	))
	defer span.End()

	convo := s.conversationFor(input.System)

	result := defaultValue
	valid := false
	for tries := 0; tries < maxTries && !valid; tries++ {
		if ctx.Err() != nil {
			break
		}

		output, err := s.attempt(ctx, input, chat, convo, params, tries)
		if err != nil {
			span.RecordError(err)
			s.pause(ctx)
			continue
		}

		result = process(output)
		if validate == nil {
			return result
		}
		valid = validate(result)
	}

	span.SetAttributes(attribute.Bool("fallback", !valid))
	if valid {
		return result
	}
	return defaultValue
}
