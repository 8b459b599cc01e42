package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// OpenAIConfig configures the OpenAI-backed provider.
type OpenAIConfig struct {
	APIKey          string
	BaseURL         string
	ChatModel       string
	CompletionModel string
	EmbeddingModel  string
	HTTPClient      *http.Client
}

type openAIProvider struct {
	cfg OpenAIConfig
}

// NewOpenAIProvider builds a Provider speaking the OpenAI HTTP API.
func NewOpenAIProvider(cfg OpenAIConfig) (Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("api key is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if strings.TrimSpace(cfg.ChatModel) == "" {
		cfg.ChatModel = "gpt-4o-mini"
	}
	if strings.TrimSpace(cfg.CompletionModel) == "" {
		cfg.CompletionModel = "gpt-3.5-turbo-instruct"
	}
	if strings.TrimSpace(cfg.EmbeddingModel) == "" {
		cfg.EmbeddingModel = "text-embedding-3-small"
	}
	return &openAIProvider{cfg: cfg}, nil
}

func (p *openAIProvider) Completion(ctx context.Context, prompt string, params Parameters) (Response, error) {
	body := map[string]any{
		"model":             p.cfg.CompletionModel,
		"prompt":            prompt,
		"max_tokens":        params.MaxTokens,
		"temperature":       params.Temperature,
		"top_p":             params.TopP,
		"presence_penalty":  params.PresencePenalty,
		"frequency_penalty": params.FrequencyPenalty,
	}
	if len(params.StopSequences) > 0 {
		body["stop"] = params.StopSequences
	}

	var payload struct {
		Choices []struct {
			Text         string `json:"text"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	}
	if err := p.post(ctx, "/completions", body, &payload); err != nil {
		return Response{}, err
	}
	if len(payload.Choices) == 0 {
		return Response{}, errors.New("completion response has no choices")
	}
	return Response{Text: payload.Choices[0].Text, FinishReason: payload.Choices[0].FinishReason}, nil
}

func (p *openAIProvider) Chat(ctx context.Context, messages []Message, params Parameters) (Response, error) {
	body := map[string]any{
		"model":    p.cfg.ChatModel,
		"messages": messages,
		"n":        1,
	}
	// Newer chat models reject sampling overrides, so they are only sent for
	// the models that accept them.
	if !strings.HasPrefix(p.cfg.ChatModel, "gpt-5") {
		body["max_tokens"] = params.MaxTokens
		body["temperature"] = params.Temperature
		body["presence_penalty"] = params.PresencePenalty
		body["frequency_penalty"] = params.FrequencyPenalty
	}

	var payload struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	}
	if err := p.post(ctx, "/chat/completions", body, &payload); err != nil {
		return Response{}, err
	}
	if len(payload.Choices) == 0 {
		return Response{}, errors.New("chat response has no choices")
	}
	return Response{
		Text:         payload.Choices[0].Message.Content,
		FinishReason: payload.Choices[0].FinishReason,
	}, nil
}

func (p *openAIProvider) Embedding(ctx context.Context, text string) ([]float64, error) {
	body := map[string]any{
		"model": p.cfg.EmbeddingModel,
		"input": text,
	}

	var payload struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := p.post(ctx, "/embeddings", body, &payload); err != nil {
		return nil, err
	}
	if len(payload.Data) == 0 {
		return nil, errors.New("embedding response has no data")
	}
	return payload.Data[0].Embedding, nil
}

func (p *openAIProvider) post(ctx context.Context, path string, body any, out any) error {
	requestBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+path, bytes.NewReader(requestBody))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	// Credential material is sent only as an Authorization header and is
	// never echoed in errors or logs.
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	res, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", path, err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		detail, err := io.ReadAll(io.LimitReader(res.Body, 4096))
		if err != nil {
			return fmt.Errorf("read %s error body: %w", path, err)
		}
		return fmt.Errorf("%s request status %d: %s", path, res.StatusCode, strings.TrimSpace(string(detail)))
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
