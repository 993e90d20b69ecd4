// Package chat answers storefront support questions through an LLM.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"

	"storefront/internal/settings"
)

var (
	ErrEmptyMessage   = errors.New("message is required")
	ErrMessageTooLong = errors.New("message is too long")
)

const maxMessageRunes = 2000

type SettingsSource interface {
	AI(ctx context.Context) settings.AISettings
}

type Assistant struct {
	APIKey   string
	BaseURL  string
	Model    string
	Settings SettingsSource
	HTTP     *http.Client
}

func NewAssistant(apiKey, baseURL, model string, cfg SettingsSource) *Assistant {
	return &Assistant{
		APIKey:   apiKey,
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Model:    model,
		Settings: cfg,
		HTTP:     &http.Client{Timeout: 20 * time.Second},
	}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type completionResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

// Reply answers one user message. Upstream failures degrade to the
// configured fallback reply; only invalid input is returned as an error.
func (a *Assistant) Reply(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > maxMessageRunes {
		return "", ErrMessageTooLong
	}

	ai := settings.DefaultAI()
	if a.Settings != nil {
		ai = a.Settings.AI(ctx)
	}
	fallback := ai.FallbackReply
	if fallback == "" {
		fallback = settings.DefaultAI().FallbackReply
	}
	if a.APIKey == "" {
		return fallback, nil
	}

	reply, err := a.complete(ctx, ai, text)
	if err != nil {
		log.Printf("[CHAT] [ERROR] completion failed: %v", err)
		return fallback, nil
	}
	return reply, nil
}

func (a *Assistant) complete(ctx context.Context, ai settings.AISettings, text string) (string, error) {
	model := ai.Model
	if model == "" {
		model = a.Model
	}
	payload, err := json.Marshal(completionRequest{
		Model: model,
		Messages: []message{
			{Role: "system", Content: SystemPrompt(ai)},
			{Role: "user", Content: text},
		},
		Temperature: 0.4,
		MaxTokens:   400,
	})
	if err != nil {
		return "", errors.WithStack(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", errors.Wrap(err, "build completion request")
	}
	req.Header.Set("Authorization", "Bearer "+a.APIKey)
	req.Header.Set("Content-Type", "application/json")

	client := a.HTTP
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "send completion request")
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("openai API error %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var out completionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", errors.Wrap(err, "decode completion response")
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", errors.New("completion returned no choices")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

// SystemPrompt joins the configured prompt with the shop knowledge base.
func SystemPrompt(ai settings.AISettings) string {
	prompt := strings.TrimSpace(ai.SystemPrompt)
	if prompt == "" {
		prompt = settings.DefaultAI().SystemPrompt
	}
	if kb := strings.TrimSpace(ai.KnowledgeBase); kb != "" {
		prompt += "\n\nShop knowledge base:\n" + kb
	}
	return prompt
}
