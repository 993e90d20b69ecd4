package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"storefront/internal/settings"
)

type staticAI settings.AISettings

func (s staticAI) AI(context.Context) settings.AISettings { return settings.AISettings(s) }

func TestReplyWithoutKeyReturnsFallback(t *testing.T) {
	a := NewAssistant("", "http://unused", "gpt-4o-mini", staticAI{FallbackReply: "We are offline."})

	reply, err := a.Reply(context.Background(), "Do you ship to France?")
	require.NoError(t, err)
	require.Equal(t, "We are offline.", reply)
}

func TestReplyValidatesInput(t *testing.T) {
	a := NewAssistant("", "http://unused", "", nil)

	_, err := a.Reply(context.Background(), "   ")
	require.ErrorIs(t, err, ErrEmptyMessage)

	_, err = a.Reply(context.Background(), strings.Repeat("a", maxMessageRunes+1))
	require.ErrorIs(t, err, ErrMessageTooLong)
}

func TestReplySendsPromptAndKnowledgeBase(t *testing.T) {
	var got completionRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if r.URL.Path != "/v1/chat/completions" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  Yes, we ship worldwide.  "}}]}`))
	}))
	defer srv.Close()

	a := NewAssistant("sk-test", srv.URL, "gpt-4o-mini", staticAI{
		SystemPrompt:  "You help crystal shoppers.",
		KnowledgeBase: "Shipping: worldwide from Toronto.",
	})
	reply, err := a.Reply(context.Background(), "Do you ship to France?")
	require.NoError(t, err)
	require.Equal(t, "Yes, we ship worldwide.", reply)

	require.Equal(t, "Bearer sk-test", auth)
	require.Equal(t, "gpt-4o-mini", got.Model)
	require.Len(t, got.Messages, 2)
	require.Equal(t, "system", got.Messages[0].Role)
	require.Contains(t, got.Messages[0].Content, "You help crystal shoppers.")
	require.Contains(t, got.Messages[0].Content, "worldwide from Toronto")
	require.Equal(t, "Do you ship to France?", got.Messages[1].Content)
}

func TestReplySettingsModelOverridesDefault(t *testing.T) {
	var got completionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	a := NewAssistant("sk-test", srv.URL, "gpt-4o-mini", staticAI{Model: "gpt-4.1"})
	_, err := a.Reply(context.Background(), "hi")
	require.NoError(t, err)
	require.Equal(t, "gpt-4.1", got.Model)
}

func TestReplyUpstreamFailureFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	a := NewAssistant("sk-test", srv.URL, "gpt-4o-mini", staticAI{})
	reply, err := a.Reply(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, settings.DefaultAI().FallbackReply, reply)
}

func TestSystemPromptDefaults(t *testing.T) {
	require.Equal(t, settings.DefaultAI().SystemPrompt, SystemPrompt(settings.AISettings{}))
}
