package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrospeak/agrospeak/internal/assistant"
	"github.com/agrospeak/agrospeak/internal/config"
	"github.com/agrospeak/agrospeak/internal/fallback"
)

func TestCompleteChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-or", r.Header.Get("Authorization"))
		assert.Equal(t, "http://localhost", r.Header.Get("HTTP-Referer"))
		assert.Equal(t, "AgroSpeak", r.Header.Get("X-Title"))

		var body chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "openai/gpt-3.5-turbo", body.Model)
		require.Len(t, body.Messages, 2)
		assert.Equal(t, "system", body.Messages[0].Role)
		assert.Equal(t, assistant.Persona, body.Messages[0].Content)
		assert.Equal(t, "user", body.Messages[1].Role)
		assert.Equal(t, 500, body.MaxTokens)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Sell soya in July."}}]}`))
	}))
	defer srv.Close()

	c := New(config.OpenAIConfig{
		Endpoint: srv.URL + "/api/v1/chat/completions",
		APIKey:   "sk-or",
		Model:    "openai/gpt-3.5-turbo",
		Referer:  "http://localhost",
		Title:    "AgroSpeak",
	}, 5*time.Second)

	got, err := c.Complete(context.Background(), assistant.Request{
		System: assistant.Persona, Query: "when to sell soya", MaxTokens: 500, Temperature: 0.7,
	})
	require.NoError(t, err)
	assert.Equal(t, "Sell soya in July.", got)
}

func TestCompleteOllamaGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		var body generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "llama3", body.Model)
		assert.Equal(t, "what is crop rotation", body.Prompt)
		assert.False(t, body.Stream)
		_, _ = w.Write([]byte(`{"response":"Alternate crops each season."}`))
	}))
	defer srv.Close()

	c := New(config.OpenAIConfig{Endpoint: srv.URL + "/api/generate", Model: "llama3"}, 5*time.Second)
	got, err := c.Complete(context.Background(), assistant.Request{Query: "what is crop rotation"})
	require.NoError(t, err)
	assert.Equal(t, "Alternate crops each season.", got)
}

func TestCompleteErrors(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
		}))
		defer srv.Close()

		_, err := New(config.OpenAIConfig{Endpoint: srv.URL}, time.Second).Complete(context.Background(), assistant.Request{Query: "x"})
		require.Error(t, err)
		assert.Equal(t, fallback.Status, fallback.Classify(err))
	})

	t.Run("unparseable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`<html>oops</html>`))
		}))
		defer srv.Close()

		_, err := New(config.OpenAIConfig{Endpoint: srv.URL}, time.Second).Complete(context.Background(), assistant.Request{Query: "x"})
		require.Error(t, err)
		assert.Equal(t, fallback.Parse, fallback.Classify(err))
	})
}
