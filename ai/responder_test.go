package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"persona/backend/internal/models"
	"persona/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatClientReply(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"model":"gpt-test-0001","choices":[{"message":{"role":"assistant","content":"Ahoy!"}}]}`))
	}))
	defer srv.Close()

	client := NewChatClient(ChatConfig{BaseURL: srv.URL + "/v1/", APIKey: "secret", Model: "gpt-test"}, logger.Discard())
	persona := &models.PersonaVersion{Name: "Captain Vex", Personality: "gruff"}
	history := []models.Message{
		{Role: models.RoleUser, Content: "hello"},
		{Role: models.RoleAssistant, Content: ""},
	}

	reply, err := client.Reply(context.Background(), persona, history)
	require.NoError(t, err)
	assert.Equal(t, "Ahoy!", reply.Content)
	assert.Equal(t, "gpt-test-0001", reply.Model)

	assert.Equal(t, "gpt-test", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, models.RoleSystem, got.Messages[0].Role)
	assert.Contains(t, got.Messages[0].Content, "You are Captain Vex.")
	assert.Equal(t, ChatMessage{Role: models.RoleUser, Content: "hello"}, got.Messages[1])
}

func TestChatClientPersonaModelOverride(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"hi"}}]}`))
	}))
	defer srv.Close()

	client := NewChatClient(ChatConfig{BaseURL: srv.URL, Model: "default-model"}, logger.Discard())
	reply, err := client.Reply(context.Background(), &models.PersonaVersion{Name: "A", AIModel: "custom"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "custom", got.Model)
	assert.Equal(t, "custom", reply.Model)
}

func TestChatClientUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewChatClient(ChatConfig{BaseURL: srv.URL}, logger.Discard())
	_, err := client.Reply(context.Background(), nil, []models.Message{{Role: models.RoleUser, Content: "hi"}})

	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusServiceUnavailable, upstream.StatusCode)
}

func TestChatClientEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	client := NewChatClient(ChatConfig{BaseURL: srv.URL}, logger.Discard())
	_, err := client.Reply(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestSystemPrompt(t *testing.T) {
	occupation := "smuggler"
	prompt := SystemPrompt(&models.PersonaVersion{
		Name:       "Vex",
		Age:        41,
		Occupation: &occupation,
		Background: "Grew up on a freighter.",
	})

	assert.Contains(t, prompt, "You are Vex. Age: 41. Occupation: smuggler.")
	assert.Contains(t, prompt, "\nBackground: Grew up on a freighter.")
	assert.NotContains(t, prompt, "Appearance:")
}
