package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"persona/backend/internal/models"
	"persona/backend/pkg/logger"
	"persona/backend/pkg/resilience"
)

const defaultCompletionsURL = "https://api.openai.com/v1"

// Reply is a generated assistant turn
type Reply struct {
	Content string
	Model   string
}

// Responder writes the next assistant turn of a conversation
type Responder interface {
	Reply(ctx context.Context, persona *models.PersonaVersion, history []models.Message) (Reply, error)
}

// ChatConfig configures ChatClient
type ChatConfig struct {
	// BaseURL of an OpenAI-compatible API; empty means api.openai.com
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// ChatClient is a Responder backed by an OpenAI-compatible chat completion endpoint
type ChatClient struct {
	url        string
	apiKey     string
	model      string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	log        *logger.Logger
}

// NewChatClient creates a chat completion client guarded by its own circuit breaker
func NewChatClient(cfg ChatConfig, log *logger.Logger) *ChatClient {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultCompletionsURL
	}
	breakerCfg := resilience.DefaultCircuitBreakerConfig("ai_chat")
	if cfg.Timeout > 0 {
		breakerCfg.Timeout = cfg.Timeout
	}
	return &ChatClient{
		url:        base + "/chat/completions",
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: &http.Client{},
		breaker:    resilience.NewCircuitBreaker(breakerCfg, log),
		log:        log.WithComponent("ai_chat"),
	}
}

// ChatMessage is one entry of a completion request
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
}

// Reply sends the persona prompt and the conversation path and returns the
// first choice. A persona version that names its own model overrides the
// configured one.
func (c *ChatClient) Reply(ctx context.Context, persona *models.PersonaVersion, history []models.Message) (Reply, error) {
	model := c.model
	if persona != nil && persona.AIModel != "" {
		model = persona.AIModel
	}

	req := chatRequest{Model: model, Messages: BuildMessages(persona, history)}
	var resp chatResponse
	if err := postJSON(ctx, "ai_chat", c.breaker, c.httpClient, c.url, c.apiKey, req, &resp); err != nil {
		c.log.Warn("Chat completion failed", "model", model, "error", err.Error())
		return Reply{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return Reply{}, errors.New("chat completion: empty response")
	}

	if resp.Model != "" {
		model = resp.Model
	}
	return Reply{Content: resp.Choices[0].Message.Content, Model: model}, nil
}

// BuildMessages turns a persona and a root-to-leaf path into completion messages
func BuildMessages(persona *models.PersonaVersion, history []models.Message) []ChatMessage {
	messages := make([]ChatMessage, 0, len(history)+1)
	if persona != nil {
		messages = append(messages, ChatMessage{Role: models.RoleSystem, Content: SystemPrompt(persona)})
	}
	for _, m := range history {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		messages = append(messages, ChatMessage{Role: m.Role, Content: m.Content})
	}
	return messages
}

// SystemPrompt describes the persona version to the model
func SystemPrompt(v *models.PersonaVersion) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.", v.Name)
	if v.Age > 0 {
		fmt.Fprintf(&b, " Age: %d.", v.Age)
	}
	if v.Gender != "" {
		fmt.Fprintf(&b, " Gender: %s.", v.Gender)
	}
	if v.Occupation != nil && *v.Occupation != "" {
		fmt.Fprintf(&b, " Occupation: %s.", *v.Occupation)
	}
	for _, field := range []struct{ label, value string }{
		{"Summary", v.Summary},
		{"Appearance", v.Appearance},
		{"Personality", v.Personality},
		{"Background", v.Background},
	} {
		if field.value != "" {
			fmt.Fprintf(&b, "\n%s: %s", field.label, field.value)
		}
	}
	b.WriteString("\nStay in character and answer as this persona would.")
	return b.String()
}
