package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"persona/backend/ai"
	"persona/backend/internal/branching"
	"persona/backend/internal/ledger"
	"persona/backend/internal/models"
	"persona/backend/internal/repository"
	"persona/backend/internal/ws"
	"persona/backend/pkg/cache"
	apperrors "persona/backend/pkg/errors"
	"persona/backend/pkg/logger"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// defaultHistoryLimit bounds how many turns of the path are sent to the model
const defaultHistoryLimit = 50

// ChatDeps are the collaborators of ChatService
type ChatDeps struct {
	Chats     repository.ChatRepository
	Personas  repository.PersonaRepository
	Ledger    *ledger.Ledger
	Responder ai.Responder
	Cache     cache.Cache
	Events    EventPublisher
	Pricing   Pricing
	CacheTTL  time.Duration
	// HistoryLimit is the number of most recent path turns given to the model
	HistoryLimit int
}

// ChatService manages chats and their branching messages
type ChatService struct {
	chats        repository.ChatRepository
	personas     repository.PersonaRepository
	ledger       *ledger.Ledger
	responder    ai.Responder
	cache        cache.Cache
	events       EventPublisher
	pricing      Pricing
	cacheTTL     time.Duration
	historyLimit int
}

func NewChatService(deps ChatDeps) *ChatService {
	s := &ChatService{
		chats:        deps.Chats,
		personas:     deps.Personas,
		ledger:       deps.Ledger,
		responder:    deps.Responder,
		cache:        deps.Cache,
		events:       deps.Events,
		pricing:      deps.Pricing,
		cacheTTL:     deps.CacheTTL,
		historyLimit: deps.HistoryLimit,
	}
	if s.cache == nil {
		s.cache = cache.Noop{}
	}
	if s.events == nil {
		s.events = noopPublisher{}
	}
	if s.cacheTTL <= 0 {
		s.cacheTTL = cachedTTL
	}
	if s.historyLimit <= 0 {
		s.historyLimit = defaultHistoryLimit
	}
	return s
}

// SendResult is the outcome of a metered send
type SendResult struct {
	UserMessage      *models.Message     `json:"user_message"`
	AssistantMessage *models.Message     `json:"assistant_message"`
	Charge           ledger.ChargeResult `json:"charge"`
}

func (s *ChatService) CreateChat(ctx context.Context, userID, title string, personaID *uuid.UUID) (*models.Chat, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, apperrors.Validationf("title is required")
	}
	if personaID != nil {
		if _, err := s.personas.GetVisible(ctx, userID, *personaID); err != nil {
			return nil, err
		}
	}

	chat := &models.Chat{UserID: userID, Title: title, PersonaID: personaID}
	if err := s.chats.Create(ctx, chat); err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	return chat, nil
}

func (s *ChatService) ListChats(ctx context.Context, userID string) ([]models.Chat, error) {
	return s.chats.ListByUser(ctx, userID)
}

func (s *ChatService) GetChat(ctx context.Context, userID string, chatID uuid.UUID) (*models.Chat, error) {
	return s.chats.Get(ctx, userID, chatID)
}

func (s *ChatService) RenameChat(ctx context.Context, userID string, chatID uuid.UUID, title string) (*models.Chat, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, apperrors.Validationf("title is required")
	}
	return s.chats.Rename(ctx, userID, chatID, title)
}

func (s *ChatService) DeleteChat(ctx context.Context, userID string, chatID uuid.UUID) error {
	if err := s.chats.Delete(ctx, userID, chatID); err != nil {
		return err
	}
	invalidatePrefix(ctx, s.cache, cache.ChatBranchesPrefix(chatID))
	return nil
}

// AppendMessage stores a raw turn. The parent, when given, must belong to the same chat.
func (s *ChatService) AppendMessage(ctx context.Context, userID string, chatID uuid.UUID, parentID *uuid.UUID, role, content string) (*models.Message, error) {
	if !models.IsValidRole(role) {
		return nil, apperrors.Validationf("invalid role %q", role)
	}
	if strings.TrimSpace(content) == "" {
		return nil, apperrors.Validationf("content is required")
	}

	msg := &models.Message{ChatID: chatID, ParentID: parentID, Role: role, Content: content}
	if err := s.append(ctx, userID, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *ChatService) append(ctx context.Context, userID string, msg *models.Message) error {
	if err := s.chats.AppendMessage(ctx, userID, msg); err != nil {
		return err
	}
	invalidatePrefix(ctx, s.cache, cache.ChatBranchesPrefix(msg.ChatID))
	s.events.Publish(msg.ChatID, ws.Event{Type: ws.EventMessageCreated, Message: msg})
	return nil
}

// DeleteMessage removes a message and its whole subtree
func (s *ChatService) DeleteMessage(ctx context.Context, userID string, chatID, messageID uuid.UUID) error {
	if err := s.chats.DeleteMessage(ctx, userID, chatID, messageID); err != nil {
		return err
	}
	invalidatePrefix(ctx, s.cache, cache.ChatBranchesPrefix(chatID))
	s.events.Publish(chatID, ws.Event{Type: ws.EventMessageDeleted, MessageID: &messageID})
	return nil
}

// ListBranches returns the branch points of the chat. Ownership is checked
// before the cache is consulted, and the cache key follows the chat's last
// message write.
func (s *ChatService) ListBranches(ctx context.Context, userID string, chatID uuid.UUID) (branches branching.Branches, err error) {
	ctx, span := tracer.Start(ctx, "chat.list_branches", trace.WithAttributes(attribute.String("chat.id", chatID.String())))
	defer func() { endSpan(span, err) }()

	chat, err := s.chats.Get(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}

	key := cache.ChatBranchesKey(chatID, chat.UpdatedAt)
	var cached branching.Branches
	if hit, err := s.cache.Get(ctx, key, &cached); err != nil {
		logger.FromContext(ctx).LogError(err, "Cache read failed", "key", key)
	} else if hit {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return cached, nil
	}

	messages, err := s.chats.ListMessages(ctx, userID, chatID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	branches = branching.ComputeBranchesByParent(messages)

	if err := s.cache.Set(ctx, key, branches, s.cacheTTL); err != nil {
		logger.FromContext(ctx).LogError(err, "Cache write failed", "key", key)
	}
	return branches, nil
}

// ResolvePath returns the thread through anchor, or the default thread when
// anchor is nil
func (s *ChatService) ResolvePath(ctx context.Context, userID string, chatID uuid.UUID, anchor *uuid.UUID, limit int) (path branching.Path, err error) {
	ctx, span := tracer.Start(ctx, "chat.resolve_path", trace.WithAttributes(attribute.String("chat.id", chatID.String())))
	defer func() { endSpan(span, err) }()

	if limit < 0 {
		return branching.Path{}, apperrors.Validationf("limit must not be negative")
	}
	messages, err := s.messages(ctx, userID, chatID)
	if err != nil {
		return branching.Path{}, err
	}
	return branching.ResolvePathToLeaf(messages, anchor, limit)
}

func (s *ChatService) messages(ctx context.Context, userID string, chatID uuid.UUID) ([]models.Message, error) {
	if _, err := s.chats.Get(ctx, userID, chatID); err != nil {
		return nil, err
	}
	messages, err := s.chats.ListMessages(ctx, userID, chatID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

// SendMessage is the metered turn: charge, store the user turn, ask the
// model for a reply in character and store it as the user turn's child.
// Nothing is written when the charge fails. The charge is refunded when the
// model cannot answer or its reply cannot be stored; the user turn stays.
func (s *ChatService) SendMessage(ctx context.Context, userID string, chatID uuid.UUID, parentID *uuid.UUID, content string) (res *SendResult, err error) {
	ctx, span := tracer.Start(ctx, "chat.send_message", trace.WithAttributes(
		attribute.String("chat.id", chatID.String()),
		attribute.String("user.id", userID),
	))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(content) == "" {
		return nil, apperrors.Validationf("content is required")
	}

	chat, err := s.chats.Get(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}
	messages, err := s.chats.ListMessages(ctx, userID, chatID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if parentID != nil && !contains(messages, *parentID) {
		return nil, apperrors.Validationf("parent message %s is not part of chat %s", parentID, chatID)
	}

	persona := s.persona(ctx, userID, chat)

	charge, err := s.ledger.Charge(ctx, userID, "chat_message", s.pricing.ChatMessageCost, s.pricing.MaxDailyFree)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("charge.source", string(charge.Source)))

	userMsg := &models.Message{ChatID: chatID, ParentID: parentID, Role: models.RoleUser, Content: content}
	if err := s.append(ctx, userID, userMsg); err != nil {
		s.refund(ctx, userID, charge, "message not stored")
		return nil, err
	}

	path, err := branching.ResolvePathToLeaf(append(messages, *userMsg), &userMsg.ID, 0)
	if err != nil {
		s.refund(ctx, userID, charge, "path resolution failed")
		return nil, err
	}
	history := path.Messages
	if len(history) > s.historyLimit {
		history = history[len(history)-s.historyLimit:]
	}

	reply, err := s.responder.Reply(ctx, persona, history)
	if err != nil {
		s.refund(ctx, userID, charge, "reply generation failed")
		logger.FromContext(ctx).LogError(err, "Reply generation failed", "chat_id", chatID)
		return nil, fmt.Errorf("%w: %v", apperrors.ErrUnavailable, err)
	}

	assistantMsg := &models.Message{
		ChatID:   chatID,
		ParentID: &userMsg.ID,
		Role:     models.RoleAssistant,
		Content:  reply.Content,
		Model:    reply.Model,
	}
	if err := s.append(ctx, userID, assistantMsg); err != nil {
		s.refund(ctx, userID, charge, "reply not stored")
		return nil, fmt.Errorf("store reply: %w", err)
	}

	return &SendResult{UserMessage: userMsg, AssistantMessage: assistantMsg, Charge: charge}, nil
}

// persona returns the current version of the chat's persona, or nil when
// the chat has none or it is no longer visible
func (s *ChatService) persona(ctx context.Context, userID string, chat *models.Chat) *models.PersonaVersion {
	if chat.PersonaID == nil {
		return nil
	}
	p, err := s.personas.GetVisible(ctx, userID, *chat.PersonaID)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			logger.FromContext(ctx).LogError(err, "Failed to load chat persona", "chat_id", chat.ID)
		}
		return nil
	}
	return p.CurrentVersion
}

func (s *ChatService) refund(ctx context.Context, userID string, charge ledger.ChargeResult, reason string) {
	if err := s.ledger.Refund(ctx, userID, charge, reason); err != nil {
		logger.FromContext(ctx).LogError(err, "Refund failed",
			"user_id", userID,
			"amount", charge.Amount,
			"source", charge.Source,
			"reason", reason,
		)
	}
}

func contains(messages []models.Message, id uuid.UUID) bool {
	for i := range messages {
		if messages[i].ID == id {
			return true
		}
	}
	return false
}
