package api

import (
	"context"
	"net/http"

	"persona/backend/internal/branching"
	"persona/backend/internal/models"
	"persona/backend/internal/service"
	"persona/backend/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ChatService is what ChatHandler needs from the chat service
type ChatService interface {
	CreateChat(ctx context.Context, userID, title string, personaID *uuid.UUID) (*models.Chat, error)
	ListChats(ctx context.Context, userID string) ([]models.Chat, error)
	GetChat(ctx context.Context, userID string, chatID uuid.UUID) (*models.Chat, error)
	RenameChat(ctx context.Context, userID string, chatID uuid.UUID, title string) (*models.Chat, error)
	DeleteChat(ctx context.Context, userID string, chatID uuid.UUID) error
	AppendMessage(ctx context.Context, userID string, chatID uuid.UUID, parentID *uuid.UUID, role, content string) (*models.Message, error)
	DeleteMessage(ctx context.Context, userID string, chatID, messageID uuid.UUID) error
	ListBranches(ctx context.Context, userID string, chatID uuid.UUID) (branching.Branches, error)
	ResolvePath(ctx context.Context, userID string, chatID uuid.UUID, anchor *uuid.UUID, limit int) (branching.Path, error)
	SendMessage(ctx context.Context, userID string, chatID uuid.UUID, parentID *uuid.UUID, content string) (*service.SendResult, error)
}

// ChatHandler serves chats, their message trees and the chat event stream
type ChatHandler struct {
	chats ChatService
	hub   *ws.Hub
}

// NewChatHandler creates a chat handler. A nil hub disables the websocket route.
func NewChatHandler(chats ChatService, hub *ws.Hub) *ChatHandler {
	return &ChatHandler{chats: chats, hub: hub}
}

// RegisterRoutes mounts the chat routes on an authenticated group
func (h *ChatHandler) RegisterRoutes(rg *gin.RouterGroup) {
	chats := rg.Group("/chats")
	chats.POST("", h.CreateChat)
	chats.GET("", h.ListChats)
	chats.GET("/:id", h.GetChat)
	chats.PATCH("/:id", h.RenameChat)
	chats.DELETE("/:id", h.DeleteChat)
	chats.GET("/:id/branches", h.ListBranches)
	chats.GET("/:id/messages", h.ResolvePath)
	chats.POST("/:id/messages", h.AppendMessage)
	chats.POST("/:id/send", h.SendMessage)
	chats.DELETE("/:id/messages/:messageId", h.DeleteMessage)
	if h.hub != nil {
		chats.GET("/:id/ws", h.Subscribe)
	}
}

func (h *ChatHandler) CreateChat(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req models.CreateChatRequest
	if !bind(c, &req) {
		return
	}

	chat, err := h.chats.CreateChat(c.Request.Context(), userID, req.Title, req.PersonaID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, chat)
}

func (h *ChatHandler) ListChats(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	chats, err := h.chats.ListChats(c.Request.Context(), userID)
	if err != nil {
		c.Error(err)
		return
	}
	if chats == nil {
		chats = []models.Chat{}
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

func (h *ChatHandler) GetChat(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	chatID, ok := pathID(c, "id")
	if !ok {
		return
	}
	chat, err := h.chats.GetChat(c.Request.Context(), userID, chatID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

func (h *ChatHandler) RenameChat(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	chatID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req models.RenameChatRequest
	if !bind(c, &req) {
		return
	}
	chat, err := h.chats.RenameChat(c.Request.Context(), userID, chatID, req.Title)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

func (h *ChatHandler) DeleteChat(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	chatID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.chats.DeleteChat(c.Request.Context(), userID, chatID); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListBranches returns the children of every parent, keyed by parent id or "root"
func (h *ChatHandler) ListBranches(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	chatID, ok := pathID(c, "id")
	if !ok {
		return
	}
	branches, err := h.chats.ListBranches(c.Request.Context(), userID, chatID)
	if err != nil {
		c.Error(err)
		return
	}
	if branches == nil {
		branches = branching.Branches{}
	}
	c.JSON(http.StatusOK, branches)
}

// ResolvePath returns the root-to-leaf path through ?anchor=, or through the
// newest branches when no anchor is given
func (h *ChatHandler) ResolvePath(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	chatID, ok := pathID(c, "id")
	if !ok {
		return
	}
	anchor, ok := queryID(c, "anchor")
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit", 0)
	if !ok {
		return
	}

	path, err := h.chats.ResolvePath(c.Request.Context(), userID, chatID, anchor, limit)
	if err != nil {
		c.Error(err)
		return
	}
	if path.Messages == nil {
		path.Messages = []models.Message{}
	}
	c.JSON(http.StatusOK, path)
}

func (h *ChatHandler) AppendMessage(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	chatID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req models.AppendMessageRequest
	if !bind(c, &req) {
		return
	}
	msg, err := h.chats.AppendMessage(c.Request.Context(), userID, chatID, req.ParentID, req.Role, req.Content)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// SendMessage charges the user, stores the turn and the persona's reply
func (h *ChatHandler) SendMessage(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	chatID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req models.SendMessageRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.chats.SendMessage(c.Request.Context(), userID, chatID, req.ParentID, req.Content)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// DeleteMessage removes a message together with its descendants
func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	chatID, ok := pathID(c, "id")
	if !ok {
		return
	}
	messageID, ok := pathID(c, "messageId")
	if !ok {
		return
	}
	if err := h.chats.DeleteMessage(c.Request.Context(), userID, chatID, messageID); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Subscribe upgrades to a websocket streaming the chat's message events
func (h *ChatHandler) Subscribe(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	chatID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if _, err := h.chats.GetChat(c.Request.Context(), userID, chatID); err != nil {
		c.Error(err)
		return
	}
	ws.Serve(h.hub, c, chatID, userID)
}
