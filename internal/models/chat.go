package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Chat owns a forest of messages and belongs to one user
type Chat struct {
	ID        uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID    string     `gorm:"size:191;not null;index" json:"user_id"`
	PersonaID *uuid.UUID `gorm:"type:uuid;index" json:"persona_id,omitempty"`
	Title     string     `gorm:"not null" json:"title"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`

	User    *User    `gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	Persona *Persona `gorm:"foreignKey:PersonaID;references:ID;constraint:OnDelete:SET NULL" json:"-"`
}

// BeforeCreate assigns the id up front so callers can link children before the insert returns
func (c *Chat) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// Message is one turn of a chat. ParentID is nil for a root turn.
type Message struct {
	ID        uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ChatID    uuid.UUID  `gorm:"type:uuid;not null;index:idx_messages_chat_created,priority:1" json:"chat_id"`
	ParentID  *uuid.UUID `gorm:"type:uuid;index" json:"parent_id"`
	Role      string     `gorm:"size:16;not null" json:"role"`
	Content   string     `gorm:"type:text;not null" json:"content"`
	Model     string     `gorm:"size:128" json:"model,omitempty"`
	CreatedAt time.Time  `gorm:"index:idx_messages_chat_created,priority:2" json:"created_at"`

	Chat   *Chat    `gorm:"foreignKey:ChatID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	Parent *Message `gorm:"foreignKey:ParentID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
}

// BeforeCreate assigns the id and a microsecond timestamp matching what PostgreSQL stores
func (m *Message) BeforeCreate(*gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	}
	return nil
}

// IsValidRole reports whether role may be stored on a message
func IsValidRole(role string) bool {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// CreateChatRequest is the body of POST /chats
type CreateChatRequest struct {
	Title     string     `json:"title" binding:"required,max=200"`
	PersonaID *uuid.UUID `json:"persona_id"`
}

// RenameChatRequest is the body of PATCH /chats/:id
type RenameChatRequest struct {
	Title string `json:"title" binding:"required,max=200"`
}

// AppendMessageRequest is the body of POST /chats/:id/messages
type AppendMessageRequest struct {
	ParentID *uuid.UUID `json:"parent_id"`
	Role     string     `json:"role" binding:"required,oneof=user assistant system"`
	Content  string     `json:"content" binding:"required"`
}

// SendMessageRequest is the body of POST /chats/:id/send
type SendMessageRequest struct {
	ParentID *uuid.UUID `json:"parent_id"`
	Content  string     `json:"content" binding:"required,max=8000"`
}
