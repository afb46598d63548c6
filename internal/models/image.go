package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Image job statuses
const (
	ImageStatusPending   = "pending"
	ImageStatusSucceeded = "succeeded"
	ImageStatusFailed    = "failed"
)

// ImageJob tracks one artwork generation delegated to the task platform
type ImageJob struct {
	ID         uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID     string    `gorm:"size:191;not null;index" json:"user_id"`
	PersonaID  uuid.UUID `gorm:"type:uuid;not null;index" json:"persona_id"`
	Prompt     string    `gorm:"type:text" json:"prompt"`
	Cost       int       `gorm:"not null" json:"cost"`
	Status     string    `gorm:"size:16;not null;default:pending;index" json:"status"`
	ExternalID string    `gorm:"size:191" json:"external_id,omitempty"`
	ImageURL   string    `json:"image_url,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	Persona *Persona `gorm:"foreignKey:PersonaID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
}

// BeforeCreate assigns the id so it can be sent to the task platform as a reference
func (j *ImageJob) BeforeCreate(*gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	return nil
}

// RequestImageRequest is the body of POST /personas/:id/images
type RequestImageRequest struct {
	Prompt string `json:"prompt" binding:"max=2000"`
}

// CompleteImageRequest is the task platform callback body
type CompleteImageRequest struct {
	ExternalID string `json:"external_id"`
	ImageURL   string `json:"image_url" binding:"omitempty,url"`
	Error      string `json:"error"`
}
