package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Persona visibility
const (
	VisibilityPrivate = "private"
	VisibilityPublic  = "public"
)

// Persona is the mutable container over an immutable sequence of versions
type Persona struct {
	ID               uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OwnerID          string     `gorm:"size:191;not null;index" json:"owner_id"`
	Title            string     `gorm:"not null" json:"title"`
	CurrentVersionID *uuid.UUID `gorm:"type:uuid" json:"current_version_id"`
	Visibility       string     `gorm:"size:16;not null;default:private;index" json:"visibility"`
	PublishedAt      *time.Time `json:"published_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`

	Owner          *User            `gorm:"foreignKey:OwnerID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
	Versions       []PersonaVersion `gorm:"foreignKey:PersonaID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
	CurrentVersion *PersonaVersion  `gorm:"-" json:"current_version,omitempty"`
}

// BeforeCreate assigns the id up front so the first version can reference it
func (p *Persona) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// PersonaVersion is an immutable snapshot of a persona's character data
type PersonaVersion struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	PersonaID   uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_persona_versions_number,priority:1" json:"persona_id"`
	Version     int            `gorm:"not null;uniqueIndex:idx_persona_versions_number,priority:2" json:"version"`
	Name        string         `gorm:"not null" json:"name"`
	Age         int            `json:"age"`
	Gender      string         `json:"gender"`
	Appearance  string         `gorm:"type:text" json:"appearance"`
	Personality string         `gorm:"type:text" json:"personality"`
	Background  string         `gorm:"type:text" json:"background"`
	Summary     string         `gorm:"type:text" json:"summary"`
	Occupation  *string        `json:"occupation,omitempty"`
	Extensions  datatypes.JSON `gorm:"type:jsonb" json:"extensions,omitempty"`
	AIModel     string         `gorm:"column:ai_model;size:128" json:"ai_model"`
	Note        string         `json:"note,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// BeforeCreate assigns the id so the persona can point at it in the same transaction
func (v *PersonaVersion) BeforeCreate(*gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}

// CharacterData is the editable part of a persona version
type CharacterData struct {
	Name        string         `json:"name" binding:"required,max=200"`
	Age         int            `json:"age" binding:"min=0,max=100000"`
	Gender      string         `json:"gender" binding:"max=64"`
	Appearance  string         `json:"appearance"`
	Personality string         `json:"personality"`
	Background  string         `json:"background"`
	Summary     string         `json:"summary"`
	Occupation  *string        `json:"occupation,omitempty"`
	Extensions  map[string]any `json:"extensions,omitempty"`
}

// NewPersonaVersion builds an unsaved version from character data
func NewPersonaVersion(data CharacterData, aiModel, note string) (*PersonaVersion, error) {
	v := &PersonaVersion{
		Name:        data.Name,
		Age:         data.Age,
		Gender:      data.Gender,
		Appearance:  data.Appearance,
		Personality: data.Personality,
		Background:  data.Background,
		Summary:     data.Summary,
		Occupation:  data.Occupation,
		AIModel:     aiModel,
		Note:        note,
	}
	if len(data.Extensions) > 0 {
		raw, err := json.Marshal(data.Extensions)
		if err != nil {
			return nil, fmt.Errorf("encode extensions: %w", err)
		}
		v.Extensions = datatypes.JSON(raw)
	}
	return v, nil
}

// NextVersionNumber returns the number of a new version given the highest
// existing one. An explicit request must exceed every existing number.
func NextVersionNumber(currentMax int, requested *int) (int, error) {
	if requested == nil {
		return currentMax + 1, nil
	}
	if *requested <= currentMax {
		return 0, fmt.Errorf("version %d must be greater than %d", *requested, currentMax)
	}
	return *requested, nil
}

// CreatePersonaRequest is the body of POST /personas
type CreatePersonaRequest struct {
	Title   string        `json:"title" binding:"required,max=200"`
	Data    CharacterData `json:"data" binding:"required"`
	AIModel string        `json:"ai_model" binding:"max=128"`
	Note    string        `json:"note" binding:"max=1000"`
}

// CreateVersionRequest is the body of POST /personas/:id/versions
type CreateVersionRequest struct {
	Data    CharacterData `json:"data" binding:"required"`
	AIModel string        `json:"ai_model" binding:"max=128"`
	Note    string        `json:"note" binding:"max=1000"`
	Version *int          `json:"version" binding:"omitempty,min=1"`
}

// SetCurrentVersionRequest is the body of PUT /personas/:id/current-version
type SetCurrentVersionRequest struct {
	VersionID uuid.UUID `json:"version_id" binding:"required"`
}
