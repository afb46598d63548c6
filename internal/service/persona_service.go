package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"persona/backend/internal/models"
	"persona/backend/internal/repository"
	"persona/backend/pkg/cache"
	apperrors "persona/backend/pkg/errors"
	"persona/backend/pkg/logger"

	"github.com/google/uuid"
)

// Public listing paging bounds
const (
	DefaultPublicLimit = 20
	MaxPublicLimit     = 100
)

// PersonaService manages personas and their immutable versions
type PersonaService struct {
	repo     repository.PersonaRepository
	cache    cache.Cache
	cacheTTL time.Duration
	aiModel  string
}

// NewPersonaService creates the service. defaultModel is recorded on
// versions created without an explicit model.
func NewPersonaService(repo repository.PersonaRepository, c cache.Cache, cacheTTL time.Duration, defaultModel string) *PersonaService {
	if c == nil {
		c = cache.Noop{}
	}
	if cacheTTL <= 0 {
		cacheTTL = cachedTTL
	}
	return &PersonaService{repo: repo, cache: c, cacheTTL: cacheTTL, aiModel: defaultModel}
}

func (s *PersonaService) newVersion(data models.CharacterData, aiModel, note string) (*models.PersonaVersion, error) {
	if strings.TrimSpace(data.Name) == "" {
		return nil, apperrors.Validationf("name is required")
	}
	if aiModel == "" {
		aiModel = s.aiModel
	}
	v, err := models.NewPersonaVersion(data, aiModel, note)
	if err != nil {
		return nil, apperrors.Validationf("%s", err.Error())
	}
	return v, nil
}

// CreatePersona stores a persona together with its first version
func (s *PersonaService) CreatePersona(ctx context.Context, ownerID string, req models.CreatePersonaRequest) (*models.Persona, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, apperrors.Validationf("title is required")
	}
	version, err := s.newVersion(req.Data, req.AIModel, req.Note)
	if err != nil {
		return nil, err
	}

	persona := &models.Persona{OwnerID: ownerID, Title: title, Visibility: models.VisibilityPrivate}
	if err := s.repo.Create(ctx, persona, version); err != nil {
		return nil, fmt.Errorf("create persona: %w", err)
	}

	logger.FromContext(ctx).Info("Persona created", "persona_id", persona.ID, "owner_id", ownerID)
	return persona, nil
}

// CreateVersion appends a version and makes it current
func (s *PersonaService) CreateVersion(ctx context.Context, ownerID string, personaID uuid.UUID, req models.CreateVersionRequest) (*models.PersonaVersion, error) {
	if req.Version != nil && *req.Version < 1 {
		return nil, apperrors.Validationf("version must be positive")
	}
	version, err := s.newVersion(req.Data, req.AIModel, req.Note)
	if err != nil {
		return nil, err
	}
	if err := s.repo.CreateVersion(ctx, ownerID, personaID, version, req.Version); err != nil {
		return nil, err
	}
	s.invalidate(ctx, personaID)
	return version, nil
}

func (s *PersonaService) SetCurrentVersion(ctx context.Context, ownerID string, personaID, versionID uuid.UUID) (*models.Persona, error) {
	if err := s.repo.SetCurrentVersion(ctx, ownerID, personaID, versionID); err != nil {
		return nil, err
	}
	s.invalidate(ctx, personaID)
	return s.repo.Get(ctx, ownerID, personaID)
}

// DeleteVersion removes a version other than the current one
func (s *PersonaService) DeleteVersion(ctx context.Context, ownerID string, personaID, versionID uuid.UUID) error {
	if err := s.repo.DeleteVersion(ctx, ownerID, personaID, versionID); err != nil {
		return err
	}
	s.invalidate(ctx, personaID)
	return nil
}

func (s *PersonaService) GetPersona(ctx context.Context, ownerID string, personaID uuid.UUID) (*models.Persona, error) {
	return s.repo.Get(ctx, ownerID, personaID)
}

func (s *PersonaService) ListPersonas(ctx context.Context, ownerID string) ([]models.Persona, error) {
	return s.repo.List(ctx, ownerID)
}

func (s *PersonaService) ListVersions(ctx context.Context, ownerID string, personaID uuid.UUID) ([]models.PersonaVersion, error) {
	return s.repo.ListVersions(ctx, ownerID, personaID)
}

func (s *PersonaService) DeletePersona(ctx context.Context, ownerID string, personaID uuid.UUID) error {
	if err := s.repo.Delete(ctx, ownerID, personaID); err != nil {
		return err
	}
	s.invalidate(ctx, personaID)
	return nil
}

func (s *PersonaService) Publish(ctx context.Context, ownerID string, personaID uuid.UUID) (*models.Persona, error) {
	return s.setVisibility(ctx, ownerID, personaID, models.VisibilityPublic)
}

func (s *PersonaService) Unpublish(ctx context.Context, ownerID string, personaID uuid.UUID) (*models.Persona, error) {
	return s.setVisibility(ctx, ownerID, personaID, models.VisibilityPrivate)
}

func (s *PersonaService) setVisibility(ctx context.Context, ownerID string, personaID uuid.UUID, visibility string) (*models.Persona, error) {
	persona, err := s.repo.SetVisibility(ctx, ownerID, personaID, visibility)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, personaID)
	logger.FromContext(ctx).Info("Persona visibility changed", "persona_id", personaID, "visibility", visibility)
	return persona, nil
}

// GetPublic returns a published persona, served from the read cache
func (s *PersonaService) GetPublic(ctx context.Context, personaID uuid.UUID) (*models.Persona, error) {
	key := cache.PublicPersonaKey(personaID)
	var cached models.Persona
	if s.lookup(ctx, key, &cached) {
		return &cached, nil
	}

	persona, err := s.repo.GetPublic(ctx, personaID)
	if err != nil {
		return nil, err
	}
	s.store(ctx, key, persona)
	return persona, nil
}

// ListPublic returns one page of published personas, newest first
func (s *PersonaService) ListPublic(ctx context.Context, limit, offset int) ([]models.Persona, error) {
	if limit <= 0 {
		limit = DefaultPublicLimit
	}
	if limit > MaxPublicLimit {
		limit = MaxPublicLimit
	}
	if offset < 0 {
		return nil, apperrors.Validationf("offset must not be negative")
	}

	key := cache.PublicPersonaListKey(limit, offset)
	var cached []models.Persona
	if s.lookup(ctx, key, &cached) {
		return cached, nil
	}

	personas, err := s.repo.ListPublic(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	if personas == nil {
		personas = []models.Persona{}
	}
	s.store(ctx, key, personas)
	return personas, nil
}

func (s *PersonaService) lookup(ctx context.Context, key string, dest any) bool {
	hit, err := s.cache.Get(ctx, key, dest)
	if err != nil {
		logger.FromContext(ctx).LogError(err, "Cache read failed", "key", key)
		return false
	}
	return hit
}

func (s *PersonaService) store(ctx context.Context, key string, value any) {
	if err := s.cache.Set(ctx, key, value, s.cacheTTL); err != nil {
		logger.FromContext(ctx).LogError(err, "Cache write failed", "key", key)
	}
}

// invalidate drops every public view a persona mutation can change
func (s *PersonaService) invalidate(ctx context.Context, personaID uuid.UUID) {
	invalidate(ctx, s.cache, cache.PublicPersonaKey(personaID))
	invalidatePrefix(ctx, s.cache, cache.PublicPersonaListPrefix)
}
