package repository

import (
	"context"
	"errors"
	"time"

	"persona/backend/internal/models"
	apperrors "persona/backend/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PersonaRepository interface {
	Create(ctx context.Context, persona *models.Persona, first *models.PersonaVersion) error
	CreateVersion(ctx context.Context, ownerID string, personaID uuid.UUID, version *models.PersonaVersion, requested *int) error
	SetCurrentVersion(ctx context.Context, ownerID string, personaID, versionID uuid.UUID) error
	DeleteVersion(ctx context.Context, ownerID string, personaID, versionID uuid.UUID) error
	Get(ctx context.Context, ownerID string, personaID uuid.UUID) (*models.Persona, error)
	GetVisible(ctx context.Context, userID string, personaID uuid.UUID) (*models.Persona, error)
	List(ctx context.Context, ownerID string) ([]models.Persona, error)
	ListVersions(ctx context.Context, ownerID string, personaID uuid.UUID) ([]models.PersonaVersion, error)
	Delete(ctx context.Context, ownerID string, personaID uuid.UUID) error
	SetVisibility(ctx context.Context, ownerID string, personaID uuid.UUID, visibility string) (*models.Persona, error)
	GetPublic(ctx context.Context, personaID uuid.UUID) (*models.Persona, error)
	ListPublic(ctx context.Context, limit, offset int) ([]models.Persona, error)
}

type GormPersonaRepository struct {
	db *gorm.DB
}

func NewGormPersonaRepository(db *gorm.DB) *GormPersonaRepository {
	return &GormPersonaRepository{db: db}
}

// Create stores the persona with version 1 as its current version, all or nothing
func (r *GormPersonaRepository) Create(ctx context.Context, persona *models.Persona, first *models.PersonaVersion) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		persona.CurrentVersionID = nil
		if persona.Visibility == "" {
			persona.Visibility = models.VisibilityPrivate
		}
		if err := tx.Omit(clause.Associations).Create(persona).Error; err != nil {
			return err
		}

		first.PersonaID = persona.ID
		first.Version = 1
		if err := tx.Create(first).Error; err != nil {
			return err
		}

		if err := tx.Model(persona).Update("current_version_id", first.ID).Error; err != nil {
			return err
		}
		persona.CurrentVersionID = &first.ID
		persona.CurrentVersion = first
		return nil
	})
}

// CreateVersion appends a version and makes it current. The persona row is
// locked so concurrent edits get distinct numbers.
func (r *GormPersonaRepository) CreateVersion(ctx context.Context, ownerID string, personaID uuid.UUID, version *models.PersonaVersion, requested *int) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var persona models.Persona
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND owner_id = ?", personaID, ownerID).
			First(&persona).Error
		if err != nil {
			return notFound(err, "persona %s", personaID)
		}

		var currentMax int
		err = tx.Model(&models.PersonaVersion{}).
			Where("persona_id = ?", personaID).
			Pluck("COALESCE(MAX(version), 0)", &currentMax).Error
		if err != nil {
			return err
		}

		number, err := models.NextVersionNumber(currentMax, requested)
		if err != nil {
			return apperrors.Validationf("%s", err.Error())
		}

		version.PersonaID = personaID
		version.Version = number
		if err := tx.Create(version).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperrors.Validationf("version %d already exists", number)
			}
			return err
		}

		return tx.Model(&models.Persona{}).Where("id = ?", personaID).Updates(map[string]any{
			"current_version_id": version.ID,
			"updated_at":         time.Now(),
		}).Error
	})
}

// SetCurrentVersion repoints the persona in one statement that also checks
// ownership and that the version belongs to the persona
func (r *GormPersonaRepository) SetCurrentVersion(ctx context.Context, ownerID string, personaID, versionID uuid.UUID) error {
	belongs := r.db.Model(&models.PersonaVersion{}).Select("1").Where("id = ? AND persona_id = ?", versionID, personaID)
	res := r.db.WithContext(ctx).Model(&models.Persona{}).
		Where("id = ? AND owner_id = ?", personaID, ownerID).
		Where("EXISTS (?)", belongs).
		Updates(map[string]any{"current_version_id": versionID, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFoundf("version %s of persona %s", versionID, personaID)
	}
	return nil
}

// DeleteVersion removes a non-current version in one statement. When
// nothing was deleted it tells a current version apart from a missing one.
func (r *GormPersonaRepository) DeleteVersion(ctx context.Context, ownerID string, personaID, versionID uuid.UUID) error {
	db := r.db.WithContext(ctx)
	owned := r.db.Model(&models.Persona{}).Select("id").Where("id = ? AND owner_id = ?", personaID, ownerID)
	current := r.db.Model(&models.Persona{}).Select("current_version_id").Where("id = ? AND current_version_id IS NOT NULL", personaID)

	res := db.Where("id = ? AND persona_id = ?", versionID, personaID).
		Where("persona_id IN (?)", owned).
		Where("id NOT IN (?)", current).
		Delete(&models.PersonaVersion{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var count int64
	err := db.Model(&models.Persona{}).
		Where("id = ? AND owner_id = ? AND current_version_id = ?", personaID, ownerID, versionID).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return apperrors.Validationf("version %s is the current version and cannot be deleted", versionID)
	}
	return apperrors.NotFoundf("version %s of persona %s", versionID, personaID)
}

func (r *GormPersonaRepository) Get(ctx context.Context, ownerID string, personaID uuid.UUID) (*models.Persona, error) {
	return r.first(ctx, "persona %s", personaID, func(db *gorm.DB) *gorm.DB {
		return db.Where("id = ? AND owner_id = ?", personaID, ownerID)
	})
}

// GetVisible returns a persona the user owns or that is public
func (r *GormPersonaRepository) GetVisible(ctx context.Context, userID string, personaID uuid.UUID) (*models.Persona, error) {
	return r.first(ctx, "persona %s", personaID, func(db *gorm.DB) *gorm.DB {
		return db.Where("id = ? AND (owner_id = ? OR visibility = ?)", personaID, userID, models.VisibilityPublic)
	})
}

func (r *GormPersonaRepository) GetPublic(ctx context.Context, personaID uuid.UUID) (*models.Persona, error) {
	return r.first(ctx, "persona %s", personaID, func(db *gorm.DB) *gorm.DB {
		return db.Where("id = ? AND visibility = ?", personaID, models.VisibilityPublic)
	})
}

func (r *GormPersonaRepository) first(ctx context.Context, what string, id uuid.UUID, scope func(*gorm.DB) *gorm.DB) (*models.Persona, error) {
	var persona models.Persona
	if err := scope(r.db.WithContext(ctx)).First(&persona).Error; err != nil {
		return nil, notFound(err, what, id)
	}
	personas := []models.Persona{persona}
	if err := r.attachCurrent(ctx, personas); err != nil {
		return nil, err
	}
	return &personas[0], nil
}

func (r *GormPersonaRepository) List(ctx context.Context, ownerID string) ([]models.Persona, error) {
	var personas []models.Persona
	err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("updated_at DESC").Find(&personas).Error
	if err != nil {
		return nil, err
	}
	return personas, r.attachCurrent(ctx, personas)
}

func (r *GormPersonaRepository) ListPublic(ctx context.Context, limit, offset int) ([]models.Persona, error) {
	var personas []models.Persona
	err := r.db.WithContext(ctx).
		Where("visibility = ?", models.VisibilityPublic).
		Order("published_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&personas).Error
	if err != nil {
		return nil, err
	}
	return personas, r.attachCurrent(ctx, personas)
}

// attachCurrent loads the current version of every persona in one query
func (r *GormPersonaRepository) attachCurrent(ctx context.Context, personas []models.Persona) error {
	ids := make([]uuid.UUID, 0, len(personas))
	for _, p := range personas {
		if p.CurrentVersionID != nil {
			ids = append(ids, *p.CurrentVersionID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	var versions []models.PersonaVersion
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&versions).Error; err != nil {
		return err
	}
	byID := make(map[uuid.UUID]*models.PersonaVersion, len(versions))
	for i := range versions {
		byID[versions[i].ID] = &versions[i]
	}
	for i := range personas {
		if personas[i].CurrentVersionID != nil {
			personas[i].CurrentVersion = byID[*personas[i].CurrentVersionID]
		}
	}
	return nil
}

func (r *GormPersonaRepository) ListVersions(ctx context.Context, ownerID string, personaID uuid.UUID) ([]models.PersonaVersion, error) {
	if _, err := r.Get(ctx, ownerID, personaID); err != nil {
		return nil, err
	}
	var versions []models.PersonaVersion
	err := r.db.WithContext(ctx).
		Where("persona_id = ?", personaID).
		Order("version DESC").
		Find(&versions).Error
	return versions, err
}

// Delete removes the persona and, through the cascading key, its versions
func (r *GormPersonaRepository) Delete(ctx context.Context, ownerID string, personaID uuid.UUID) error {
	res := r.db.WithContext(ctx).Where("id = ? AND owner_id = ?", personaID, ownerID).Delete(&models.Persona{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFoundf("persona %s", personaID)
	}
	return nil
}

// SetVisibility publishes or unpublishes a persona. Publishing keeps the
// first publication time.
func (r *GormPersonaRepository) SetVisibility(ctx context.Context, ownerID string, personaID uuid.UUID, visibility string) (*models.Persona, error) {
	updates := map[string]any{"visibility": visibility, "updated_at": time.Now()}
	if visibility == models.VisibilityPublic {
		updates["published_at"] = gorm.Expr("COALESCE(published_at, ?)", time.Now())
	} else {
		updates["published_at"] = nil
	}

	res := r.db.WithContext(ctx).Model(&models.Persona{}).
		Where("id = ? AND owner_id = ?", personaID, ownerID).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, apperrors.NotFoundf("persona %s", personaID)
	}
	return r.Get(ctx, ownerID, personaID)
}
