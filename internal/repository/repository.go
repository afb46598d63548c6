// Package repository holds the PostgreSQL persistence of the service.
// Ownership is part of every mutating WHERE clause; a row owned by someone
// else is indistinguishable from a missing one.
package repository

import (
	"errors"
	"fmt"

	"persona/backend/internal/models"
	apperrors "persona/backend/pkg/errors"

	"gorm.io/gorm"
)

// Migrate creates or updates every table
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// notFound maps gorm's record-not-found onto the domain error
func notFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.NotFoundf(format, args...)
	}
	return err
}
