package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"boekuwzending-connect/internal/models"
)

// SettingsRepository stores the single integration settings row.
type SettingsRepository interface {
	// Get returns the settings row, creating an empty one on first use so
	// callers never deal with a missing row.
	Get(ctx context.Context) (*models.IntegrationSettings, error)
	Save(ctx context.Context, settings *models.IntegrationSettings) error
}

type settingsRepository struct {
	db *gorm.DB
}

// NewSettingsRepository creates a new settings repository.
func NewSettingsRepository(db *gorm.DB) SettingsRepository {
	return &settingsRepository{db: db}
}

func (r *settingsRepository) Get(ctx context.Context) (*models.IntegrationSettings, error) {
	var settings models.IntegrationSettings
	err := r.db.WithContext(ctx).First(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		settings = models.IntegrationSettings{ID: uuid.New()}
		if err := r.db.WithContext(ctx).Create(&settings).Error; err != nil {
			return nil, err
		}
		return &settings, nil
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

func (r *settingsRepository) Save(ctx context.Context, settings *models.IntegrationSettings) error {
	if settings.ID == uuid.Nil {
		settings.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Save(settings).Error
}
