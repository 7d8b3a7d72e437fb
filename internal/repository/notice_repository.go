package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"boekuwzending-connect/internal/models"
)

// NoticeRepository stores dismissible admin notices.
type NoticeRepository interface {
	Create(ctx context.Context, notice *models.AdminNotice) error
	ListActive(ctx context.Context) ([]models.AdminNotice, error)
	Dismiss(ctx context.Context, id uuid.UUID) error
}

type noticeRepository struct {
	db *gorm.DB
}

// NewNoticeRepository creates a new notice repository.
func NewNoticeRepository(db *gorm.DB) NoticeRepository {
	return &noticeRepository{db: db}
}

func (r *noticeRepository) Create(ctx context.Context, notice *models.AdminNotice) error {
	if notice.ID == uuid.Nil {
		notice.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(notice).Error
}

func (r *noticeRepository) ListActive(ctx context.Context) ([]models.AdminNotice, error) {
	var notices []models.AdminNotice
	err := r.db.WithContext(ctx).
		Where("dismissed = ?", false).
		Order("created_at DESC").
		Find(&notices).Error
	if err != nil {
		return nil, err
	}
	return notices, nil
}

func (r *noticeRepository) Dismiss(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&models.AdminNotice{}).
		Where("id = ?", id).
		Update("dismissed", true).Error
}
