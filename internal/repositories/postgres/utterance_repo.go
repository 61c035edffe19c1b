package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/polyvox/polyvox/internal/models"
)

type UtteranceRepo interface {
	CreateUtterance(ctx context.Context, rec *models.UtteranceRecord) error
	CreateTranslationsBulk(ctx context.Context, recs []models.TranslationRecord) error
	ListByMeeting(ctx context.Context, meetingID string, limit int) ([]models.UtteranceRecord, error)
}

type utteranceRepo struct {
	db *gorm.DB
}

func NewUtteranceRepo(db *gorm.DB) UtteranceRepo {
	return &utteranceRepo{db: db}
}

func (r *utteranceRepo) CreateUtterance(ctx context.Context, rec *models.UtteranceRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *utteranceRepo) CreateTranslationsBulk(ctx context.Context, recs []models.TranslationRecord) error {
	if len(recs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&recs).Error
}

func (r *utteranceRepo) ListByMeeting(ctx context.Context, meetingID string, limit int) ([]models.UtteranceRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.UtteranceRecord
	err := r.db.WithContext(ctx).
		Where("meeting_id = ?", meetingID).
		Order("sequence ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
