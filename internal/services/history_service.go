package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/polyvox/polyvox/internal/models"
)

// UtteranceRepository is the durable store behind the realtime pipeline.
// Implemented by the postgres and mongo repositories.
type UtteranceRepository interface {
	CreateUtterance(ctx context.Context, rec *models.UtteranceRecord) error
	CreateTranslationsBulk(ctx context.Context, recs []models.TranslationRecord) error
	ListByMeeting(ctx context.Context, meetingID string, limit int) ([]models.UtteranceRecord, error)
}

// HistoryService persists final utterances and their translations. It is
// invoked fire-and-forget from the pipeline: every failure is logged here
// and never surfaces to delivery.
type HistoryService struct {
	repo   UtteranceRepository
	engine string
	log    *logrus.Logger
}

func NewHistoryService(repo UtteranceRepository, engine string, log *logrus.Logger) *HistoryService {
	if engine == "" {
		engine = "google"
	}
	if log == nil {
		log = logrus.New()
	}
	return &HistoryService{repo: repo, engine: engine, log: log}
}

func (s *HistoryService) SaveUtterance(ctx context.Context, u models.Utterance, translations map[string]string) {
	log := s.log.WithFields(logrus.Fields{
		"meeting_id":   u.MeetingID,
		"utterance_id": u.ID,
	})

	rec := &models.UtteranceRecord{
		ID:               u.ID,
		MeetingID:        u.MeetingID,
		ParticipantID:    u.ParticipantID,
		SpeakerName:      u.SpeakerName,
		OriginalLanguage: u.SourceLanguage,
		OriginalText:     u.Text,
		Confidence:       u.Confidence,
		Sequence:         u.Sequence,
		Timestamp:        u.Timestamp,
	}
	if err := s.repo.CreateUtterance(ctx, rec); err != nil {
		log.WithError(err).Error("failed to save utterance")
		return
	}

	recs := make([]models.TranslationRecord, 0, len(translations))
	for lang, text := range translations {
		if lang == u.SourceLanguage {
			continue
		}
		recs = append(recs, models.TranslationRecord{
			ID:                uuid.NewString(),
			UtteranceID:       u.ID,
			TargetLanguage:    lang,
			TranslatedText:    text,
			TranslationEngine: s.engine,
		})
	}
	if len(recs) == 0 {
		return
	}
	if err := s.repo.CreateTranslationsBulk(ctx, recs); err != nil {
		log.WithError(err).Error("failed to save translations")
	}
}

// ListByMeeting returns a meeting's stored utterances in sequence order.
func (s *HistoryService) ListByMeeting(ctx context.Context, meetingID string, limit int) ([]models.UtteranceRecord, error) {
	return s.repo.ListByMeeting(ctx, meetingID, limit)
}
