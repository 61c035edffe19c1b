package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/polyvox/polyvox/internal/models"
)

type UtteranceRepo interface {
	CreateUtterance(ctx context.Context, rec *models.UtteranceRecord) error
	CreateTranslationsBulk(ctx context.Context, recs []models.TranslationRecord) error
	ListByMeeting(ctx context.Context, meetingID string, limit int) ([]models.UtteranceRecord, error)
}

type utteranceRepo struct {
	utterances   *mongo.Collection
	translations *mongo.Collection
}

func NewUtteranceRepo(db *mongo.Database) UtteranceRepo {
	return &utteranceRepo{
		utterances:   db.Collection("utterances"),
		translations: db.Collection("utterance_translations"),
	}
}

func (r *utteranceRepo) CreateUtterance(ctx context.Context, rec *models.UtteranceRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	_, err := r.utterances.InsertOne(ctx, rec)
	return err
}

func (r *utteranceRepo) CreateTranslationsBulk(ctx context.Context, recs []models.TranslationRecord) error {
	if len(recs) == 0 {
		return nil
	}
	docs := make([]any, len(recs))
	for i := range recs {
		docs[i] = recs[i]
	}
	_, err := r.translations.InsertMany(ctx, docs)
	return err
}

func (r *utteranceRepo) ListByMeeting(ctx context.Context, meetingID string, limit int) ([]models.UtteranceRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	cur, err := r.utterances.Find(ctx,
		bson.M{"meeting_id": meetingID},
		options.Find().SetSort(bson.D{{Key: "sequence", Value: 1}}).SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var rows []models.UtteranceRecord
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}
