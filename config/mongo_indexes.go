package config

import (
	"context"
	"errors"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDatabase returns the application database, honoring MONGO_DB.
func MongoDatabase() *mongo.Database {
	name := os.Getenv("MONGO_DB")
	if name == "" {
		name = "polyvox"
	}
	return MongoClient.Database(name)
}

func EnsureMongoIndexes() error {
	if MongoClient == nil {
		return errors.New("MongoClient is nil; call InitMongo() first")
	}
	db := MongoDatabase()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	utterances := db.Collection("utterances")
	_, err := utterances.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "meeting_id", Value: 1}, {Key: "sequence", Value: 1}},
			Options: options.Index().
				SetName("uniq_meeting_sequence").
				SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "meeting_id", Value: 1}, {Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("by_meeting_ts"),
		},
	})
	if err != nil {
		return err
	}

	translations := db.Collection("utterance_translations")
	_, err = translations.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "utterance_id", Value: 1}, {Key: "target_language", Value: 1}},
			Options: options.Index().
				SetName("uniq_utterance_lang").
				SetUnique(true),
		},
	})
	return err
}
