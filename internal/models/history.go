package models

import (
	"time"

	"gorm.io/datatypes"
)

// UtteranceRecord is the durable row written for final utterances.
type UtteranceRecord struct {
	ID               string         `gorm:"column:id;type:uuid;primaryKey" json:"id" bson:"_id"`
	MeetingID        string         `gorm:"column:meeting_id;type:text;index" json:"meeting_id" bson:"meeting_id"`
	ParticipantID    string         `gorm:"column:participant_id;type:text;index" json:"participant_id" bson:"participant_id"`
	SpeakerName      string         `gorm:"column:speaker_name;type:text" json:"speaker_name" bson:"speaker_name"`
	OriginalLanguage string         `gorm:"column:original_language;type:text" json:"original_language" bson:"original_language"`
	OriginalText     string         `gorm:"column:original_text;type:text" json:"original_text" bson:"original_text"`
	Confidence       float64        `gorm:"column:confidence" json:"confidence" bson:"confidence"`
	Sequence         int64          `gorm:"column:sequence" json:"sequence" bson:"sequence"`
	Timestamp        time.Time      `gorm:"column:timestamp;type:timestamptz;index" json:"timestamp" bson:"timestamp"`
	Metadata         datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty" bson:"metadata,omitempty"`
}

func (UtteranceRecord) TableName() string { return "utterances" }

// TranslationRecord stores one translated rendering of an utterance.
type TranslationRecord struct {
	ID                string `gorm:"column:id;type:uuid;primaryKey" json:"id" bson:"_id"`
	UtteranceID       string `gorm:"column:utterance_id;type:uuid;index" json:"utterance_id" bson:"utterance_id"`
	TargetLanguage    string `gorm:"column:target_language;type:text" json:"target_language" bson:"target_language"`
	TranslatedText    string `gorm:"column:translated_text;type:text" json:"translated_text" bson:"translated_text"`
	TranslationEngine string `gorm:"column:translation_engine;type:text" json:"translation_engine" bson:"translation_engine"`
}

func (TranslationRecord) TableName() string { return "utterance_translations" }
