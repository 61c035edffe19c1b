package models

import "time"

// Utterance is one transcribed unit of speech or manually entered text.
// Immutable once created; Sequence is strictly increasing per meeting.
type Utterance struct {
	ID             string    `json:"id"`
	MeetingID      string    `json:"meeting_id"`
	ParticipantID  string    `json:"participant_id"`
	SpeakerName    string    `json:"speaker_name"`
	SourceLanguage string    `json:"source_language"`
	Text           string    `json:"text"`
	Confidence     float64   `json:"confidence"`
	Sequence       int64     `json:"sequence"`
	Timestamp      time.Time `json:"timestamp"`
	IsFinal        bool      `json:"is_final"`
}

// ParticipantSnapshot is a point-in-time view of one live connection.
type ParticipantSnapshot struct {
	ParticipantID     string    `json:"participantId"`
	Name              string    `json:"name"`
	PreferredLanguage string    `json:"preferredLanguage"`
	ConnectedAt       time.Time `json:"connectedAt"`
}

// SubtitlePayload is the per-language subtitle message body sent to clients.
type SubtitlePayload struct {
	SpeakerName      string  `json:"speakerName"`
	OriginalLanguage string  `json:"originalLanguage"`
	OriginalText     string  `json:"originalText"`
	TranslatedText   string  `json:"translatedText"`
	TargetLanguage   string  `json:"targetLanguage"`
	Sequence         int64   `json:"sequence"`
	Confidence       float64 `json:"confidence"`
	Timestamp        string  `json:"timestamp"`
	IsFinal          bool    `json:"isFinal"`
}
