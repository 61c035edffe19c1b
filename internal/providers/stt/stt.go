package stt

import "context"

// Result is one transcription outcome. Empty or whitespace-only Text means
// the segment produced no utterance; callers drop it silently.
type Result struct {
	Text       string
	Confidence float64
	IsFinal    bool
}

type Provider interface {
	// Transcribe recognizes one buffered audio segment. language is an
	// ISO 639-1 hint ("ko", "en"); providers map it to their own codes.
	Transcribe(ctx context.Context, audio []byte, language string) (Result, error)
	Close() error
}
