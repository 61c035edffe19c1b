package services

import (
	"bytes"
	"context"

	"github.com/sirupsen/logrus"

	"github.com/polyvox/polyvox/internal/storage"
)

// ArchiveService uploads final audio segments for later review. Best
// effort: failures are logged and the pipeline is never affected.
type ArchiveService struct {
	uploader storage.Uploader
	log      *logrus.Logger
}

func NewArchiveService(uploader storage.Uploader, log *logrus.Logger) *ArchiveService {
	if log == nil {
		log = logrus.New()
	}
	return &ArchiveService{uploader: uploader, log: log}
}

// SegmentObjectName is the storage path of one archived audio segment.
func SegmentObjectName(meetingID, utteranceID string) string {
	return "meetings/" + meetingID + "/segments/" + utteranceID + ".pcm"
}

func (s *ArchiveService) ArchiveSegment(ctx context.Context, meetingID, utteranceID string, audio []byte) {
	object := SegmentObjectName(meetingID, utteranceID)
	if _, err := s.uploader.Upload(ctx, object, "audio/L16", bytes.NewReader(audio)); err != nil {
		s.log.WithFields(logrus.Fields{
			"meeting_id":   meetingID,
			"utterance_id": utteranceID,
		}).WithError(err).Warn("audio archive upload failed")
	}
}
