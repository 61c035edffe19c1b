package workers

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/polyvox/polyvox/internal/realtime"
)

// MeetingEnder tears down a meeting and everything attached to it.
type MeetingEnder interface {
	EndMeeting(meetingID string)
}

// MeetingSweeper periodically ends meetings that have been empty for
// longer than IdleAfter. Without it, meetings whose participants all
// dropped without an explicit end would hold state forever.
type MeetingSweeper struct {
	Sessions *realtime.SessionStore
	Ender    MeetingEnder

	Interval  time.Duration
	IdleAfter time.Duration

	Logger *logrus.Logger
}

func (w *MeetingSweeper) Start(ctx context.Context) error {
	if w.Sessions == nil || w.Ender == nil {
		return errors.New("MeetingSweeper missing dependency: Sessions/Ender must be set")
	}
	if w.Interval <= 0 {
		w.Interval = 30 * time.Second
	}
	if w.IdleAfter <= 0 {
		w.IdleAfter = 2 * time.Minute
	}
	if w.Logger == nil {
		w.Logger = logrus.New()
	}

	go w.run(ctx)
	return nil
}

func (w *MeetingSweeper) run(ctx context.Context) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

func (w *MeetingSweeper) sweep() {
	cutoff := time.Now().Add(-w.IdleAfter)
	for _, id := range w.Sessions.MeetingIDs() {
		since := w.Sessions.IdleSince(id)
		if since.IsZero() || since.After(cutoff) {
			continue
		}
		w.Logger.WithFields(logrus.Fields{
			"meeting_id": id,
			"idle_since": since,
		}).Info("ending idle meeting")
		w.Ender.EndMeeting(id)
	}
}
