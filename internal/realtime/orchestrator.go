package realtime

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/polyvox/polyvox/internal/models"
	"github.com/polyvox/polyvox/internal/providers/stt"
)

// Persister receives final utterances for durable storage. Calls are
// fire-and-forget; implementations log their own failures.
type Persister interface {
	SaveUtterance(ctx context.Context, u models.Utterance, translations map[string]string)
}

// Archiver receives the raw audio of final segments. Optional.
type Archiver interface {
	ArchiveSegment(ctx context.Context, meetingID, utteranceID string, audio []byte)
}

// Options are the tunables of the realtime pipeline.
type Options struct {
	MinBufferMS      int64
	MaxBufferMS      int64
	DefaultLanguages []string
	MaxWorkers       int
	CacheSize        int
	// MinConfidence drops transcriptions below this score.
	MinConfidence float64
}

// Orchestrator drives the pipeline: audio/text event -> session state ->
// buffer -> transcription -> translation fanout -> broadcast. All failures
// are contained here; one participant's bad segment never stalls another's.
type Orchestrator struct {
	log      *logrus.Logger
	sessions *SessionStore
	registry *Registry
	buffers  *SegmentBuffer
	stt      stt.Provider
	fanout   *Fanout

	persist Persister
	archive Archiver

	// sem bounds concurrent transcription calls.
	sem chan struct{}

	// streams serializes segment processing per (meeting, participant).
	// Turns are granted in arrival order, so utterances are sequenced and
	// delivered exactly as the audio arrived.
	streamMu sync.Mutex
	streams  map[string]*streamQueue

	minConfidence float64

	wg sync.WaitGroup
}

func NewOrchestrator(
	sessions *SessionStore,
	registry *Registry,
	buffers *SegmentBuffer,
	sttProvider stt.Provider,
	fanout *Fanout,
	opts Options,
	log *logrus.Logger,
) *Orchestrator {
	if log == nil {
		log = logrus.New()
	}
	workers := opts.MaxWorkers
	if workers <= 0 {
		workers = 8
	}
	return &Orchestrator{
		log:           log,
		sessions:      sessions,
		registry:      registry,
		buffers:       buffers,
		stt:           sttProvider,
		fanout:        fanout,
		sem:           make(chan struct{}, workers),
		streams:       make(map[string]*streamQueue),
		minConfidence: opts.MinConfidence,
	}
}

// WithPersister attaches the durable-storage collaborator.
func (o *Orchestrator) WithPersister(p Persister) *Orchestrator {
	o.persist = p
	return o
}

// WithArchiver attaches the audio archive collaborator.
func (o *Orchestrator) WithArchiver(a Archiver) *Orchestrator {
	o.archive = a
	return o
}

func streamKey(meetingID, participantID string) string {
	return meetingID + "/" + participantID
}

// streamQueue grants a stream's processing turns in acquire order, unlike a
// mutex, which hands contended locks to goroutines in arbitrary order.
type streamQueue struct {
	mu      sync.Mutex
	busy    bool
	waiters []chan struct{}
}

// acquire reserves the caller's place in line. The returned channel is
// closed once the turn is granted; the holder must call release.
func (q *streamQueue) acquire() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch := make(chan struct{})
	if !q.busy {
		q.busy = true
		close(ch)
		return ch
	}
	q.waiters = append(q.waiters, ch)
	return ch
}

func (q *streamQueue) release() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.waiters) > 0 {
		close(q.waiters[0])
		q.waiters = q.waiters[1:]
		return
	}
	q.busy = false
}

func (o *Orchestrator) stream(key string) *streamQueue {
	o.streamMu.Lock()
	defer o.streamMu.Unlock()
	q, ok := o.streams[key]
	if !ok {
		q = &streamQueue{}
		o.streams[key] = q
	}
	return q
}

// HandleAudio buffers one audio chunk. When the participant's buffer
// crosses the duration threshold, the segment is processed asynchronously;
// the caller's read loop is never blocked on transcription. The stream turn
// is reserved here, in the read loop, so back-to-back segments transcribe
// and deliver in arrival order.
func (o *Orchestrator) HandleAudio(ctx context.Context, meetingID, participantID string, audio []byte, durMS int64) {
	key := streamKey(meetingID, participantID)
	segment := o.buffers.AddChunk(key, audio, durMS)
	if segment == nil {
		return
	}

	q := o.stream(key)
	turn := q.acquire()
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		<-turn
		defer q.release()
		o.runSegment(ctx, meetingID, participantID, segment)
	}()
}

// FlushAudio processes whatever is buffered for the participant, if
// anything. Called when a connection signals end of speech or disconnects.
func (o *Orchestrator) FlushAudio(ctx context.Context, meetingID, participantID string) {
	key := streamKey(meetingID, participantID)
	segment := o.buffers.Flush(key)
	if segment == nil {
		return
	}
	q := o.stream(key)
	turn := q.acquire()
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		<-turn
		defer q.release()
		o.runSegment(ctx, meetingID, participantID, segment)
	}()
}

// HandleText runs a manually-entered text utterance through the same
// fanout and delivery path as transcribed speech. Always final.
func (o *Orchestrator) HandleText(ctx context.Context, meetingID, participantID, text, sourceLang string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	if sourceLang == "" {
		sourceLang = o.sourceLanguage(meetingID, participantID)
	}

	q := o.stream(streamKey(meetingID, participantID))
	<-q.acquire()
	defer q.release()

	o.deliver(ctx, meetingID, participantID, stt.Result{Text: text, Confidence: 1.0, IsFinal: true}, sourceLang, nil)
}

// processSegment runs one buffered segment through transcription and
// delivery, waiting for the stream turn first.
func (o *Orchestrator) processSegment(ctx context.Context, meetingID, participantID string, segment []byte) {
	q := o.stream(streamKey(meetingID, participantID))
	<-q.acquire()
	defer q.release()
	o.runSegment(ctx, meetingID, participantID, segment)
}

// runSegment transcribes and delivers one segment. Callers hold the stream
// turn.
func (o *Orchestrator) runSegment(ctx context.Context, meetingID, participantID string, segment []byte) {
	log := o.log.WithFields(logrus.Fields{
		"meeting_id":     meetingID,
		"participant_id": participantID,
	})

	select {
	case o.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}

	sourceLang := o.sourceLanguage(meetingID, participantID)
	res, err := o.stt.Transcribe(ctx, segment, sourceLang)
	<-o.sem

	if err != nil {
		log.WithError(err).Error("transcription failed, dropping segment")
		return
	}
	if strings.TrimSpace(res.Text) == "" {
		return
	}
	if o.minConfidence > 0 && res.Confidence < o.minConfidence {
		log.WithFields(logrus.Fields{"confidence": res.Confidence}).Debug("low-confidence result dropped")
		return
	}

	o.deliver(ctx, meetingID, participantID, res, sourceLang, segment)
}

// deliver fans the utterance out to every target language and broadcasts
// the per-language subtitles. Callers hold the stream lock.
func (o *Orchestrator) deliver(ctx context.Context, meetingID, participantID string, res stt.Result, sourceLang string, audio []byte) {
	log := o.log.WithFields(logrus.Fields{
		"meeting_id":     meetingID,
		"participant_id": participantID,
	})

	// the meeting may have ended while we were transcribing
	if !o.sessions.Active(meetingID) {
		log.Debug("meeting ended, dropping delivery")
		return
	}

	speakerName := participantID
	if p, ok := o.sessions.Participant(meetingID, participantID); ok && p.Name != "" {
		speakerName = p.Name
	}

	targets := o.sessions.TargetLanguages(meetingID)
	translations, _ := o.fanout.TranslateAll(ctx, res.Text, sourceLang, targets, res.IsFinal)

	seq, err := o.sessions.NextSequence(meetingID)
	if err != nil {
		return
	}

	utterance := models.Utterance{
		ID:             uuid.NewString(),
		MeetingID:      meetingID,
		ParticipantID:  participantID,
		SpeakerName:    speakerName,
		SourceLanguage: sourceLang,
		Text:           res.Text,
		Confidence:     res.Confidence,
		Sequence:       seq,
		Timestamp:      time.Now().UTC(),
		IsFinal:        res.IsFinal,
	}

	o.registry.Broadcast(meetingID, func(lang string) ([]byte, error) {
		translated, ok := translations[lang]
		if !ok {
			translated = res.Text
		}
		return json.Marshal(map[string]any{
			"type": "subtitle",
			"data": models.SubtitlePayload{
				SpeakerName:      utterance.SpeakerName,
				OriginalLanguage: utterance.SourceLanguage,
				OriginalText:     utterance.Text,
				TranslatedText:   translated,
				TargetLanguage:   lang,
				Sequence:         utterance.Sequence,
				Confidence:       utterance.Confidence,
				Timestamp:        utterance.Timestamp.Format(time.RFC3339Nano),
				IsFinal:          utterance.IsFinal,
			},
		})
	})

	if !res.IsFinal {
		return
	}

	if o.persist != nil {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			pctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			o.persist.SaveUtterance(pctx, utterance, translations)
		}()
	}

	if o.archive != nil && len(audio) > 0 {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			actx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			o.archive.ArchiveSegment(actx, meetingID, utterance.ID, audio)
		}()
	}
}

// ChangeLanguage updates a participant's preferred language in both the
// session state and the connection registry.
func (o *Orchestrator) ChangeLanguage(conn *Connection, lang string) {
	o.registry.SetPreferredLanguage(conn, lang)
	_ = o.sessions.UpdateLanguage(conn.MeetingID, conn.ParticipantID, lang)
}

// EndMeeting tears down a meeting: state freed, pending deliveries turned
// into no-ops, every connection notified then dropped.
func (o *Orchestrator) EndMeeting(meetingID string) {
	o.sessions.EndSession(meetingID)

	payload, _ := json.Marshal(map[string]any{"type": "meeting_ended", "data": map[string]any{"meetingId": meetingID}})
	o.registry.Broadcast(meetingID, func(string) ([]byte, error) { return payload, nil })
	o.registry.CloseMeeting(meetingID)

	o.streamMu.Lock()
	for key := range o.streams {
		if strings.HasPrefix(key, meetingID+"/") {
			delete(o.streams, key)
		}
	}
	o.streamMu.Unlock()
}

// DropStream clears a participant's buffered audio and stream queue after
// they leave.
func (o *Orchestrator) DropStream(meetingID, participantID string) {
	key := streamKey(meetingID, participantID)
	o.buffers.Clear(key)
	o.streamMu.Lock()
	delete(o.streams, key)
	o.streamMu.Unlock()
}

// Shutdown drains connections and waits for in-flight pipeline work.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.registry.Shutdown()
	o.buffers.ClearAll()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (o *Orchestrator) sourceLanguage(meetingID, participantID string) string {
	if p, ok := o.sessions.Participant(meetingID, participantID); ok && p.Language != "" {
		return p.Language
	}
	return "ko"
}
