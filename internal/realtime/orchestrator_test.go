package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/polyvox/polyvox/internal/models"
	"github.com/polyvox/polyvox/internal/providers/stt"
)

type fakeSTT struct {
	mu      sync.Mutex
	results []stt.Result
	err     error
	calls   int
}

func (f *fakeSTT) Transcribe(ctx context.Context, audio []byte, language string) (stt.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return stt.Result{}, f.err
	}
	if len(f.results) == 0 {
		return stt.Result{}, nil
	}
	res := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return res, nil
}

func (f *fakeSTT) Close() error { return nil }

type capturedSave struct {
	utterance    models.Utterance
	translations map[string]string
}

type fakePersister struct {
	mu    sync.Mutex
	saves []capturedSave
	done  chan struct{}
}

func newFakePersister() *fakePersister {
	return &fakePersister{done: make(chan struct{}, 16)}
}

func (f *fakePersister) SaveUtterance(ctx context.Context, u models.Utterance, translations map[string]string) {
	f.mu.Lock()
	f.saves = append(f.saves, capturedSave{utterance: u, translations: translations})
	f.mu.Unlock()
	f.done <- struct{}{}
}

type subtitleMsg struct {
	Type string                 `json:"type"`
	Data models.SubtitlePayload `json:"data"`
}

func decodeSubtitles(t *testing.T, sender *fakeSender) []subtitleMsg {
	t.Helper()
	var out []subtitleMsg
	for _, raw := range sender.messages() {
		var msg subtitleMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("invalid payload %q: %v", raw, err)
		}
		if msg.Type == "subtitle" {
			out = append(out, msg)
		}
	}
	return out
}

func pipelineFixture(transcriber stt.Provider, translator *fakeTranslator) (*Orchestrator, *SessionStore, *Registry) {
	sessions := NewSessionStore([]string{"ko", "en"})
	registry := NewRegistry(false, nil)
	buffers := NewSegmentBuffer(500, 5000)
	fanout := NewFanout(translator, 100, 4, nil)
	o := NewOrchestrator(sessions, registry, buffers, transcriber, fanout, Options{}, nil)
	return o, sessions, registry
}

func TestOrchestrator_AudioToSubtitles(t *testing.T) {
	transcriber := &fakeSTT{results: []stt.Result{{Text: "Hello", Confidence: 0.95, IsFinal: true}}}
	translator := newFakeTranslator()
	translator.override["ko"] = "안녕하세요"
	o, sessions, registry := pipelineFixture(transcriber, translator)

	alice := &fakeSender{}
	bob := &fakeSender{}
	registry.Register("m1", "alice", "Alice", "en", alice)
	registry.Register("m1", "bob", "Bob", "ko", bob)
	sessions.AddParticipant("m1", "alice", "Alice", "en", "")
	sessions.AddParticipant("m1", "bob", "Bob", "ko", "")

	persister := newFakePersister()
	o.WithPersister(persister)

	o.processSegment(context.Background(), "m1", "alice", []byte("pcm"))

	aliceSubs := decodeSubtitles(t, alice)
	bobSubs := decodeSubtitles(t, bob)
	if len(aliceSubs) != 1 || len(bobSubs) != 1 {
		t.Fatalf("expected one subtitle each, got %d/%d", len(aliceSubs), len(bobSubs))
	}

	a, b := aliceSubs[0].Data, bobSubs[0].Data
	if a.TranslatedText != "Hello" || a.TargetLanguage != "en" {
		t.Errorf("unexpected en subtitle %+v", a)
	}
	if b.TranslatedText != "안녕하세요" || b.TargetLanguage != "ko" {
		t.Errorf("unexpected ko subtitle %+v", b)
	}
	if a.Sequence != b.Sequence {
		t.Errorf("both renderings must carry the same sequence: %d vs %d", a.Sequence, b.Sequence)
	}
	if a.SpeakerName != "Alice" || a.OriginalText != "Hello" || a.OriginalLanguage != "en" {
		t.Errorf("unexpected subtitle metadata %+v", a)
	}

	<-persister.done
	persister.mu.Lock()
	defer persister.mu.Unlock()
	if len(persister.saves) != 1 {
		t.Fatalf("final utterance must be persisted once, got %d", len(persister.saves))
	}
	if persister.saves[0].utterance.Text != "Hello" {
		t.Errorf("unexpected persisted utterance %+v", persister.saves[0].utterance)
	}
}

func TestOrchestrator_EmptyTranscriptionDropped(t *testing.T) {
	transcriber := &fakeSTT{results: []stt.Result{{Text: "   ", Confidence: 0.9, IsFinal: true}}}
	translator := newFakeTranslator()
	o, sessions, registry := pipelineFixture(transcriber, translator)

	s := &fakeSender{}
	registry.Register("m1", "alice", "Alice", "en", s)
	sessions.AddParticipant("m1", "alice", "Alice", "en", "")

	o.processSegment(context.Background(), "m1", "alice", []byte("pcm"))

	if subs := decodeSubtitles(t, s); len(subs) != 0 {
		t.Errorf("whitespace-only result must be dropped, got %v", subs)
	}
}

func TestOrchestrator_TranscriptionErrorIsContained(t *testing.T) {
	transcriber := &fakeSTT{err: errors.New("backend down")}
	translator := newFakeTranslator()
	o, sessions, registry := pipelineFixture(transcriber, translator)

	s := &fakeSender{}
	registry.Register("m1", "alice", "Alice", "en", s)
	sessions.AddParticipant("m1", "alice", "Alice", "en", "")

	// must not panic or deliver anything
	o.processSegment(context.Background(), "m1", "alice", []byte("pcm"))
	if subs := decodeSubtitles(t, s); len(subs) != 0 {
		t.Errorf("failed transcription must not deliver, got %v", subs)
	}

	// the pipeline keeps processing later events
	transcriber.mu.Lock()
	transcriber.err = nil
	transcriber.results = []stt.Result{{Text: "still alive", Confidence: 0.9, IsFinal: true}}
	transcriber.mu.Unlock()

	o.processSegment(context.Background(), "m1", "alice", []byte("pcm"))
	if subs := decodeSubtitles(t, s); len(subs) != 1 {
		t.Errorf("pipeline should recover, got %d subtitles", len(subs))
	}
}

func TestOrchestrator_TextInputAndOrdering(t *testing.T) {
	translator := newFakeTranslator()
	o, sessions, registry := pipelineFixture(&fakeSTT{}, translator)

	s := &fakeSender{}
	registry.Register("m1", "alice", "Alice", "en", s)
	sessions.AddParticipant("m1", "alice", "Alice", "en", "")

	o.HandleText(context.Background(), "m1", "alice", "one", "en")
	o.HandleText(context.Background(), "m1", "alice", "two", "en")
	o.HandleText(context.Background(), "m1", "alice", "three", "en")

	subs := decodeSubtitles(t, s)
	if len(subs) != 3 {
		t.Fatalf("expected 3 subtitles, got %d", len(subs))
	}
	var last int64
	for i, sub := range subs {
		if sub.Data.Sequence <= last {
			t.Errorf("sequence must be strictly increasing, got %d after %d", sub.Data.Sequence, last)
		}
		last = sub.Data.Sequence
		if !sub.Data.IsFinal {
			t.Errorf("text input is always final, msg %d", i)
		}
		if sub.Data.Confidence != 1.0 {
			t.Errorf("text input carries confidence 1.0, got %f", sub.Data.Confidence)
		}
	}
	if subs[0].Data.OriginalText != "one" || subs[2].Data.OriginalText != "three" {
		t.Errorf("delivered order must match input order: %v", subs)
	}
}

func TestOrchestrator_EndedMeetingIsNoOp(t *testing.T) {
	transcriber := &fakeSTT{results: []stt.Result{{Text: "late", Confidence: 0.9, IsFinal: true}}}
	translator := newFakeTranslator()
	o, sessions, registry := pipelineFixture(transcriber, translator)

	s := &fakeSender{}
	registry.Register("m1", "alice", "Alice", "en", s)
	sessions.AddParticipant("m1", "alice", "Alice", "en", "")
	o.EndMeeting("m1")

	// delivery for an ended meeting becomes a no-op
	o.processSegment(context.Background(), "m1", "alice", []byte("pcm"))

	for _, raw := range s.messages() {
		var msg struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(raw, &msg)
		if msg.Type == "subtitle" {
			t.Errorf("no subtitle may be delivered after EndMeeting, got %s", raw)
		}
	}
	if registry.Count("m1") != 0 {
		t.Errorf("EndMeeting must drop all connections, count=%d", registry.Count("m1"))
	}
}

func TestOrchestrator_HandleAudioBuffersUntilThreshold(t *testing.T) {
	transcriber := &fakeSTT{results: []stt.Result{{Text: "buffered", Confidence: 0.9, IsFinal: true}}}
	translator := newFakeTranslator()
	o, sessions, registry := pipelineFixture(transcriber, translator)

	s := &fakeSender{}
	registry.Register("m1", "alice", "Alice", "en", s)
	sessions.AddParticipant("m1", "alice", "Alice", "en", "")

	o.HandleAudio(context.Background(), "m1", "alice", []byte("x"), 200)
	transcriber.mu.Lock()
	calls := transcriber.calls
	transcriber.mu.Unlock()
	if calls != 0 {
		t.Error("below-threshold audio must not reach transcription")
	}

	o.HandleAudio(context.Background(), "m1", "alice", []byte("y"), 300)
	o.Shutdown(context.Background()) // waits for the async segment

	transcriber.mu.Lock()
	calls = transcriber.calls
	transcriber.mu.Unlock()
	if calls != 1 {
		t.Errorf("threshold crossing must trigger exactly one transcription, got %d", calls)
	}
}

func TestStreamQueue_GrantsTurnsInArrivalOrder(t *testing.T) {
	q := &streamQueue{}

	ready := func(ch <-chan struct{}) bool {
		select {
		case <-ch:
			return true
		default:
			return false
		}
	}

	first := q.acquire()
	if !ready(first) {
		t.Fatal("uncontended acquire must be granted immediately")
	}

	second := q.acquire()
	third := q.acquire()
	if ready(second) || ready(third) {
		t.Fatal("waiters must not be granted while the turn is held")
	}

	q.release()
	if !ready(second) {
		t.Fatal("release must grant the oldest waiter")
	}
	if ready(third) {
		t.Fatal("later waiters must keep waiting")
	}

	q.release()
	if !ready(third) {
		t.Fatal("second release must grant the next waiter")
	}

	q.release()
	if !ready(q.acquire()) {
		t.Fatal("drained queue must grant immediately again")
	}
}

// gatedSTT blocks its first transcription until the gate opens, letting a
// test hold one segment in flight while more audio arrives.
type gatedSTT struct {
	mu      sync.Mutex
	texts   []string
	calls   int
	entered chan struct{}
	gate    chan struct{}
}

func (g *gatedSTT) Transcribe(ctx context.Context, audio []byte, language string) (stt.Result, error) {
	g.mu.Lock()
	g.calls++
	n := g.calls
	text := g.texts[n-1]
	g.mu.Unlock()
	if n == 1 {
		g.entered <- struct{}{}
		<-g.gate
	}
	return stt.Result{Text: text, Confidence: 0.9, IsFinal: true}, nil
}

func (g *gatedSTT) Close() error { return nil }

func TestOrchestrator_SegmentsDeliverInArrivalOrder(t *testing.T) {
	transcriber := &gatedSTT{
		texts:   []string{"one", "two"},
		entered: make(chan struct{}),
		gate:    make(chan struct{}),
	}
	translator := newFakeTranslator()
	o, sessions, registry := pipelineFixture(transcriber, translator)

	s := &fakeSender{}
	registry.Register("m1", "alice", "Alice", "en", s)
	sessions.AddParticipant("m1", "alice", "Alice", "en", "")

	persister := newFakePersister()
	o.WithPersister(persister)

	o.HandleAudio(context.Background(), "m1", "alice", []byte("a"), 500)
	<-transcriber.entered // first segment is mid-transcription
	o.HandleAudio(context.Background(), "m1", "alice", []byte("b"), 500)
	close(transcriber.gate)

	<-persister.done
	<-persister.done

	subs := decodeSubtitles(t, s)
	if len(subs) != 2 {
		t.Fatalf("expected 2 subtitles, got %d", len(subs))
	}
	if subs[0].Data.OriginalText != "one" || subs[1].Data.OriginalText != "two" {
		t.Errorf("subtitles must deliver in arrival order, got %q then %q",
			subs[0].Data.OriginalText, subs[1].Data.OriginalText)
	}
	if subs[1].Data.Sequence <= subs[0].Data.Sequence {
		t.Errorf("sequence must increase across segments, got %d then %d",
			subs[0].Data.Sequence, subs[1].Data.Sequence)
	}
}

func TestOrchestrator_FallbackLanguageOnTranslateFailure(t *testing.T) {
	transcriber := &fakeSTT{results: []stt.Result{{Text: "Hello", Confidence: 0.9, IsFinal: true}}}
	translator := newFakeTranslator()
	translator.failFor["ko"] = true
	o, sessions, registry := pipelineFixture(transcriber, translator)

	bob := &fakeSender{}
	registry.Register("m1", "bob", "Bob", "ko", bob)
	sessions.AddParticipant("m1", "alice", "Alice", "en", "")
	sessions.AddParticipant("m1", "bob", "Bob", "ko", "")

	o.processSegment(context.Background(), "m1", "alice", []byte("pcm"))

	subs := decodeSubtitles(t, bob)
	if len(subs) != 1 {
		t.Fatalf("degraded delivery still happens, got %d", len(subs))
	}
	if subs[0].Data.TranslatedText != "Hello" {
		t.Errorf("failed language falls back to the original text, got %q", subs[0].Data.TranslatedText)
	}
}
