package realtime

import (
	"sort"
	"sync"
	"testing"
)

func TestSessionStore_NextSequenceConcurrent(t *testing.T) {
	s := NewSessionStore(nil)
	s.GetOrCreate("m1")

	const n = 200
	seqs := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			seq, err := s.NextSequence("m1")
			if err != nil {
				t.Errorf("NextSequence: %v", err)
				return
			}
			seqs[i] = seq
		}(i)
	}
	wg.Wait()

	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	for i, seq := range seqs {
		if seq != int64(i+1) {
			t.Fatalf("expected dense strictly-increasing sequence, got %d at %d", seq, i)
		}
	}
}

func TestSessionStore_TargetLanguages(t *testing.T) {
	s := NewSessionStore([]string{"ko", "en"})
	s.GetOrCreate("m1")

	// no participants: configured defaults
	langs := s.TargetLanguages("m1")
	if len(langs) != 2 || langs[0] != "ko" || langs[1] != "en" {
		t.Errorf("expected defaults, got %v", langs)
	}

	s.AddParticipant("m1", "a", "A", "en", "")
	s.AddParticipant("m1", "b", "B", "ko", "")
	s.AddParticipant("m1", "c", "C", "en", "") // duplicate language

	langs = s.TargetLanguages("m1")
	sort.Strings(langs)
	if len(langs) != 2 || langs[0] != "en" || langs[1] != "ko" {
		t.Errorf("expected union {en ko}, got %v", langs)
	}

	if _, err := s.RemoveParticipant("m1", "b", ""); err != nil {
		t.Fatalf("RemoveParticipant: %v", err)
	}
	langs = s.TargetLanguages("m1")
	if len(langs) != 1 || langs[0] != "en" {
		t.Errorf("expected {en} after leave, got %v", langs)
	}
}

func TestSessionStore_ReconnectKeepsState(t *testing.T) {
	s := NewSessionStore(nil)
	s.AddParticipant("m1", "a", "A", "en", "conn1")
	// reconnect: the new connection overwrites the state
	s.AddParticipant("m1", "a", "A", "fr", "conn2")

	// the old connection's cleanup must not erase the new registration
	removed, err := s.RemoveParticipant("m1", "a", "conn1")
	if err != nil {
		t.Fatalf("RemoveParticipant: %v", err)
	}
	if removed {
		t.Fatal("stale connection id must not remove a reconnected participant")
	}
	p, ok := s.Participant("m1", "a")
	if !ok || p.Language != "fr" {
		t.Errorf("expected surviving state with fr, got %+v ok=%v", p, ok)
	}
	if langs := s.TargetLanguages("m1"); len(langs) != 1 || langs[0] != "fr" {
		t.Errorf("expected {fr}, got %v", langs)
	}

	// the owning connection still removes normally
	removed, err = s.RemoveParticipant("m1", "a", "conn2")
	if err != nil || !removed {
		t.Fatalf("expected owning connection to remove state, removed=%v err=%v", removed, err)
	}
	if _, ok := s.Participant("m1", "a"); ok {
		t.Error("participant state should be gone")
	}
}

func TestSessionStore_UpdateLanguage(t *testing.T) {
	s := NewSessionStore(nil)
	s.AddParticipant("m1", "a", "A", "en", "")

	if err := s.UpdateLanguage("m1", "a", "ja"); err != nil {
		t.Fatalf("UpdateLanguage: %v", err)
	}
	p, ok := s.Participant("m1", "a")
	if !ok || p.Language != "ja" {
		t.Errorf("expected ja, got %+v ok=%v", p, ok)
	}
}

func TestSessionStore_EndSessionSoftFail(t *testing.T) {
	s := NewSessionStore(nil)
	s.AddParticipant("m1", "a", "A", "en", "")
	s.EndSession("m1")

	if s.Active("m1") {
		t.Error("meeting should be inactive after EndSession")
	}

	// late-arriving operations must fail softly, never panic
	if _, err := s.RemoveParticipant("m1", "a", ""); err == nil {
		t.Error("expected soft error for ended meeting")
	}
	if err := s.UpdateLanguage("m1", "a", "ko"); err == nil {
		t.Error("expected soft error for ended meeting")
	}
	if _, err := s.NextSequence("m1"); err == nil {
		t.Error("expected soft error for ended meeting")
	}
	// TargetLanguages falls back to defaults rather than erroring
	if langs := s.TargetLanguages("m1"); len(langs) == 0 {
		t.Error("expected fallback languages for ended meeting")
	}

	// ending twice is a no-op
	s.EndSession("m1")
}
