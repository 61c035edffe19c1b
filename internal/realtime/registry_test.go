package realtime

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/polyvox/polyvox/internal/utils"
)

type fakeSender struct {
	mu     sync.Mutex
	msgs   [][]byte
	fail   bool
	closed bool
}

func (f *fakeSender) WriteText(b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("send failed")
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	f.msgs = append(f.msgs, cp)
	return nil
}

func (f *fakeSender) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSender) messages() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.msgs))
	copy(out, f.msgs)
	return out
}

func TestRegistry_RegisterSupersedes(t *testing.T) {
	r := NewRegistry(false, nil)

	s1 := &fakeSender{}
	c1, err := r.Register("m1", "alice", "Alice", "en", s1)
	if err != nil {
		t.Fatalf("first register failed: %v", err)
	}

	s2 := &fakeSender{}
	c2, err := r.Register("m1", "alice", "Alice", "en", s2)
	if err != nil {
		t.Fatalf("superseding register failed: %v", err)
	}

	if !s1.closed {
		t.Error("expected prior connection to be closed")
	}
	if r.Count("m1") != 1 {
		t.Errorf("expected 1 connection, got %d", r.Count("m1"))
	}
	if c1 == c2 {
		t.Error("expected distinct handles")
	}

	// sends to the superseded handle must fail without touching transport
	if err := c1.send([]byte("x")); err == nil {
		t.Error("expected send on superseded connection to fail")
	}
	if len(s1.messages()) != 0 {
		t.Error("superseded transport must not receive writes")
	}

	// the old handle knows it was replaced; the new one does not
	if !c1.Superseded() {
		t.Error("replaced handle must report supersession")
	}
	if c2.Superseded() {
		t.Error("live handle must not report supersession")
	}

	// a plain disconnect is not a supersession
	r.Unregister(c2)
	if c2.Superseded() {
		t.Error("unregistered handle must not report supersession")
	}
}

func TestRegistry_StrictDuplicate(t *testing.T) {
	r := NewRegistry(true, nil)

	if _, err := r.Register("m1", "alice", "Alice", "en", &fakeSender{}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	_, err := r.Register("m1", "alice", "Alice", "en", &fakeSender{})
	if err == nil {
		t.Fatal("expected duplicate registration to fail in strict mode")
	}
	if !errors.Is(err, utils.ErrDuplicateParticipant) {
		t.Errorf("expected ErrDuplicateParticipant, got %v", err)
	}
	if !utils.IsCode(err, utils.CodeConflict) {
		t.Errorf("expected CONFLICT code, got %v", err)
	}
}

func TestRegistry_BroadcastPerLanguage(t *testing.T) {
	r := NewRegistry(false, nil)

	sa := &fakeSender{}
	sb := &fakeSender{}
	sc := &fakeSender{}
	r.Register("m1", "a", "A", "en", sa)
	r.Register("m1", "b", "B", "ko", sb)
	r.Register("m1", "c", "C", "en", sc)

	builds := map[string]int{}
	r.Broadcast("m1", func(lang string) ([]byte, error) {
		builds[lang]++
		return []byte("msg:" + lang), nil
	})

	// exactly once per distinct language, not per connection
	if builds["en"] != 1 || builds["ko"] != 1 {
		t.Errorf("expected one build per language, got %v", builds)
	}

	// same-language connections receive identical payloads
	am, cm := sa.messages(), sc.messages()
	if len(am) != 1 || len(cm) != 1 || string(am[0]) != string(cm[0]) {
		t.Errorf("expected identical payloads for same language, got %q vs %q", am, cm)
	}
	if string(am[0]) != "msg:en" {
		t.Errorf("unexpected payload %q", am[0])
	}
	if bm := sb.messages(); len(bm) != 1 || string(bm[0]) != "msg:ko" {
		t.Errorf("unexpected ko payload %v", bm)
	}
}

func TestRegistry_SendFailureRemovesOnlyFailingConnection(t *testing.T) {
	r := NewRegistry(false, nil)

	good := &fakeSender{}
	bad := &fakeSender{fail: true}
	r.Register("m1", "a", "A", "en", good)
	r.Register("m1", "b", "B", "en", bad)

	r.Broadcast("m1", func(lang string) ([]byte, error) { return []byte("hello"), nil })

	if len(good.messages()) != 1 {
		t.Errorf("healthy connection should receive the message, got %d", len(good.messages()))
	}
	if r.Count("m1") != 1 {
		t.Errorf("failing connection should be unregistered, count=%d", r.Count("m1"))
	}
	if !bad.closed {
		t.Error("failing connection transport should be closed")
	}

	// a subsequent broadcast must not error and delivers only to the survivor
	r.Broadcast("m1", func(lang string) ([]byte, error) { return []byte("again"), nil })
	if len(good.messages()) != 2 {
		t.Errorf("expected 2 messages on survivor, got %d", len(good.messages()))
	}
}

func TestRegistry_Participants(t *testing.T) {
	r := NewRegistry(false, nil)
	r.Register("m1", "b", "Bob", "ko", &fakeSender{})
	r.Register("m1", "a", "Alice", "en", &fakeSender{})
	r.Register("m2", "x", "X", "ja", &fakeSender{})

	ps := r.Participants("m1")
	if len(ps) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(ps))
	}
	if ps[0].ParticipantID != "a" || ps[1].ParticipantID != "b" {
		t.Errorf("expected sorted snapshot, got %v", ps)
	}
	if ps[0].PreferredLanguage != "en" {
		t.Errorf("unexpected language %q", ps[0].PreferredLanguage)
	}

	if got := r.Participants("missing"); len(got) != 0 {
		t.Errorf("expected empty snapshot for unknown meeting, got %v", got)
	}
}

func TestRegistry_SendTo(t *testing.T) {
	r := NewRegistry(false, nil)
	s := &fakeSender{}
	r.Register("m1", "a", "A", "en", s)

	if err := r.SendTo("a", []byte("direct")); err != nil {
		t.Fatalf("SendTo failed: %v", err)
	}
	if len(s.messages()) != 1 || string(s.msgs[0]) != "direct" {
		t.Errorf("unexpected messages %v", s.messages())
	}

	if err := r.SendTo("ghost", []byte("x")); !utils.IsCode(err, utils.CodeNotFound) {
		t.Errorf("expected NOT_FOUND for unknown participant, got %v", err)
	}
}

func TestRegistry_ConcurrentRegisterBroadcast(t *testing.T) {
	r := NewRegistry(false, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pid := fmt.Sprintf("p%d", i)
			c, err := r.Register("m1", pid, pid, "en", &fakeSender{})
			if err != nil {
				t.Errorf("register: %v", err)
				return
			}
			r.Broadcast("m1", func(lang string) ([]byte, error) { return []byte("x"), nil })
			r.Unregister(c)
		}(i)
	}
	wg.Wait()

	if r.Count("m1") != 0 {
		t.Errorf("expected empty registry, got %d", r.Count("m1"))
	}
}
