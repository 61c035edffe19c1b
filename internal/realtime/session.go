package realtime

import (
	"sync"
	"time"

	"github.com/polyvox/polyvox/internal/utils"
)

// ParticipantState is the per-participant record inside a meeting. A
// participant id maps to at most one state per meeting.
type ParticipantState struct {
	Name     string
	Language string
	JoinedAt time.Time
	LeftAt   *time.Time

	// connID ties the state to the connection that created it, so a stale
	// handle cannot erase the state of a participant who reconnected.
	connID string
}

// MeetingState is the ephemeral state of one active meeting. It holds only
// ids and participant records, never connection handles.
type MeetingState struct {
	ID        string
	CreatedAt time.Time

	mu           sync.Mutex
	participants map[string]*ParticipantState
	seq          int64
	active       bool
	emptySince   time.Time
}

func newMeetingState(id string) *MeetingState {
	now := time.Now().UTC()
	return &MeetingState{
		ID:           id,
		CreatedAt:    now,
		participants: make(map[string]*ParticipantState),
		active:       true,
		emptySince:   now,
	}
}

func (m *MeetingState) addParticipant(id, name, lang, connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.participants[id] = &ParticipantState{
		Name:     name,
		Language: lang,
		JoinedAt: time.Now().UTC(),
		connID:   connID,
	}
	m.emptySince = time.Time{}
}

func (m *MeetingState) removeParticipant(id, connID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[id]
	if !ok {
		return false
	}
	if connID != "" && p.connID != "" && p.connID != connID {
		return false
	}
	now := time.Now().UTC()
	p.LeftAt = &now
	delete(m.participants, id)
	if len(m.participants) == 0 {
		m.emptySince = now
	}
	return true
}

// idleSince reports when the meeting last became empty. The zero time
// means participants are present.
func (m *MeetingState) idleSince() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.emptySince
}

func (m *MeetingState) updateLanguage(id, lang string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.participants[id]; ok {
		p.Language = lang
	}
}

func (m *MeetingState) participant(id string) (ParticipantState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[id]
	if !ok {
		return ParticipantState{}, false
	}
	return *p, true
}

func (m *MeetingState) nextSequence() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return m.seq
}

func (m *MeetingState) targetLanguages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]struct{}, len(m.participants))
	out := make([]string, 0, len(m.participants))
	for _, p := range m.participants {
		if p.Language == "" {
			continue
		}
		if _, dup := seen[p.Language]; dup {
			continue
		}
		seen[p.Language] = struct{}{}
		out = append(out, p.Language)
	}
	return out
}

func (m *MeetingState) end() {
	m.mu.Lock()
	m.active = false
	m.mu.Unlock()
}

// SessionStore is the process-wide registry of meeting state. Meetings are
// created on first join and freed when ended; operations on an unknown
// meeting fail softly with ErrSessionNotFound.
type SessionStore struct {
	mu       sync.Mutex
	meetings map[string]*MeetingState

	// defaults is the fallback target-language set for meetings where no
	// participant has declared a language.
	defaults []string
}

func NewSessionStore(defaultLanguages []string) *SessionStore {
	if len(defaultLanguages) == 0 {
		defaultLanguages = []string{"ko", "en"}
	}
	return &SessionStore{
		meetings: make(map[string]*MeetingState),
		defaults: defaultLanguages,
	}
}

func (s *SessionStore) GetOrCreate(meetingID string) *MeetingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.meetings[meetingID]; ok {
		return m
	}
	m := newMeetingState(meetingID)
	s.meetings[meetingID] = m
	return m
}

func (s *SessionStore) get(meetingID string) (*MeetingState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meetings[meetingID]
	if !ok {
		return nil, utils.E(utils.CodeNotFound, "SessionStore.get", "meeting not found", utils.ErrSessionNotFound)
	}
	return m, nil
}

// Active reports whether the meeting currently has state.
func (s *SessionStore) Active(meetingID string) bool {
	_, err := s.get(meetingID)
	return err == nil
}

// EndSession frees all state for a meeting. Later operations referencing
// the id become no-ops.
func (s *SessionStore) EndSession(meetingID string) {
	s.mu.Lock()
	m := s.meetings[meetingID]
	delete(s.meetings, meetingID)
	s.mu.Unlock()
	if m != nil {
		m.end()
	}
}

func (s *SessionStore) AddParticipant(meetingID, participantID, name, lang, connID string) {
	s.GetOrCreate(meetingID).addParticipant(participantID, name, lang, connID)
}

// RemoveParticipant drops a participant's state. A non-empty connID removes
// the state only when that connection created it; a reconnect overwrites the
// state with the new connection's id, so the old connection's deferred
// cleanup becomes a no-op regardless of how the two interleave.
func (s *SessionStore) RemoveParticipant(meetingID, participantID, connID string) (bool, error) {
	m, err := s.get(meetingID)
	if err != nil {
		return false, err
	}
	return m.removeParticipant(participantID, connID), nil
}

func (s *SessionStore) UpdateLanguage(meetingID, participantID, lang string) error {
	m, err := s.get(meetingID)
	if err != nil {
		return err
	}
	m.updateLanguage(participantID, lang)
	return nil
}

// Participant returns a copy of one participant's state.
func (s *SessionStore) Participant(meetingID, participantID string) (ParticipantState, bool) {
	m, err := s.get(meetingID)
	if err != nil {
		return ParticipantState{}, false
	}
	return m.participant(participantID)
}

// NextSequence returns the next strictly-increasing utterance sequence
// number for a meeting.
func (s *SessionStore) NextSequence(meetingID string) (int64, error) {
	m, err := s.get(meetingID)
	if err != nil {
		return 0, err
	}
	return m.nextSequence(), nil
}

// MeetingIDs returns the ids of all meetings that currently hold state.
func (s *SessionStore) MeetingIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.meetings))
	for id := range s.meetings {
		out = append(out, id)
	}
	return out
}

// IdleSince reports when a meeting last became empty. The zero time means
// the meeting has participants or does not exist.
func (s *SessionStore) IdleSince(meetingID string) time.Time {
	m, err := s.get(meetingID)
	if err != nil {
		return time.Time{}
	}
	return m.idleSince()
}

// TargetLanguages returns the union of the meeting participants' preferred
// languages, falling back to the configured default set when empty.
func (s *SessionStore) TargetLanguages(meetingID string) []string {
	m, err := s.get(meetingID)
	if err != nil {
		return append([]string(nil), s.defaults...)
	}
	langs := m.targetLanguages()
	if len(langs) == 0 {
		return append([]string(nil), s.defaults...)
	}
	return langs
}
