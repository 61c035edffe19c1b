package realtime

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/polyvox/polyvox/internal/models"
	"github.com/polyvox/polyvox/internal/utils"
)

// Sender is the transport half of a live connection. WS handlers pass a
// write-locked websocket wrapper; tests pass in-memory fakes.
type Sender interface {
	WriteText(b []byte) error
	Close() error
}

// Connection is a live bidirectional channel bound to one
// (meeting, participant) pair. The preferred language is mutable
// post-connect; everything else is fixed at registration.
type Connection struct {
	ID            string
	MeetingID     string
	ParticipantID string
	Name          string
	ConnectedAt   time.Time

	mu         sync.Mutex
	lang       string
	closed     bool
	superseded bool
	sender     Sender
}

// Superseded reports whether a newer connection for the same participant
// replaced this handle. The handler's deferred cleanup checks it so a
// reconnect never tears down the state the replacement just installed.
func (c *Connection) Superseded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.superseded
}

func (c *Connection) markSuperseded() {
	c.mu.Lock()
	c.superseded = true
	c.mu.Unlock()
}

func (c *Connection) PreferredLanguage() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lang
}

func (c *Connection) setLanguage(lang string) {
	c.mu.Lock()
	c.lang = lang
	c.mu.Unlock()
}

// send delivers one payload. A closed connection reports failure without
// touching the underlying transport, so a broadcast can never write to a
// connection that has already been unregistered.
func (c *Connection) send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return utils.E(utils.CodeUnavailable, "Connection.send", "connection closed", nil)
	}
	return c.sender.WriteText(payload)
}

func (c *Connection) close() {
	c.mu.Lock()
	already := c.closed
	c.closed = true
	c.mu.Unlock()
	if !already {
		_ = c.sender.Close()
	}
}

// Registry tracks live connections grouped by meeting and by participant.
// It owns connection handles exclusively; session state never holds one.
type Registry struct {
	mu            sync.Mutex
	byMeeting     map[string]map[*Connection]struct{}
	byParticipant map[string]*Connection

	strict bool
	log    *logrus.Logger
}

func NewRegistry(strict bool, log *logrus.Logger) *Registry {
	if log == nil {
		log = logrus.New()
	}
	return &Registry{
		byMeeting:     make(map[string]map[*Connection]struct{}),
		byParticipant: make(map[string]*Connection),
		strict:        strict,
		log:           log,
	}
}

// Register adds a connection for a participant. In strict mode a second
// registration for a connected participant fails with CodeConflict. By
// default it supersedes: the prior handle is unregistered and closed.
func (r *Registry) Register(meetingID, participantID, name, lang string, s Sender) (*Connection, error) {
	const op = "Registry.Register"

	if meetingID == "" || participantID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "meeting_id and participant_id are required", nil)
	}

	r.mu.Lock()
	prior := r.byParticipant[participantID]
	if prior != nil && r.strict {
		r.mu.Unlock()
		return nil, utils.E(utils.CodeConflict, op, "participant already connected", utils.ErrDuplicateParticipant)
	}
	if prior != nil {
		r.removeLocked(prior)
		prior.markSuperseded()
	}

	conn := &Connection{
		ID:            uuid.NewString(),
		MeetingID:     meetingID,
		ParticipantID: participantID,
		Name:          name,
		ConnectedAt:   time.Now().UTC(),
		lang:          lang,
		sender:        s,
	}

	set, ok := r.byMeeting[meetingID]
	if !ok {
		set = make(map[*Connection]struct{})
		r.byMeeting[meetingID] = set
	}
	set[conn] = struct{}{}
	r.byParticipant[participantID] = conn
	r.mu.Unlock()

	if prior != nil {
		prior.close()
		r.log.WithFields(logrus.Fields{
			"meeting_id":     meetingID,
			"participant_id": participantID,
		}).Info("superseded prior connection")
	}
	return conn, nil
}

// Unregister removes a connection and closes its transport. Safe to call
// more than once and for already-superseded handles.
func (r *Registry) Unregister(conn *Connection) {
	if conn == nil {
		return
	}
	r.mu.Lock()
	r.removeLocked(conn)
	r.mu.Unlock()
	conn.close()
}

// removeLocked detaches conn from both indexes. Caller holds r.mu.
func (r *Registry) removeLocked(conn *Connection) {
	if set, ok := r.byMeeting[conn.MeetingID]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(r.byMeeting, conn.MeetingID)
		}
	}
	if cur, ok := r.byParticipant[conn.ParticipantID]; ok && cur == conn {
		delete(r.byParticipant, conn.ParticipantID)
	}
}

func (r *Registry) SetPreferredLanguage(conn *Connection, lang string) {
	if conn == nil || lang == "" {
		return
	}
	conn.setLanguage(lang)
}

// Broadcast delivers one message per connection in a meeting. build is
// called exactly once per distinct preferred language present among the
// meeting's current connections; its result goes to every connection with
// that language. A failed send unregisters only the failing connection.
func (r *Registry) Broadcast(meetingID string, build func(lang string) ([]byte, error)) {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.byMeeting[meetingID]))
	for c := range r.byMeeting[meetingID] {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	byLang := make(map[string][]*Connection)
	for _, c := range conns {
		lang := c.PreferredLanguage()
		byLang[lang] = append(byLang[lang], c)
	}

	var failed []*Connection
	for lang, group := range byLang {
		payload, err := build(lang)
		if err != nil {
			r.log.WithFields(logrus.Fields{
				"meeting_id": meetingID,
				"language":   lang,
			}).WithError(err).Warn("broadcast payload build failed")
			continue
		}
		for _, c := range group {
			if serr := c.send(payload); serr != nil {
				failed = append(failed, c)
			}
		}
	}

	for _, c := range failed {
		r.log.WithFields(logrus.Fields{
			"meeting_id":     meetingID,
			"participant_id": c.ParticipantID,
		}).Warn("send failed, removing connection")
		r.Unregister(c)
	}
}

// SendTo delivers a payload to one participant's current connection.
func (r *Registry) SendTo(participantID string, payload []byte) error {
	const op = "Registry.SendTo"

	r.mu.Lock()
	conn := r.byParticipant[participantID]
	r.mu.Unlock()

	if conn == nil {
		return utils.E(utils.CodeNotFound, op, "participant not connected", nil)
	}
	if err := conn.send(payload); err != nil {
		r.Unregister(conn)
		return utils.E(utils.CodeUnavailable, op, "send failed", err)
	}
	return nil
}

// Participants returns a snapshot of the meeting's live connections,
// ordered by participant id for stable output.
func (r *Registry) Participants(meetingID string) []models.ParticipantSnapshot {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.byMeeting[meetingID]))
	for c := range r.byMeeting[meetingID] {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	out := make([]models.ParticipantSnapshot, 0, len(conns))
	for _, c := range conns {
		out = append(out, models.ParticipantSnapshot{
			ParticipantID:     c.ParticipantID,
			Name:              c.Name,
			PreferredLanguage: c.PreferredLanguage(),
			ConnectedAt:       c.ConnectedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out
}

// Count reports the number of live connections in a meeting.
func (r *Registry) Count(meetingID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byMeeting[meetingID])
}

// CloseMeeting drops every connection in a meeting.
func (r *Registry) CloseMeeting(meetingID string) {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.byMeeting[meetingID]))
	for c := range r.byMeeting[meetingID] {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		r.Unregister(c)
	}
}

// Shutdown drains every meeting. Used on process teardown.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.byMeeting))
	for id := range r.byMeeting {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.CloseMeeting(id)
	}
}
