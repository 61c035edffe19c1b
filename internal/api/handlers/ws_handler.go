package handlers

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/polyvox/polyvox/internal/realtime"
	"github.com/polyvox/polyvox/internal/utils"
)

// pcmBytesPerMS is the byte rate of LINEAR16 mono audio at 16 kHz. Used to
// derive chunk duration when the client does not send one.
const pcmBytesPerMS = 32

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

type WSHandler struct {
	orchestrator *realtime.Orchestrator
	sessions     *realtime.SessionStore
	registry     *realtime.Registry
	log          *logrus.Logger
	upgrader     websocket.Upgrader
}

func NewWSHandler(o *realtime.Orchestrator, sessions *realtime.SessionStore, registry *realtime.Registry, log *logrus.Logger) *WSHandler {
	return &WSHandler{
		orchestrator: o,
		sessions:     sessions,
		registry:     registry,
		log:          log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // TODO: restrict origin in prod
		},
	}
}

type wsClientMsg struct {
	Type string `json:"type"`

	// audio
	Data       string `json:"data"` // base64 PCM
	DurationMS int64  `json:"duration_ms"`

	// text_input
	Text           string `json:"text"`
	SourceLanguage string `json:"source_language"`

	// language_change
	Language string `json:"language"`
}

// wsConn serializes writes; gorilla connections allow one writer at a time.
type wsConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func (w *wsConn) WriteText(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.c.SetWriteDeadline(time.Now().Add(writeWait))
	return w.c.WriteMessage(websocket.TextMessage, b)
}

func (w *wsConn) WritePing() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.c.SetWriteDeadline(time.Now().Add(writeWait))
	return w.c.WriteMessage(websocket.PingMessage, nil)
}

func (w *wsConn) Close() error {
	return w.c.Close()
}

type pinger interface {
	WritePing() error
}

// pingLoop keeps otherwise idle connections alive. The read deadline is
// refreshed only by incoming frames and pongs, so listen-only viewers would
// time out without server-initiated pings.
func pingLoop(p pinger, period time.Duration, stop <-chan struct{}) {
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if err := p.WritePing(); err != nil {
				return
			}
		}
	}
}

// MeetingWS is the realtime meeting connection. Inbound message types:
// audio, audio_end, text_input, language_change, ping. Outbound: subtitle,
// participant_joined, participant_left, language_changed, meeting_ended,
// pong, error.
func (h *WSHandler) MeetingWS(c *gin.Context) {
	meetingID := c.Param("meeting_id")
	participantID := c.Query("participant_id")
	name := c.Query("name")
	lang := c.DefaultQuery("preferred_language", "ko")

	if meetingID == "" || participantID == "" {
		writeError(c, utils.E(utils.CodeInvalidArgument, "WSHandler.MeetingWS", "meeting_id and participant_id are required", nil))
		return
	}
	if name == "" {
		name = participantID
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrade already wrote the response in most cases
		return
	}

	wc := &wsConn{c: conn}
	handle, err := h.registry.Register(meetingID, participantID, name, lang, wc)
	if err != nil {
		payload, _ := json.Marshal(gin.H{"type": "error", "code": utils.CodeConflict, "message": "participant already connected"})
		_ = wc.WriteText(payload)
		_ = conn.Close()
		return
	}

	h.sessions.AddParticipant(meetingID, participantID, name, lang, handle.ID)

	log := h.log.WithFields(logrus.Fields{
		"meeting_id":     meetingID,
		"participant_id": participantID,
	})
	log.Info("websocket connected")

	h.broadcastPresence(meetingID, "participant_joined", participantID, lang)

	defer func() {
		h.registry.Unregister(handle)
		if handle.Superseded() {
			// a reconnect took over this participant; its handler owns
			// the session state and presence now
			log.Info("websocket superseded by reconnect")
			return
		}
		h.orchestrator.DropStream(meetingID, participantID)
		if removed, err := h.sessions.RemoveParticipant(meetingID, participantID, handle.ID); err == nil && removed {
			h.broadcastPresence(meetingID, "participant_left", participantID, handle.PreferredLanguage())
		}
		log.Info("websocket disconnected")
	}()

	ctx := c.Request.Context()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go pingLoop(wc, pingPeriod, stopPing)

	for {
		_, data, rerr := conn.ReadMessage()
		if rerr != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg wsClientMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = wc.WriteText([]byte(`{"type":"error","code":"INVALID_ARGUMENT","message":"invalid json"}`))
			continue
		}

		switch msg.Type {
		case "audio":
			raw := msg.Data
			if i := strings.Index(raw, ","); i >= 0 {
				raw = raw[i+1:] // strip data:...;base64,
			}
			audio, derr := base64.StdEncoding.DecodeString(raw)
			if derr != nil || len(audio) == 0 {
				_ = wc.WriteText([]byte(`{"type":"error","code":"INVALID_ARGUMENT","message":"invalid audio payload"}`))
				continue
			}
			durMS := msg.DurationMS
			if durMS <= 0 {
				durMS = int64(len(audio)) / pcmBytesPerMS
			}
			h.orchestrator.HandleAudio(ctx, meetingID, participantID, audio, durMS)

		case "audio_end":
			// end of speech: run whatever is buffered, even below the
			// usual duration threshold
			h.orchestrator.FlushAudio(ctx, meetingID, participantID)

		case "text_input":
			if strings.TrimSpace(msg.Text) == "" {
				_ = wc.WriteText([]byte(`{"type":"error","code":"INVALID_ARGUMENT","message":"text is required"}`))
				continue
			}
			h.orchestrator.HandleText(ctx, meetingID, participantID, msg.Text, msg.SourceLanguage)

		case "language_change":
			if msg.Language == "" {
				_ = wc.WriteText([]byte(`{"type":"error","code":"INVALID_ARGUMENT","message":"language is required"}`))
				continue
			}
			h.orchestrator.ChangeLanguage(handle, msg.Language)
			payload, _ := json.Marshal(gin.H{
				"type": "language_changed",
				"data": gin.H{"language": msg.Language},
			})
			_ = wc.WriteText(payload)

		case "ping":
			_ = wc.WriteText([]byte(`{"type":"pong"}`))

		default:
			_ = wc.WriteText([]byte(`{"type":"error","code":"INVALID_ARGUMENT","message":"unknown message type"}`))
		}
	}
}

func (h *WSHandler) broadcastPresence(meetingID, event, participantID, lang string) {
	payload, err := json.Marshal(gin.H{
		"type": event,
		"data": gin.H{
			"participantId":     participantID,
			"preferredLanguage": lang,
		},
	})
	if err != nil {
		return
	}
	h.registry.Broadcast(meetingID, func(string) ([]byte, error) { return payload, nil })
}
