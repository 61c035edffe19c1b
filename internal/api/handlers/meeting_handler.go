package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/polyvox/polyvox/internal/providers/translate"
	"github.com/polyvox/polyvox/internal/realtime"
	"github.com/polyvox/polyvox/internal/services"
	"github.com/polyvox/polyvox/internal/storage"
	"github.com/polyvox/polyvox/internal/utils"
)

type MeetingHandler struct {
	orchestrator *realtime.Orchestrator
	registry     *realtime.Registry
	sessions     *realtime.SessionStore
	signer       storage.Signer
	history      *services.HistoryService
}

func NewMeetingHandler(o *realtime.Orchestrator, registry *realtime.Registry, sessions *realtime.SessionStore) *MeetingHandler {
	return &MeetingHandler{orchestrator: o, registry: registry, sessions: sessions}
}

// WithSigner enables signed download links for archived segments.
func (h *MeetingHandler) WithSigner(s storage.Signer) *MeetingHandler {
	h.signer = s
	return h
}

// WithHistory enables the stored-utterance read endpoint.
func (h *MeetingHandler) WithHistory(s *services.HistoryService) *MeetingHandler {
	h.history = s
	return h
}

// Participants lists the meeting's current live connections.
func (h *MeetingHandler) Participants(c *gin.Context) {
	meetingID := c.Param("meeting_id")
	if meetingID == "" {
		writeError(c, utils.E(utils.CodeInvalidArgument, "MeetingHandler.Participants", "meeting_id is required", nil))
		return
	}

	participants := h.registry.Participants(meetingID)
	c.JSON(http.StatusOK, gin.H{
		"participants": participants,
		"count":        len(participants),
	})
}

// End tears the meeting down: notifies and drops every connection, frees
// session state. Idempotent; ending an unknown meeting succeeds.
func (h *MeetingHandler) End(c *gin.Context) {
	meetingID := c.Param("meeting_id")
	if meetingID == "" {
		writeError(c, utils.E(utils.CodeInvalidArgument, "MeetingHandler.End", "meeting_id is required", nil))
		return
	}

	h.orchestrator.EndMeeting(meetingID)
	c.JSON(http.StatusOK, gin.H{"status": "ended", "meeting_id": meetingID})
}

// Utterances returns a meeting's stored utterance history in sequence
// order. Requires a history backend.
func (h *MeetingHandler) Utterances(c *gin.Context) {
	const op = "MeetingHandler.Utterances"

	if h.history == nil {
		writeError(c, utils.E(utils.CodeUnavailable, op, "utterance history is not enabled", nil))
		return
	}
	meetingID := c.Param("meeting_id")
	if meetingID == "" {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "meeting_id is required", nil))
		return
	}

	limit := 100
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	rows, err := h.history.ListByMeeting(c.Request.Context(), meetingID, limit)
	if err != nil {
		writeError(c, utils.E(utils.CodeInternal, op, "failed to load utterances", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"utterances": rows, "count": len(rows)})
}

// SegmentURL returns a short-lived download link for one archived audio
// segment. Requires the audio archive to be enabled.
func (h *MeetingHandler) SegmentURL(c *gin.Context) {
	const op = "MeetingHandler.SegmentURL"

	if h.signer == nil {
		writeError(c, utils.E(utils.CodeUnavailable, op, "audio archive is not enabled", nil))
		return
	}
	meetingID := c.Param("meeting_id")
	utteranceID := c.Param("utterance_id")
	if meetingID == "" || utteranceID == "" {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "meeting_id and utterance_id are required", nil))
		return
	}

	object := services.SegmentObjectName(meetingID, utteranceID)
	url, err := h.signer.SignedGetURL(c.Request.Context(), object, 15*time.Minute)
	if err != nil {
		writeError(c, utils.E(utils.CodeInternal, op, "failed to sign segment url", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url, "expires_in_sec": 900})
}

// Languages returns the supported subtitle languages with display names.
func (h *MeetingHandler) Languages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"languages": translate.Names})
}
