// Message intake: local programs queue messages into the keyed store, where
// the polling loop picks them up like any other store message. The store is
// only polled when no ledger is active, so intake is refused otherwise.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sipeed/execclient/pkg/domain"
	"github.com/sipeed/execclient/pkg/events"
	"github.com/sipeed/execclient/pkg/logger"
	"github.com/sipeed/execclient/pkg/store"
)

const maxListLimit = 500

type createMessageRequest struct {
	CharacterID string `json:"character_id"`
	SenderID    string `json:"sender_id"`
	Content     string `json:"content"`
}

// POST /api/messages
//
//	{"character_id": "ada", "sender_id": "user-1", "content": "Hello"}
func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "message store not available"})
		return
	}

	if s.ledgerPrimary {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "ledger is the active message source; store messages are only polled when the ledger is disabled",
		})
		return
	}

	var req createMessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON payload"})
		return
	}
	req.CharacterID = strings.TrimSpace(req.CharacterID)
	if req.CharacterID == "" || strings.TrimSpace(req.Content) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "character_id and content are required"})
		return
	}

	m := &domain.Message{
		ID:          domain.NewID(),
		CharacterID: req.CharacterID,
		SenderID:    req.SenderID,
		Content:     req.Content,
		CreatedAt:   time.Now().UTC(),
		Origin:      domain.OriginStore,
	}
	if err := s.store.CreateMessage(r.Context(), m); err != nil {
		logger.ErrorCF("api", "Message intake failed", map[string]interface{}{
			"character_id": m.CharacterID,
			"error":        err.Error(),
		})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	s.messageBus.Publish(events.MessageReceived, "api", events.MessageEventData{
		MessageID:   m.ID.String(),
		CharacterID: m.CharacterID,
		Origin:      string(m.Origin),
	})
	logger.InfoCF("api", "Message queued", map[string]interface{}{
		"message_id":   m.ID.String(),
		"character_id": m.CharacterID,
	})
	writeJSON(w, http.StatusCreated, m)
}

// GET /api/messages?answered=false&character_id=ada&limit=50
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "message store not available"})
		return
	}

	q := r.URL.Query()
	var filter store.MessageFilter
	if v := q.Get("answered"); v != "" {
		answered, err := strconv.ParseBool(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "answered must be true or false"})
			return
		}
		filter.Answered = &answered
	}
	filter.CharacterIDs = q["character_id"]

	limit := 50
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxListLimit)
	}

	msgs, err := s.store.FindMessages(r.Context(), filter, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if msgs == nil {
		msgs = []*domain.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}
