package httpserver

import (
	"net/http"
	"strings"

	"funnel-bot/internal/domain"
	"funnel-bot/internal/repo"
)

// EventFeedback is the analytics kind for user ratings.
const EventFeedback = "FEEDBACK"

const safeApology = "Lo siento, tuve un problema procesando tu mensaje. Inténtalo de nuevo en unos minutos."

type messageRequest struct {
	SubscriberID string `json:"subscriber_id"`
	Message      string `json:"message"`
	Text         string `json:"text"`
	Name         string `json:"name"`
	Phone        string `json:"phone"`
}

type messageResponse struct {
	Response  string        `json:"response"`
	Path      string        `json:"path,omitempty"`
	Intent    domain.Intent `json:"intent,omitempty"`
	Emotion   string        `json:"emotion,omitempty"`
	HeatScore int           `json:"heat_score,omitempty"`
	Priority  string        `json:"priority,omitempty"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	text := req.Message
	if strings.TrimSpace(text) == "" {
		text = req.Text
	}
	var missing []string
	if strings.TrimSpace(req.SubscriberID) == "" {
		missing = append(missing, "subscriber_id")
	}
	if strings.TrimSpace(text) == "" {
		missing = append(missing, "message")
	}
	if len(missing) > 0 {
		writeError(w, http.StatusBadRequest, "missing required fields: "+strings.Join(missing, ", "))
		return
	}

	reply, err := s.deps.Conversation.Handle(r.Context(), domain.InboundMessage{
		SubscriberID: strings.TrimSpace(req.SubscriberID),
		DisplayName:  req.Name,
		Text:         text,
		Phone:        req.Phone,
	})
	if err != nil {
		s.logger.Error("webhook message failed", "subscriber_id", req.SubscriberID, "error", err)
		response := reply.Text
		if response == "" {
			response = safeApology
		}
		writeJSON(w, http.StatusInternalServerError, messageResponse{Response: response})
		return
	}

	resp := messageResponse{
		Response:  reply.Text,
		Path:      reply.Path,
		HeatScore: reply.HeatScore,
		Priority:  reply.Priority,
	}
	if reply.Classification != nil {
		resp.Intent = reply.Classification.Intent
		resp.Emotion = string(reply.Classification.Emotion)
	}
	writeJSON(w, http.StatusOK, resp)
}

type feedbackRequest struct {
	SubscriberID string `json:"subscriber_id"`
	Rating       *int   `json:"rating"`
	Comment      string `json:"comment"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.SubscriberID) == "" {
		writeError(w, http.StatusBadRequest, "missing required fields: subscriber_id")
		return
	}
	if req.Rating == nil || *req.Rating < 1 || *req.Rating > 5 {
		writeError(w, http.StatusBadRequest, "rating must be an integer between 1 and 5")
		return
	}

	event := repo.Event{
		SubscriberID: strings.TrimSpace(req.SubscriberID),
		Kind:         EventFeedback,
		Payload:      map[string]any{"rating": *req.Rating, "comment": strings.TrimSpace(req.Comment)},
		CreatedAt:    s.now().UTC(),
	}
	if err := s.deps.Store.InsertEvent(r.Context(), event); err != nil {
		s.logger.Error("store feedback failed", "subscriber_id", event.SubscriberID, "error", err)
		s.metrics.Error("http")
		writeError(w, http.StatusInternalServerError, "could not store feedback")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
}
