package httpserver

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"funnel-bot/internal/email"
	"funnel-bot/internal/repo"
)

const leadEventLimit = 20

// admin requires "Authorization: Bearer <token>".
func (s *Server) admin(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.AdminToken == "" {
			writeError(w, http.StatusServiceUnavailable, "admin api disabled")
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(s.deps.AdminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	})
}

type orderResponse struct {
	OrderID   string `json:"order_id"`
	Status    string `json:"status"`
	Email     string `json:"email,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Attempts  int    `json:"attempts,omitempty"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	order, err := s.deps.Fulfillment.Approve(r.Context(), id)
	if err != nil {
		s.orderError(w, id, "approve", err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{OrderID: order.ID, Status: string(order.Status)})
}

func (s *Server) handleDeliver(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	res, err := s.deps.Fulfillment.Deliver(r.Context(), id)
	if err != nil {
		s.orderError(w, id, "deliver", err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{
		OrderID:   res.Order.ID,
		Status:    string(res.Order.Status),
		Email:     res.Order.Email,
		MessageID: res.MessageID,
		Attempts:  res.Attempts,
	})
}

func (s *Server) orderError(w http.ResponseWriter, id, op string, err error) {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, email.ErrAlreadySent):
		writeError(w, http.StatusConflict, "the book email was already sent for this order")
	case errors.Is(err, email.ErrNoRecipient):
		writeError(w, http.StatusUnprocessableEntity, "order has no buyer email")
	case errors.Is(err, email.ErrDeliveryFailed):
		s.logger.Error("order delivery failed", "order_id", id, "error", err)
		writeError(w, http.StatusBadGateway, "email delivery failed after retries")
	default:
		s.logger.Error("order operation failed", "op", op, "order_id", id, "error", err)
		s.metrics.Error("http")
		writeError(w, http.StatusInternalServerError, op+" failed")
	}
}

type leadEvent struct {
	Kind      string    `json:"kind"`
	Intent    string    `json:"intent,omitempty"`
	Emotion   string    `json:"emotion,omitempty"`
	HeatScore *int      `json:"heat_score,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type leadResponse struct {
	SubscriberID        string      `json:"subscriber_id"`
	Name                string      `json:"name,omitempty"`
	Phone               string      `json:"phone,omitempty"`
	HeatScore           int         `json:"heat_score"`
	Priority            string      `json:"priority"`
	Qualified           bool        `json:"qualified"`
	PurchaseIntent      bool        `json:"purchase_intent"`
	PaidSessionIntent   bool        `json:"paid_session_intent"`
	DiagnosticCompleted bool        `json:"diagnostic_completed"`
	MessageCount        int         `json:"message_count"`
	LastIntent          string      `json:"last_intent,omitempty"`
	LastInteractionAt   time.Time   `json:"last_interaction_at"`
	Events              []leadEvent `json:"events"`
}

func (s *Server) handleLead(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("subscriber_id")
	lead, err := s.deps.Store.GetLead(r.Context(), id)
	if errors.Is(err, repo.ErrNotFound) {
		writeError(w, http.StatusNotFound, "lead not found")
		return
	}
	if err != nil {
		s.logger.Error("load lead failed", "subscriber_id", id, "error", err)
		s.metrics.Error("http")
		writeError(w, http.StatusInternalServerError, "could not load lead")
		return
	}

	events, err := s.deps.Store.ListEvents(r.Context(), id, leadEventLimit)
	if err != nil {
		s.logger.Warn("load lead events failed", "subscriber_id", id, "error", err)
	}
	resp := leadResponse{
		SubscriberID:        lead.SubscriberID,
		Name:                lead.Name,
		Phone:               lead.Phone,
		HeatScore:           lead.HeatScore,
		Priority:            lead.Priority,
		Qualified:           lead.Qualified,
		PurchaseIntent:      lead.PurchaseIntent,
		PaidSessionIntent:   lead.PaidSessionIntent,
		DiagnosticCompleted: lead.DiagnosticCompleted,
		MessageCount:        lead.MessageCount,
		LastIntent:          string(lead.LastIntent),
		LastInteractionAt:   lead.LastInteractionAt,
		Events:              make([]leadEvent, 0, len(events)),
	}
	for _, ev := range events {
		resp.Events = append(resp.Events, leadEvent{
			Kind:      ev.Kind,
			Intent:    string(ev.Intent),
			Emotion:   string(ev.Emotion),
			HeatScore: ev.HeatScore,
			CreatedAt: ev.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type ingestRequest struct {
	Content  string `json:"content"`
	Source   string `json:"source"`
	Category string `json:"category"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "missing required fields: content")
		return
	}
	chunk, err := s.deps.Knowledge.Ingest(r.Context(), req.Content, req.Source, req.Category)
	if err != nil {
		s.logger.Error("knowledge ingest failed", "source", req.Source, "error", err)
		s.metrics.Error("http")
		writeError(w, http.StatusBadGateway, "could not embed or store the chunk")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": chunk.ID, "dimensions": len(chunk.Embedding)})
}
