package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"praxis/internal/content"
	"praxis/internal/mailer"
	"praxis/internal/publication"
	"praxis/internal/subscriber"

	"github.com/go-chi/chi/v5"
)

// PublicationHandler is the hosting app's publish surface: it creates
// and reopens publications; the scheduler does the actual publishing.
type PublicationHandler struct {
	Repo     *publication.Repo
	Articles *content.Store
}

type createPublicationReq struct {
	ContentID   uint64  `json:"content_id"`
	Channel     string  `json:"channel"`
	ScheduledAt *string `json:"scheduled_at"` // RFC3339, optional; absent = ASAP
}

func (h *PublicationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createPublicationReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	ch := publication.Channel(strings.ToLower(strings.TrimSpace(req.Channel)))
	if !ch.Valid() {
		http.Error(w, "invalid channel", http.StatusBadRequest)
		return
	}

	var scheduledAt *time.Time
	if req.ScheduledAt != nil && strings.TrimSpace(*req.ScheduledAt) != "" {
		t, err := time.Parse(time.RFC3339, *req.ScheduledAt)
		if err != nil {
			http.Error(w, "invalid scheduled_at (RFC3339)", http.StatusBadRequest)
			return
		}
		scheduledAt = &t
	}

	if _, err := h.Articles.Get(r.Context(), req.ContentID); err != nil {
		if errors.Is(err, content.ErrNotFound) {
			http.Error(w, "article not found", http.StatusNotFound)
			return
		}
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	p := publication.Publication{
		ContentID:   req.ContentID,
		Channel:     ch,
		ScheduledAt: scheduledAt,
	}
	if err := h.Repo.Create(r.Context(), &p); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{"id": p.ID})
}

func (h *PublicationHandler) List(w http.ResponseWriter, r *http.Request) {
	contentID, err := strconv.ParseUint(r.URL.Query().Get("content_id"), 10, 64)
	if err != nil {
		http.Error(w, "content_id required", http.StatusBadRequest)
		return
	}
	pubs, err := h.Repo.ListByContent(r.Context(), contentID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(pubs)
}

// Retry reopens a terminal publication; the next tick picks it up.
func (h *PublicationHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	if _, err := h.Repo.Get(r.Context(), id); err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err := h.Repo.ClearPublished(r.Context(), id); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeliveryHandler exposes per-article delivery state, always counted
// from the email log so a crash or UI refresh cannot show stale
// numbers.
type DeliveryHandler struct {
	Articles    *content.Store
	Subscribers *subscriber.Store
	Logs        *mailer.Repo
	Engine      *mailer.Engine
}

func (h *DeliveryHandler) Summary(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	delivered, err := h.Logs.CountSent(r.Context(), id)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	total, err := h.Subscribers.CountActive(r.Context())
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	attempted, err := h.Logs.HasHistory(r.Context(), id)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"article_id":  id,
		"attempted":   attempted,
		"delivered":   delivered,
		"subscribers": total,
	})
}

type manualSendReq struct {
	Recipients []string `json:"recipients"` // explicit override; empty = normal resolution
}

// Send triggers an email delivery outside the scheduler, for "send to
// these exact people" actions. The override travels as a parameter all
// the way into the engine.
func (h *DeliveryHandler) Send(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	var req manualSendReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	art, err := h.Articles.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, content.ErrNotFound) {
			http.Error(w, "article not found", http.StatusNotFound)
			return
		}
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	attemptID := strings.TrimSpace(r.Header.Get("Idempotency-Key"))

	res, err := h.Engine.Deliver(r.Context(), art, 0, req.Recipients, attemptID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"sent":        res.Sent,
		"delivered":   res.Delivered,
		"subscribers": res.Total,
		"undelivered": res.Undelivered,
	})
}
