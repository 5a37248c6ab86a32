package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"contact.broker/internal/auth"
	"contact.broker/internal/broker"
	"contact.broker/internal/models"
)

type Handler struct {
	broker     *broker.Broker
	authorizer auth.Authorizer
	maxBody    int64
}

func NewHandler(b *broker.Broker, authorizer auth.Authorizer) *Handler {
	return &Handler{
		broker:     b,
		authorizer: authorizer,
		maxBody:    int64(b.Config().MaxPayloadBytes)*2 + 4096,
	}
}

type CreateRequest struct {
	JobID         string `json:"job_id"`
	ApplicationID string `json:"application_id"`
	Message       string `json:"message,omitempty"`
}

type CreateResponse struct {
	ID        string        `json:"id"`
	Status    models.Status `json:"status"`
	ExpiresAt time.Time     `json:"expires_at"`
}

type RevealRequest struct {
	Channel          string `json:"channel"`
	EncryptedPayload string `json:"encrypted_payload"`
}

type RevealResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type ConsumeRequest struct {
	Token string `json:"token"`
}

type ConsumeResponse struct {
	RequestID string         `json:"request_id"`
	Payload   string         `json:"payload"`
	Channel   models.Channel `json:"channel"`
	CreatedAt time.Time      `json:"created_at"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) CreateContactRequest(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !h.decode(w, r, &req) {
		return
	}

	key, err := models.PairKey(req.JobID, req.ApplicationID)
	if err != nil {
		h.error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.authorizer.Authorize(r.Context(), auth.FromContext(r.Context()), auth.ActionRequest, key); err != nil {
		h.handleError(w, r, err)
		return
	}

	created, err := h.broker.CreateRequest(r.Context(), key, req.Message)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, CreateResponse{
		ID:        created.ID,
		Status:    created.Status,
		ExpiresAt: created.ExpiresAt,
	})
}

func (h *Handler) GetContactRequest(w http.ResponseWriter, r *http.Request) {
	row, ok := h.authorizedRow(w, r, auth.ActionView)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (h *Handler) Reveal(w http.ResponseWriter, r *http.Request) {
	var req RevealRequest
	if !h.decode(w, r, &req) {
		return
	}
	row, ok := h.authorizedRow(w, r, auth.ActionDisclose)
	if !ok {
		return
	}

	token, expiresAt, err := h.broker.Reveal(r.Context(), row.ID, models.Channel(req.Channel), req.EncryptedPayload)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, RevealResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	status, err := models.ParseStatus(req.Status)
	if err != nil {
		h.error(w, http.StatusBadRequest, err.Error())
		return
	}
	row, ok := h.authorizedRow(w, r, auth.ActionDecline)
	if !ok {
		return
	}

	if err := h.broker.UpdateStatus(r.Context(), row.ID, status); err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Consume takes the token from the body so it never shows up in access logs.
func (h *Handler) Consume(w http.ResponseWriter, r *http.Request) {
	var req ConsumeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.authorizer.Authorize(r.Context(), auth.FromContext(r.Context()), auth.ActionConsume, ""); err != nil {
		h.handleError(w, r, err)
		return
	}

	payload, err := h.broker.Consume(r.Context(), req.Token)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ConsumeResponse{
		RequestID: payload.RequestID,
		Payload:   payload.EncryptedPayload,
		Channel:   payload.Channel,
		CreatedAt: payload.CreatedAt,
	})
}

// authorizedRow loads the request named in the URL with a non-destructive
// read and checks the caller may perform action on its resource pair.
func (h *Handler) authorizedRow(w http.ResponseWriter, r *http.Request, action auth.Action) (*models.ContactRequest, bool) {
	row, err := h.broker.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, err)
		return nil, false
	}
	if err := h.authorizer.Authorize(r.Context(), auth.FromContext(r.Context()), action, row.ResourceKey); err != nil {
		h.handleError(w, r, err)
		return nil, false
	}
	return row, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		h.error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (h *Handler) error(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		h.error(w, http.StatusUnauthorized, "unauthenticated")
	case errors.Is(err, auth.ErrForbidden):
		h.error(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, broker.ErrNotFound):
		h.error(w, http.StatusNotFound, "not found")
	case errors.Is(err, broker.ErrConflict):
		h.error(w, http.StatusConflict, brokerDetail(err))
	case errors.Is(err, broker.ErrExpired):
		h.error(w, http.StatusGone, brokerDetail(err))
	case errors.Is(err, broker.ErrValidation):
		h.error(w, http.StatusBadRequest, brokerDetail(err))
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
		h.error(w, http.StatusInternalServerError, "internal error")
	}
}

func brokerDetail(err error) string {
	var be *broker.Error
	if errors.As(err, &be) && be.Detail != "" {
		return be.Detail
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
