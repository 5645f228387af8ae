// internal/webhooks/handlers.go
package webhooks

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/temmyjay001/payments-core/pkg/api"
)

// MaxBodyBytes bounds a single webhook delivery.
const MaxBodyBytes = 1 << 20

type Handlers struct {
	service *Service
}

func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// ReceiveHandler is the gateway callback. It answers 200 whenever the event
// reached the ledger, even if its handler failed; the retry sweep owns the
// failure from there.
func (h *Handlers) ReceiveHandler(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		api.WriteBadRequestResponse(w, "unreadable request body")
		return
	}

	result, err := h.service.Ingest(r.Context(), raw)
	if err != nil {
		switch {
		case errors.Is(err, ErrMalformedPayload):
			api.WriteBadRequestResponse(w, err.Error())
		case errors.Is(err, ErrLedgerUnavailable):
			api.WriteServiceUnavailableResponse(w, "event could not be recorded")
		default:
			log.Printf("Unexpected webhook ingestion error: %v", err)
			api.WriteServiceUnavailableResponse(w, "event could not be recorded")
		}
		return
	}

	api.WriteSuccessResponse(w, http.StatusOK, map[string]interface{}{
		"received": true,
		"event_id": result.EventID,
		"outcome":  result.Outcome,
	})
}

// RetrySweepHandler runs one retry sweep on demand.
func (h *Handlers) RetrySweepHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.SweepFailed(r.Context())
	if err != nil {
		if IsSweepSkipped(err) {
			api.WriteConflictResponse(w, "a retry sweep is already running")
			return
		}
		api.WriteInternalErrorResponse(w, err.Error())
		return
	}

	api.WriteSuccessResponse(w, http.StatusOK, stats)
}

// ListFailuresHandler returns escalated events, unresolved only unless
// ?all=true.
func (h *Handlers) ListFailuresHandler(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 500 {
			limit = l
		}
	}
	includeResolved, _ := strconv.ParseBool(r.URL.Query().Get("all"))

	failures, err := h.service.ListPermanentFailures(r.Context(), includeResolved, limit)
	if err != nil {
		api.WriteInternalErrorResponse(w, err.Error())
		return
	}

	api.WriteSuccessResponse(w, http.StatusOK, map[string]interface{}{
		"failures": failures,
		"total":    len(failures),
	})
}

func (h *Handlers) GetEventHandler(w http.ResponseWriter, r *http.Request) {
	event, err := h.service.GetEvent(r.Context(), chi.URLParam(r, "eventId"))
	if err != nil {
		if errors.Is(err, ErrEventNotFound) {
			api.WriteNotFoundResponse(w, "webhook event not found")
			return
		}
		api.WriteInternalErrorResponse(w, err.Error())
		return
	}

	api.WriteSuccessResponse(w, http.StatusOK, event)
}

// ReprocessHandler manually dispatches an escalated or pending event.
func (h *Handlers) ReprocessHandler(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Reprocess(r.Context(), chi.URLParam(r, "eventId"))
	if err != nil {
		switch {
		case errors.Is(err, ErrEventNotFound):
			api.WriteNotFoundResponse(w, "webhook event not found")
		case errors.Is(err, ErrEventProcessed):
			api.WriteConflictResponse(w, "webhook event already processed")
		case errors.Is(err, ErrEventBusy):
			api.WriteConflictResponse(w, "webhook event is being processed")
		default:
			api.WriteInternalErrorResponse(w, err.Error())
		}
		return
	}

	api.WriteSuccessResponse(w, http.StatusOK, result)
}
