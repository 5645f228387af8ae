package webhooks

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func newRouter(h *Handlers) http.Handler {
	r := chi.NewRouter()
	r.Post("/webhooks/gateway", h.ReceiveHandler)
	r.Post("/internal/webhooks/retry", h.RetrySweepHandler)
	r.Get("/internal/webhooks/failures", h.ListFailuresHandler)
	r.Get("/internal/webhooks/events/{eventId}", h.GetEventHandler)
	r.Post("/internal/webhooks/events/{eventId}/reprocess", h.ReprocessHandler)
	return r
}

func TestReceiveHandler(t *testing.T) {
	tests := []struct {
		name       string
		body       []byte
		failing    bool
		ledgerErr  error
		wantStatus int
		wantOut    Outcome
	}{
		{"processed", paymentEvent("evt_1", EventPaymentConfirmed, "pay_1"), false, nil, http.StatusOK, OutcomeProcessed},
		{"handler failure is acknowledged", paymentEvent("evt_1", EventPaymentOverdue, "pay_1"), true, nil, http.StatusOK, OutcomeFailed},
		{"malformed", []byte(`{"payment":`), false, nil, http.StatusBadRequest, ""},
		{"missing event kind", []byte(`{"id":"evt_1"}`), false, nil, http.StatusBadRequest, ""},
		{"ledger down", paymentEvent("evt_1", EventPaymentConfirmed, "pay_1"), false, errors.New("db down"), http.StatusServiceUnavailable, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.updater.setFailing(tt.failing)
			h.ledger.insertErr = tt.ledgerErr

			req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", bytes.NewReader(tt.body))
			rec := httptest.NewRecorder()
			newRouter(NewHandlers(h.svc)).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			resp := decodeResponse(t, rec)
			if tt.wantStatus != http.StatusOK {
				assert.False(t, resp.Success)
				return
			}

			var data struct {
				Received bool    `json:"received"`
				EventID  string  `json:"event_id"`
				Outcome  Outcome `json:"outcome"`
			}
			require.NoError(t, json.Unmarshal(resp.Data, &data))
			assert.True(t, data.Received)
			assert.Equal(t, "evt_1", data.EventID)
			assert.Equal(t, tt.wantOut, data.Outcome)
		})
	}
}

func TestReceiveHandler_DuplicateIsAcknowledged(t *testing.T) {
	h := newHarness(t)
	router := newRouter(NewHandlers(h.svc))
	body := paymentEvent("evt_1", EventPaymentReceived, "pay_1")

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/gateway", bytes.NewReader(body)))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, 1, h.updater.paymentCalls())
}

func TestReceiveHandler_BodyTooLarge(t *testing.T) {
	h := newHarness(t)
	body := bytes.Repeat([]byte("a"), MaxBodyBytes+1)

	rec := httptest.NewRecorder()
	newRouter(NewHandlers(h.svc)).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/gateway", bytes.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReceiveHandler_ClientDisconnect(t *testing.T) {
	h := newHarness(t)
	h.recon.err = errors.New("gateway timeout")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.recon.during = cancel

	req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", bytes.NewReader(paymentEvent("evt_1", EventPaymentReceived, "pay_1"))).WithContext(ctx)
	rec := httptest.NewRecorder()
	newRouter(NewHandlers(h.svc)).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	ev, err := h.ledger.Get(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.Equal(t, 1, ev.RetryCount)
	assert.Contains(t, ev.LastError, "gateway timeout")
	assert.Nil(t, ev.LockedUntil)
}

func TestRetrySweepHandler_LockHeld(t *testing.T) {
	h := newHarness(t)
	release, err := h.svc.locker.Acquire(context.Background(), sweepLockKey, time.Minute)
	require.NoError(t, err)
	defer release()

	rec := httptest.NewRecorder()
	newRouter(NewHandlers(h.svc)).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/internal/webhooks/retry", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestEventAndReprocessHandlers(t *testing.T) {
	h := newHarness(t)
	router := newRouter(NewHandlers(h.svc))
	h.updater.setFailing(true)

	_, err := h.svc.Ingest(context.Background(), paymentEvent("evt_1", EventPaymentOverdue, "pay_1"))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/internal/webhooks/events/evt_1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var ev Event
	require.NoError(t, json.Unmarshal(decodeResponse(t, rec).Data, &ev))
	assert.Equal(t, 1, ev.RetryCount)
	assert.False(t, ev.Processed)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/internal/webhooks/events/evt_404", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	h.updater.setFailing(false)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/internal/webhooks/events/evt_1/reprocess", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/internal/webhooks/events/evt_1/reprocess", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/internal/webhooks/failures?all=true", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
