package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temmyjay001/payments-core/internal/auth"
	"github.com/temmyjay001/payments-core/internal/config"
	"github.com/temmyjay001/payments-core/internal/lock"
)

func testConfig() *config.Config {
	return &config.Config{
		JWTSecret:                 "test-jwt-secret-key",
		WebhookToken:              "test-webhook-token",
		GatewayBaseURL:            "http://gateway.invalid",
		GatewayAccessToken:        "token",
		PartnerWalletID:           "wallet-partner",
		WebhookMaxRetries:         5,
		WebhookBackoffSchedule:    config.DefaultWebhookBackoffSchedule,
		WebhookSweepInterval:      time.Minute,
		WebhookBatchSize:          10,
		WebhookProcessingLease:    2 * time.Minute,
		WebhookRateLimit:          50,
		WebhookRateBurst:          100,
		ReconciliationInterval:    time.Hour,
		ReconciliationLookback:    24 * time.Hour,
		ReconciliationConcurrency: 2,
	}
}

func newTestServer(t *testing.T, cfg *config.Config) (http.Handler, *auth.Service) {
	t.Helper()
	// Routes exercised here are rejected before any store is touched.
	srv, err := New(cfg, nil, lock.NewLocal())
	require.NoError(t, err)
	return srv.Router(), auth.NewService(cfg)
}

func bearer(t *testing.T, svc *auth.Service, scopes ...string) string {
	t.Helper()
	token, _, err := svc.IssueToken("test", scopes, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestHealth(t *testing.T) {
	router, _ := newTestServer(t, testConfig())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := newTestServer(t, testConfig())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRouteAuthorization(t *testing.T) {
	router, authSvc := newTestServer(t, testConfig())

	tests := []struct {
		name       string
		method     string
		path       string
		header     string
		wantStatus int
	}{
		{"ops route without token", http.MethodPost, "/internal/webhooks/retry", "", http.StatusUnauthorized},
		{"ops route with payments scope", http.MethodPost, "/internal/webhooks/retry", bearer(t, authSvc, auth.ScopePaymentsRead), http.StatusForbidden},
		{"payment read with write scope", http.MethodGet, "/api/v1/payments/pay_1", bearer(t, authSvc, auth.ScopePaymentsWrite), http.StatusForbidden},
		{"payment create without token", http.MethodPost, "/api/v1/payments", "", http.StatusUnauthorized},
		{"breaker with ops scope", http.MethodGet, "/internal/gateway/breaker", bearer(t, authSvc, auth.ScopeOps), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestBreakerHandler(t *testing.T) {
	router, authSvc := newTestServer(t, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/internal/gateway/breaker", nil)
	req.Header.Set("Authorization", bearer(t, authSvc, auth.ScopeOps))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data struct {
			State string `json:"state"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "CLOSED", body.Data.State)
}

func TestWebhookEndpoint_RequiresToken(t *testing.T) {
	router, _ := newTestServer(t, testConfig())

	req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", strings.NewReader(`{"event":"PAYMENT_CONFIRMED"}`))
	req.Header.Set(auth.WebhookTokenHeader, "wrong")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookEndpoint_PacedNotRejected(t *testing.T) {
	tests := []struct {
		name     string
		rate     float64
		deadline time.Duration
		minGap   time.Duration
	}{
		// 20/s with a burst of one: the second delivery waits about 50ms.
		{"second delivery is delayed", 20, time.Second, 30 * time.Millisecond},
		// The wait would outlast the deadline, so the delivery is let through.
		{"wait past the deadline is skipped", 0.001, 100 * time.Millisecond, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.WebhookRateLimit = tt.rate
			cfg.WebhookRateBurst = 1
			router, _ := newTestServer(t, cfg)

			var codes []int
			var elapsed time.Duration
			for i := 0; i < 2; i++ {
				ctx, cancel := context.WithTimeout(context.Background(), tt.deadline)
				req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", strings.NewReader(`{"payment":`)).WithContext(ctx)
				req.Header.Set(auth.WebhookTokenHeader, cfg.WebhookToken)
				rec := httptest.NewRecorder()

				start := time.Now()
				router.ServeHTTP(rec, req)
				elapsed = time.Since(start)
				cancel()
				codes = append(codes, rec.Code)
			}

			// Malformed bodies are rejected by the handler; nothing answers 429.
			assert.Equal(t, []int{http.StatusBadRequest, http.StatusBadRequest}, codes)
			assert.GreaterOrEqual(t, elapsed, tt.minGap)
		})
	}
}

func TestWebhookEndpoint_BadTokenSpendsNoSlot(t *testing.T) {
	cfg := testConfig()
	cfg.WebhookRateLimit = 0.001
	cfg.WebhookRateBurst = 1
	router, _ := newTestServer(t, cfg)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/gateway", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", strings.NewReader(`{}`))
	req.Header.Set(auth.WebhookTokenHeader, cfg.WebhookToken)
	start := time.Now()
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Less(t, time.Since(start), time.Second, "the only slot was still free")
}
