package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

const (
	DefaultTimeout  = 10 * time.Second
	SignatureHeader = "X-Payments-Signature"
	TimestampHeader = "X-Payments-Timestamp"
	AlertKindHeader = "X-Payments-Alert"
)

// WebhookNotifier posts alerts as signed JSON to an operator endpoint.
type WebhookNotifier struct {
	url        string
	secret     string
	httpClient *http.Client
}

func NewWebhookNotifier(url, secret string) *WebhookNotifier {
	return &WebhookNotifier{
		url:        url,
		secret:     secret,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, alert Alert) error {
	if alert.OccurredAt.IsZero() {
		alert.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to serialize alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create alert request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "PaymentsCore-Alerts/1.0")
	req.Header.Set(AlertKindHeader, alert.Kind)
	req.Header.Set(TimestampHeader, strconv.FormatInt(alert.OccurredAt.Unix(), 10))
	if n.secret != "" {
		req.Header.Set(SignatureHeader, "sha256="+Sign(payload, n.secret))
	}

	start := time.Now()
	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("alert delivery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("alert delivery failed: HTTP %d: %s", resp.StatusCode, body)
	}

	log.Printf("Alert %s delivered to %s (%dms)", alert.Kind, n.url, time.Since(start).Milliseconds())
	return nil
}

// Sign returns the hex HMAC-SHA256 of payload.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
