// Package notify delivers operational alerts raised by the payment core.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"
)

// Alert kinds.
const (
	KindWebhookMaxRetries         = "webhook_max_retries_exceeded"
	KindReconciliationDiscrepancy = "reconciliation_discrepancy"
)

type Alert struct {
	Kind       string         `json:"kind"`
	Subject    string         `json:"subject"`
	Fields     map[string]any `json:"fields,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the process log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, alert Alert) error {
	keys := make([]string, 0, len(alert.Fields))
	for k := range alert.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(fmt.Sprint(alert.Fields[k]))
	}
	log.Printf("ALERT [%s] %s%s", alert.Kind, alert.Subject, b.String())
	return nil
}

// Multi fans an alert out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// New always logs alerts and additionally posts them to webhookURL when set.
func New(webhookURL, secret string) Notifier {
	if webhookURL == "" {
		return LogNotifier{}
	}
	return Multi{LogNotifier{}, NewWebhookNotifier(webhookURL, secret)}
}
