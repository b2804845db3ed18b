// Package alerting delivers prediction alerts to an external webhook.
// The stored alert row is the source of truth; delivery here is
// best-effort and never blocks a scoring response.
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/leadsignal/intent-cli/internal/model"
	"github.com/leadsignal/intent-cli/internal/resilience"
)

// WebhookNotifier posts alert JSON to a configured endpoint. Transient
// failures are retried; a persistently failing endpoint trips the
// circuit breaker so scoring traffic stops paying the timeout cost.
type WebhookNotifier struct {
	url     string
	client  *http.Client
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
}

// NewWebhookNotifier creates a notifier for the given webhook URL.
// Returns nil when no URL is configured so callers can pass the result
// straight to the predictor.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if url == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = 2
	retry.InitialBackoff = 200 * time.Millisecond
	retry.OnRetry = resilience.RetryLogger("webhook", "send_alert")
	return &WebhookNotifier{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		breaker: resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
		retry:   retry,
	}
}

// Notify delivers one alert. Failures are logged, never returned.
func (n *WebhookNotifier) Notify(ctx context.Context, alert model.PredictionAlert) {
	err := n.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Do(ctx, n.retry, func(ctx context.Context) error {
			return n.post(ctx, alert)
		})
	})
	if err != nil {
		zap.L().Error("alerting: webhook delivery failed",
			zap.String("company_id", alert.CompanyID),
			zap.String("alert_type", alert.AlertType),
			zap.Error(err))
		return
	}
	zap.L().Info("alerting: alert delivered",
		zap.String("company_id", alert.CompanyID),
		zap.String("alert_priority", alert.AlertPriority))
}

func (n *WebhookNotifier) post(ctx context.Context, alert model.PredictionAlert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "alerting: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "alerting: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "alerting: webhook request")
	}
	defer resp.Body.Close()        //nolint:errcheck
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode >= 400 {
		err := eris.Errorf("alerting: webhook returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(err, resp.StatusCode)
		}
		return err
	}
	return nil
}
