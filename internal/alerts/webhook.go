package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// WebhookNotifier POSTs one JSON payload per alert to a configured URL.
// The response body is discarded; only the status matters.
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewWebhookNotifier(url string, logger *logrus.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

func (w *WebhookNotifier) Notify(ctx context.Context, alerts []Alert) error {
	for _, alert := range alerts {
		if err := w.post(ctx, alert); err != nil {
			return err
		}
	}
	w.logger.WithField("alerts", len(alerts)).Info("Webhook alerts sent")
	return nil
}

func (w *WebhookNotifier) post(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
