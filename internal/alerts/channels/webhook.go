package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/akmatori/contractmon/internal/models"
)

// Webhook POSTs the event as JSON to an HTTP endpoint
type Webhook struct {
	Base
	name   string
	url    string
	client *http.Client
}

// NewWebhook creates a webhook channel; name defaults to "webhook"
func NewWebhook(name, endpoint string, client *http.Client) *Webhook {
	if name == "" {
		name = "webhook"
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Webhook{name: name, url: endpoint, client: client}
}

func (w *Webhook) Name() string { return w.name }

// ValidateConfig requires an absolute http(s) URL
func (w *Webhook) ValidateConfig() error {
	u, err := url.Parse(w.url)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("webhook url must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("webhook url has no host")
	}
	return nil
}

// SendAlert delivers once; any non-2xx response is an error
func (w *Webhook) SendAlert(ctx context.Context, event models.ContractViolationEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Contract-Violation-Id", event.ID)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
