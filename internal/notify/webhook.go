package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/noah-isme/gradewatch/pkg/config"
)

// WebhookProvider POSTs the message as JSON to a configured URL. It is
// available iff it is enabled and that URL is set.
type WebhookProvider struct {
	cfg    config.WebhookProviderConfig
	client *http.Client
}

// NewWebhookProvider constructs a WebhookProvider with a bounded HTTP
// client, mirroring the teacher's health-probe client idiom.
func NewWebhookProvider(cfg config.WebhookProviderConfig) *WebhookProvider {
	return &WebhookProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (p *WebhookProvider) Name() string {
	return "webhook"
}

func (p *WebhookProvider) Available() bool {
	return p.cfg.Enabled && p.cfg.URL != ""
}

type webhookPayload struct {
	Title    string         `json:"title"`
	Content  string         `json:"content"`
	Priority Priority       `json:"priority"`
	URL      string         `json:"url,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Send attempts one delivery. The HTTP client's cfg.Timeout and any
// deadline on ctx (the manager sets one per call) both bound the request.
func (p *WebhookProvider) Send(ctx context.Context, msg Message) bool {
	body, err := json.Marshal(webhookPayload{
		Title:    msg.Title,
		Content:  msg.Content,
		Priority: msg.Priority,
		URL:      msg.URL,
		Metadata: msg.Metadata,
	})
	if err != nil {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close() //nolint:errcheck

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
