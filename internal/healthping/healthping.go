// Package healthping pings an external uptime service at the end of a
// pipeline cycle. Failures here are logged and never propagate — the
// ping is advisory, not part of the pipeline's correctness contract.
package healthping

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/gradewatch/pkg/config"
)

// Pinger is the narrow capability the orchestrator depends on.
type Pinger interface {
	Ping(ctx context.Context, success bool)
}

// Client pings cfg.URL with a query parameter reflecting cycle outcome.
// It is a no-op when no URL is configured.
type Client struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// New builds a Client from healthcheck configuration.
func New(cfg config.HealthcheckConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{
		url:    cfg.URL,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Ping performs one best-effort GET. success=true reports "?status=ok",
// success=false reports "?status=fail". Any error is logged at info
// level and swallowed.
func (c *Client) Ping(ctx context.Context, success bool) {
	if c.url == "" {
		return
	}

	status := "fail"
	if success {
		status = "ok"
	}
	target := fmt.Sprintf("%s?status=%s", c.url, status)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		c.logger.Info("health ping request could not be built", zap.Error(err))
		return
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Info("health ping failed", zap.Error(err))
		return
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= http.StatusInternalServerError {
		c.logger.Info("health ping received server error", zap.Int("status_code", resp.StatusCode))
	}
}
