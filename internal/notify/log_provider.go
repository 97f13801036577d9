package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// LogProvider is always available; its Send writes the message through
// the shared logger. It also implements Enricher, and when the Manager
// picks it as the cycle's enricher, the Manager does not call its Send.
type LogProvider struct {
	logger *zap.Logger
}

// NewLogProvider constructs a LogProvider writing through logger.
func NewLogProvider(logger *zap.Logger) *LogProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogProvider{logger: logger}
}

func (p *LogProvider) Name() string {
	return "log"
}

func (p *LogProvider) Available() bool {
	return true
}

func (p *LogProvider) Send(ctx context.Context, msg Message) bool {
	p.logger.Info("notification",
		zap.String("title", msg.Title),
		zap.String("content", msg.Content),
		zap.String("priority", string(msg.Priority)),
	)
	return true
}

// Enrich stamps the message with the instant it was observed by this
// provider, visible to every subsequent provider in the cycle.
func (p *LogProvider) Enrich(ctx context.Context, msg Message) Message {
	if msg.Metadata == nil {
		msg.Metadata = map[string]any{}
	} else {
		cloned := make(map[string]any, len(msg.Metadata)+1)
		for k, v := range msg.Metadata {
			cloned[k] = v
		}
		msg.Metadata = cloned
	}
	msg.Metadata["logged_at"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}
