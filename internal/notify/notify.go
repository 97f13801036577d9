// Package notify fans a NotificationMessage out across a set of
// configured providers, with one optional enrichment pass.
package notify

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/gradewatch/pkg/config"
)

// defaultSendTimeout bounds every provider's Send/Enrich call, per
// spec.md's suspension-point rule that notification sends never block
// the pipeline indefinitely.
const defaultSendTimeout = 30 * time.Second

// Priority is the urgency of a NotificationMessage.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Message is the uniform shape every provider receives.
type Message struct {
	Title    string
	Content  string
	Priority Priority
	URL      string
	Metadata map[string]any
}

// Provider is the minimal capability set a notification transport must
// satisfy. Available is checked before a provider is added to the active
// set; providers that fail Available are never instantiated into it.
type Provider interface {
	Name() string
	Available() bool
	Send(ctx context.Context, msg Message) bool
}

// Enricher is the optional second capability: a provider may augment the
// message with metadata consumed by every later provider in the cycle.
type Enricher interface {
	Enrich(ctx context.Context, msg Message) Message
}

// Manager owns the active provider set and drives the fan-out algorithm:
// enrich once (by ascending provider name), then send to every other
// provider in order. It never panics or returns an error — a misbehaving provider
// degrades to a false result for that provider only.
type Manager struct {
	providers []Provider
	logger    *zap.Logger
}

// NewManager builds a Manager from the given providers, keeping only
// those reporting Available(), sorted by name ascending.
func NewManager(logger *zap.Logger, providers ...Provider) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	active := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if p.Available() {
			active = append(active, p)
		} else {
			logger.Debug("notification provider unavailable", zap.String("provider", p.Name()))
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Name() < active[j].Name() })
	return &Manager{providers: active, logger: logger}
}

// Send runs the enrich-then-send algorithm and returns a result map keyed
// by provider name. The manager never raises.
func (m *Manager) Send(ctx context.Context, msg Message) map[string]bool {
	results := make(map[string]bool, len(m.providers))

	var enricherIdx = -1
	for i, p := range m.providers {
		if _, ok := p.(Enricher); ok {
			enricherIdx = i
			break
		}
	}

	if enricherIdx >= 0 {
		enricher := m.providers[enricherIdx].(Enricher)
		msg = m.safeEnrich(ctx, enricher, m.providers[enricherIdx].Name(), msg)
	}

	for i, p := range m.providers {
		if i == enricherIdx {
			continue
		}
		results[p.Name()] = m.safeSend(ctx, p, msg)
	}
	return results
}

func (m *Manager) safeSend(ctx context.Context, p Provider, msg Message) (ok bool) {
	ctx, cancel := context.WithTimeout(ctx, defaultSendTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("notification provider panicked", zap.String("provider", p.Name()), zap.Any("panic", r))
			ok = false
		}
	}()
	ok = p.Send(ctx, msg)
	if !ok {
		m.logger.Warn("notification provider failed", zap.String("provider", p.Name()))
	}
	return ok
}

func (m *Manager) safeEnrich(ctx context.Context, e Enricher, name string, msg Message) Message {
	ctx, cancel := context.WithTimeout(ctx, defaultSendTimeout)
	defer cancel()

	var enriched Message
	var panicked bool
	func() {
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("enricher panicked, using original message", zap.String("provider", name), zap.Any("panic", r))
				panicked = true
			}
		}()
		enriched = e.Enrich(ctx, msg)
	}()
	if panicked {
		return msg
	}
	return enriched
}

// AvailableProviders resolves the set of providers to construct from
// configuration — the teacher's pattern of deriving active services from
// *config.Config feature flags, generalized to notification providers.
func AvailableProviders(cfg config.NotificationsConfig, logger *zap.Logger) []Provider {
	var providers []Provider
	if cfg.Webhook.Enabled {
		providers = append(providers, NewWebhookProvider(cfg.Webhook))
	}
	if cfg.Log.Enabled {
		providers = append(providers, NewLogProvider(logger))
	}
	return providers
}
