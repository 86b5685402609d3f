// Package llm provides an OpenAI-compatible chat client with multi-provider
// failover and a schema-checked identity document parser on top of it.
package llm

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/inspire-id/idvault/internal/config"

	"go.uber.org/zap"
)

// ProviderManager tries providers in priority order until one answers
type ProviderManager struct {
	providers []providerEntry
	current   int
	mu        sync.RWMutex
	logger    *zap.Logger
}

type providerEntry struct {
	Name     string
	Client   Completer
	Priority int // Lower = higher priority
	Enabled  bool
	LastErr  error
	LastUsed time.Time
}

// NewProviderManager creates a new provider manager
func NewProviderManager(logger *zap.Logger) *ProviderManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProviderManager{logger: logger}
}

// NewProviderManagerFromConfig registers every provider that has an API key.
func NewProviderManagerFromConfig(cfg *config.Config, logger *zap.Logger) *ProviderManager {
	pm := NewProviderManager(logger)
	for name, p := range cfg.ConfiguredProviders() {
		priority := p.Priority
		if name == cfg.LLM.DefaultProvider {
			priority = -1
		}
		pm.AddProvider(name, NewClient(p, pm.logger.Named(name)), priority)
	}
	return pm
}

// AddProvider adds a provider to the manager
func (pm *ProviderManager) AddProvider(name string, client Completer, priority int) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.providers = append(pm.providers, providerEntry{
		Name:     name,
		Client:   client,
		Priority: priority,
		Enabled:  true,
	})

	sort.SliceStable(pm.providers, func(i, j int) bool {
		return pm.providers[i].Priority < pm.providers[j].Priority
	})
	pm.current = 0
}

// Len reports how many providers are registered
func (pm *ProviderManager) Len() int {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return len(pm.providers)
}

// ChatCompletion sends a request with automatic failover, starting from the
// provider that last succeeded.
func (pm *ProviderManager) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	pm.mu.RLock()
	n := len(pm.providers)
	startIdx := pm.current
	pm.mu.RUnlock()

	if n == 0 {
		return nil, fmt.Errorf("no llm providers configured")
	}

	var lastErr error

	for i := 0; i < n; i++ {
		idx := (startIdx + i) % n

		pm.mu.RLock()
		provider := pm.providers[idx]
		pm.mu.RUnlock()

		if !provider.Enabled {
			continue
		}

		resp, err := provider.Client.ChatCompletion(ctx, req)
		if err == nil {
			pm.mu.Lock()
			pm.current = idx
			pm.providers[idx].LastUsed = time.Now()
			pm.providers[idx].LastErr = nil
			pm.mu.Unlock()

			if i > 0 {
				pm.logger.Info("Failover successful",
					zap.String("provider", provider.Name),
					zap.Int("attempt", i+1),
				)
			}

			return resp, nil
		}

		pm.mu.Lock()
		pm.providers[idx].LastErr = err
		pm.mu.Unlock()

		lastErr = err
		pm.logger.Warn("Provider failed, trying next",
			zap.String("provider", provider.Name),
			zap.Error(err),
		)

		if ctx.Err() != nil {
			break
		}
	}

	if lastErr == nil {
		return nil, fmt.Errorf("no enabled llm providers")
	}
	return nil, fmt.Errorf("all providers failed, last error: %w", lastErr)
}

// GetProviderStatus returns status of all providers
func (pm *ProviderManager) GetProviderStatus() []map[string]interface{} {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	status := make([]map[string]interface{}, 0, len(pm.providers))
	for _, p := range pm.providers {
		status = append(status, map[string]interface{}{
			"name":     p.Name,
			"enabled":  p.Enabled,
			"priority": p.Priority,
			"healthy":  p.LastErr == nil,
			"lastUsed": p.LastUsed,
		})
	}
	return status
}

// DisableProvider disables a provider by name
func (pm *ProviderManager) DisableProvider(name string) {
	pm.setEnabled(name, false)
}

// EnableProvider enables a provider by name
func (pm *ProviderManager) EnableProvider(name string) {
	pm.setEnabled(name, true)
}

func (pm *ProviderManager) setEnabled(name string, enabled bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	for i := range pm.providers {
		if pm.providers[i].Name == name {
			pm.providers[i].Enabled = enabled
			pm.providers[i].LastErr = nil
			break
		}
	}
}
