package connector

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/V4T54L/siem-forwarder/internal/domain"
	"github.com/V4T54L/siem-forwarder/internal/pkg/config"
)

// Dependencies are the shared resources handed to every sink factory.
type Dependencies struct {
	Logger *slog.Logger
	HTTP   *HTTPClient
}

// Factory builds a sink from configuration. It returns a nil sink when the
// integration is disabled.
type Factory func(cfg *config.Config, deps Dependencies) (domain.Sink, error)

var (
	registry   = map[string]Factory{}
	registryMu sync.RWMutex
)

// Register makes a sink factory available under name.
// This should be called during initialization (e.g., in init() functions).
func Register(name string, f Factory) {
	if f == nil {
		return
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// Registered returns the registered factory names in sorted order.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build instantiates every enabled sink. Disabled integrations are skipped;
// sinks that are enabled but missing credentials are still returned so they
// can report themselves as unconfigured.
func Build(cfg *config.Config, deps Dependencies) ([]domain.Sink, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)

	var sinks []domain.Sink
	for _, name := range names {
		sink, err := registry[name](cfg, deps)
		if err != nil {
			return nil, fmt.Errorf("build %s sink: %w", name, err)
		}
		if sink == nil {
			continue
		}
		sinks = append(sinks, sink)
	}
	return sinks, nil
}
