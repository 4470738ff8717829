// Package registry maps connector names to factories. Sources register
// under their name; destinations register under the URI scheme they write
// to (stdout, file, s3, gs).
package registry

import (
	"fmt"
	"net/url"
	"sort"
	"sync"

	"github.com/ajitpratap0/tap-gitlab/pkg/config"
	"github.com/ajitpratap0/tap-gitlab/pkg/connector/core"
	"github.com/ajitpratap0/tap-gitlab/pkg/errors"
	"github.com/ajitpratap0/tap-gitlab/pkg/logger"
	"go.uber.org/zap"
)

// Registry manages connector registration and instantiation
type Registry struct {
	sources      map[string]SourceFactory
	destinations map[string]DestinationFactory
	mu           sync.RWMutex
	logger       *zap.Logger
}

// SourceFactory creates an uninitialized source connector.
type SourceFactory func(cfg *config.TapConfig) (core.Source, error)

// DestinationFactory creates a destination writing to target, a URI whose
// scheme selected the factory.
type DestinationFactory func(target *url.URL) (core.Destination, error)

// Global registry instance
var globalRegistry = NewRegistry()

// NewRegistry creates a new connector registry
func NewRegistry() *Registry {
	return &Registry{
		sources:      make(map[string]SourceFactory),
		destinations: make(map[string]DestinationFactory),
		logger:       logger.Get().With(zap.String("component", "connector_registry")),
	}
}

// RegisterSource registers a source connector factory
func (r *Registry) RegisterSource(name string, factory SourceFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sources[name]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("source connector %s already registered", name))
	}

	r.sources[name] = factory
	r.logger.Debug("source connector registered", zap.String("name", name))
	return nil
}

// RegisterDestination registers a destination factory for a URI scheme
func (r *Registry) RegisterDestination(scheme string, factory DestinationFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.destinations[scheme]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("destination %s already registered", scheme))
	}

	r.destinations[scheme] = factory
	r.logger.Debug("destination registered", zap.String("scheme", scheme))
	return nil
}

// CreateSource creates a source connector instance
func (r *Registry) CreateSource(name string, cfg *config.TapConfig) (core.Source, error) {
	r.mu.RLock()
	factory, exists := r.sources[name]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("source connector %s not found", name))
	}

	source, err := factory(cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("failed to create source connector %s", name))
	}

	return source, nil
}

// CreateDestination creates the destination for an output URI. A bare path
// is a local file and an empty target is stdout.
func (r *Registry) CreateDestination(target string) (core.Destination, error) {
	u, err := ParseTarget(target)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	factory, exists := r.destinations[u.Scheme]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("no destination for scheme %q", u.Scheme))
	}

	destination, err := factory(u)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("failed to create %s destination", u.Scheme))
	}
	return destination, nil
}

// ParseTarget normalizes an output target into a URI
func ParseTarget(target string) (*url.URL, error) {
	if target == "" || target == "-" {
		return &url.URL{Scheme: "stdout"}, nil
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid output target").WithDetail("target", target)
	}
	if u.Scheme == "" {
		u = &url.URL{Scheme: "file", Path: target}
	}
	return u, nil
}

// ListSources returns a sorted list of registered source connectors
func (r *Registry) ListSources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sources := make([]string, 0, len(r.sources))
	for name := range r.sources {
		sources = append(sources, name)
	}
	sort.Strings(sources)
	return sources
}

// ListDestinations returns a sorted list of registered destination schemes
func (r *Registry) ListDestinations() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	destinations := make([]string, 0, len(r.destinations))
	for name := range r.destinations {
		destinations = append(destinations, name)
	}
	sort.Strings(destinations)
	return destinations
}

// HasSource checks if a source connector is registered
func (r *Registry) HasSource(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.sources[name]
	return exists
}

// Clear removes all registered connectors (mainly for testing)
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sources = make(map[string]SourceFactory)
	r.destinations = make(map[string]DestinationFactory)
}

// Global registry functions

// RegisterSource registers a source connector in the global registry
func RegisterSource(name string, factory SourceFactory) error {
	return globalRegistry.RegisterSource(name, factory)
}

// RegisterDestination registers a destination in the global registry
func RegisterDestination(scheme string, factory DestinationFactory) error {
	return globalRegistry.RegisterDestination(scheme, factory)
}

// CreateSource creates a source connector from the global registry
func CreateSource(name string, cfg *config.TapConfig) (core.Source, error) {
	return globalRegistry.CreateSource(name, cfg)
}

// CreateDestination creates a destination from the global registry
func CreateDestination(target string) (core.Destination, error) {
	return globalRegistry.CreateDestination(target)
}

// ListSources returns registered sources from the global registry
func ListSources() []string {
	return globalRegistry.ListSources()
}

// ListDestinations returns registered destinations from the global registry
func ListDestinations() []string {
	return globalRegistry.ListDestinations()
}

// GetRegistry returns the global registry instance.
func GetRegistry() *Registry {
	return globalRegistry
}
