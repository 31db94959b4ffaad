package eventrx

import (
	"log/slog"
)

// adapterConfig holds FromEvents configuration (unexported)
type adapterConfig struct {
	name           string
	logger         *slog.Logger
	metricsEnabled bool
	tracingEnabled bool
	requireNexts   bool
}

// Option configures FromEvents
type Option func(*adapterConfig)

// newAdapterConfig returns defaults for map m
func newAdapterConfig(m EventMap, opts ...Option) *adapterConfig {
	c := &adapterConfig{
		name:           m.Name,
		metricsEnabled: true,
		tracingEnabled: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.name == "" {
		c.name = DefaultMap.Name
	}
	if c.logger == nil {
		c.logger = Logger("eventrx").With("map", c.name)
	}
	return c
}

// WithName sets the adapter name used in logs, metrics and spans.
// Default is the map name.
func WithName(name string) Option {
	return func(c *adapterConfig) {
		c.name = name
	}
}

// WithLogger sets the adapter logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *adapterConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics enables/disables OpenTelemetry metrics.
// Default is true.
func WithMetrics(enabled bool) Option {
	return func(c *adapterConfig) {
		c.metricsEnabled = enabled
	}
}

// WithTracing enables/disables OpenTelemetry tracing.
// Default is true.
func WithTracing(enabled bool) Option {
	return func(c *adapterConfig) {
		c.tracingEnabled = enabled
	}
}

// WithRequireNexts makes FromEvents reject maps that have no item events.
// Default is false: a map with only terminal events yields an observable
// that never emits items.
func WithRequireNexts(required bool) Option {
	return func(c *adapterConfig) {
		c.requireNexts = required
	}
}

// Logger returns a logger with the given component name
func Logger(component string) *slog.Logger {
	return slog.Default().With("component", component)
}
