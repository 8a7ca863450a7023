package testsupport

import (
	"path/filepath"
	"testing"

	"loom/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithMaxConcurrency caps level concurrency on the test config.
func WithMaxConcurrency(n int) ConfigOption {
	return func(c *config.Config) {
		c.Scheduler.MaxConcurrency = n
	}
}

// WithStopOnError sets the failure policy on the test config.
func WithStopOnError(stop bool) ConfigOption {
	return func(c *config.Config) {
		c.Scheduler.StopOnError = stop
	}
}
