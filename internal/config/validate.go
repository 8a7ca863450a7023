package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if c.Scheduler.MaxConcurrency < 0 {
		return errors.New("scheduler.max_concurrency must not be negative")
	}
	for name, value := range map[string]int64{
		"guardrails.max_tokens":     c.Guardrails.MaxTokens,
		"guardrails.max_tool_calls": c.Guardrails.MaxToolCalls,
		"guardrails.max_seconds":    c.Guardrails.MaxSeconds,
	} {
		if value < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if c.Store.EventRetentionDays < 0 {
		return errors.New("store.event_retention_days must not be negative")
	}
	if c.Store.MinFreeSpaceMiB < 0 {
		return errors.New("store.min_free_space_mib must not be negative")
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}
