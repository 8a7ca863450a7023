// Package config loads, normalizes, and validates Loom's TOML configuration.
//
// Resolution order: explicit --config path, ./loom.toml, then
// ~/.config/loom/config.toml. Missing files fall back to defaults so the CLI
// stays usable without any configuration.
package config
