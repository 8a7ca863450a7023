// Package logging wires slog into the engine with console and JSON handlers,
// standardized field keys, and context plumbing so every component logs run
// IDs, model names, and event types the same way.
package logging
