// Command loom is the observability CLI for the loom pipeline store: it
// lists runs, shows per-step status, tails the ordered event log, inspects
// versioned model tables, and checks store health. Pipelines themselves are
// invoked through the Go API by the program that registers the models.
package main
