// Package services defines shared utilities consumed by the pipeline engine
// and by model bodies.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, model names, and pipeline names for
//     logging and tracing.
//   - Structured error markers plus the Wrap helper that keep failure
//     classification (configuration vs schema vs execution) uniform across
//     the engine.
//
// Use these helpers when wiring new engine logic so operational behaviour
// (error handling, observability) stays uniform across the pipeline.
package services
