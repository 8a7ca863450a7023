// Package model defines the declarative metadata for processing units and the
// registry that holds them.
//
// A Definition names a model, its primary key columns, its declared upstream
// references, and an optional configuration schema. Definitions are registered
// once at process start on an explicit Registry and are immutable thereafter.
// The registry also resolves named pipelines to ordered model sets.
//
// The package is a leaf: it carries the contracts model bodies are written
// against (PipelineContext, Reference, Writer, Func) without depending on the
// scheduler or the storage layer.
package model
