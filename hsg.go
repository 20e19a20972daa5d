// Package hsgmemory re-exports the engine's public surface so callers
// can depend on one import path for the common case, mirroring the
// facade each subsystem already exposes internally. Construct an Engine
// with New over any store.Backend and drive the seven core operations
// from it; reach into the subpackages directly when mixing backends or
// tuning a single pipeline.
package hsgmemory

import (
	"github.com/Raezil/hsg-memory/engine"
	"github.com/Raezil/hsg-memory/ingest"
	"github.com/Raezil/hsg-memory/query"
	"github.com/Raezil/hsg-memory/store"
)

// Engine is the embedded associative-memory store.
type Engine = engine.Engine

// Options bundles the recognized configuration options.
type Options = engine.Options

// Backend is the union storage contract the reference backends satisfy.
type Backend = store.Backend

// AddMemoryInput is add_memory's input.
type AddMemoryInput = ingest.AddMemoryInput

// AddMemoryResult is add_memory's output.
type AddMemoryResult = ingest.AddMemoryResult

// UpdateMemoryInput is update_memory's input.
type UpdateMemoryInput = ingest.UpdateMemoryInput

// DeleteMemoryInput is delete_memory's input.
type DeleteMemoryInput = ingest.DeleteMemoryInput

// QueryInput is hsg_query's input.
type QueryInput = query.Input

// QueryFilters narrows a query's candidate set.
type QueryFilters = query.Filters

// QueryResult is one ranked hit.
type QueryResult = query.Result

// DefaultOptions returns the reference tunables.
func DefaultOptions() Options { return engine.DefaultOptions() }

// New constructs an Engine over a single backend implementing all three
// store contracts.
func New(b Backend, opts Options) *Engine {
	return engine.New(b, b, b, nil, opts)
}
