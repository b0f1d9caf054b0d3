package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/quarry-data/quarry/internal/manifest"
)

// InterfaceRunV1 is the contract id every step component implements.
// Components are registered against it, so an engine can be swapped
// for another implementation of the same contract without touching
// deployed manifests.
const InterfaceRunV1 = "quarry.component.run/v1"

// Context carries the identity of the execution a component runs
// inside. Components receive it read-only; identity is minted by the
// orchestrator, never by a component.
type Context struct {
	ExecutionID   string
	ManifestID    string
	Version       string
	DocumentID    string
	Layer         manifest.Layer
	Agency        string
	SourcePath    string
	Engine        string
	EngineVersion string
}

// ResultKind is the outcome class of a single component step.
type ResultKind string

const (
	// ResultSuccess advances the pipeline to the next step.
	ResultSuccess ResultKind = "SUCCESS"

	// ResultQuarantine routes the payload to the quarantine area and
	// ends the execution as QUARANTINED. Quarantine is a gate verdict,
	// not an error.
	ResultQuarantine ResultKind = "QUARANTINE"

	// ResultFailure ends the execution as FAILED.
	ResultFailure ResultKind = "FAILED"
)

// Result is the outcome of one component step. On success Output is
// the payload handed to the next step; on quarantine or failure
// Message explains the verdict.
type Result struct {
	Kind    ResultKind
	Message string
	Output  map[string]any
}

// Success returns a successful result carrying the next payload.
func Success(output map[string]any) Result {
	return Result{Kind: ResultSuccess, Output: output}
}

// Quarantine returns a quarantine verdict with the payload that
// failed the gate, so the quarantine area retains the evidence.
func Quarantine(output map[string]any, format string, args ...any) Result {
	return Result{Kind: ResultQuarantine, Message: fmt.Sprintf(format, args...), Output: output}
}

// Failure returns a failed result.
func Failure(format string, args ...any) Result {
	return Result{Kind: ResultFailure, Message: fmt.Sprintf(format, args...)}
}

// Component is one versioned processing step. Run transforms the
// incoming payload under the manifest-supplied params and returns a
// verdict. Components never touch storage or evidence directly.
type Component interface {
	Name() string
	Version() string
	Run(ctx context.Context, exec Context, payload map[string]any, params map[string]any) Result
}

// ComponentKey addresses a component within an engine's capability set.
type ComponentKey struct {
	Layer   manifest.Layer
	Name    string
	Version string
}

// Engine is a pluggable execution backend. An engine exposes a
// capability set of versioned components; the orchestrator resolves
// manifest steps against it and auto-onboards what it finds.
type Engine interface {
	Name() string
	Version() string
	Resolve(key ComponentKey) (Component, bool)
	Capabilities() []ComponentKey
}

// Registry holds the engines available to the orchestrator, keyed by
// engine name.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]Engine
}

// NewRegistry creates an empty engine registry.
func NewRegistry() *Registry {
	return &Registry{engines: make(map[string]Engine)}
}

// Register adds an engine. A second engine with the same name is
// rejected rather than silently replacing the first.
func (r *Registry) Register(e Engine) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.engines[e.Name()]; ok {
		return fmt.Errorf("engine %q already registered", e.Name())
	}
	r.engines[e.Name()] = e
	return nil
}

// Lookup returns the engine registered under name.
func (r *Registry) Lookup(name string) (Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.engines[name]
	return e, ok
}

// Names returns the registered engine names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
