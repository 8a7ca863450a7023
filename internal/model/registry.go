package model

import (
	"fmt"
	"sort"
	"sync"
)

// Registered pairs a definition with its executable body.
type Registered struct {
	Definition Definition
	Func       Func
}

// Registry holds model definitions and named pipelines. It is constructed
// once at process start and passed by reference into the scheduler; there is
// no package-level registry.
type Registry struct {
	mu        sync.RWMutex
	models    map[string]Registered
	pipelines map[string][]string
	sealed    bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		models:    make(map[string]Registered),
		pipelines: make(map[string][]string),
	}
}

// RegisterModel adds a model definition with its body. Definitions are
// immutable once registered; re-registering a name is an error.
func (r *Registry) RegisterModel(def Definition, fn Func) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("model %s: nil function", def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("registry is sealed")
	}
	if _, exists := r.models[def.Name]; exists {
		return fmt.Errorf("model %s: already registered", def.Name)
	}
	r.models[def.Name] = Registered{Definition: def, Func: fn}
	return nil
}

// RegisterPipeline names an ordered set of registered models.
func (r *Registry) RegisterPipeline(name string, models ...string) error {
	if name == "" {
		return fmt.Errorf("pipeline name is required")
	}
	if len(models) == 0 {
		return fmt.Errorf("pipeline %s: at least one model is required", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("registry is sealed")
	}
	if _, exists := r.pipelines[name]; exists {
		return fmt.Errorf("pipeline %s: already registered", name)
	}
	seen := make(map[string]struct{}, len(models))
	for _, m := range models {
		if _, ok := r.models[m]; !ok {
			return fmt.Errorf("pipeline %s: unknown model %s", name, m)
		}
		if _, dup := seen[m]; dup {
			return fmt.Errorf("pipeline %s: duplicate model %s", name, m)
		}
		seen[m] = struct{}{}
	}
	cp := make([]string, len(models))
	copy(cp, models)
	r.pipelines[name] = cp
	return nil
}

// Seal freezes the registry. Registration after Seal fails.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Model returns a registered model by name.
func (r *Registry) Model(name string) (Registered, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.models[name]
	return reg, ok
}

// Models returns all registered definitions sorted by name.
func (r *Registry) Models() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.models))
	for _, reg := range r.models {
		defs = append(defs, reg.Definition)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Pipelines returns the registered pipeline names sorted.
func (r *Registry) Pipelines() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.pipelines))
	for name := range r.pipelines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolvePipeline returns the registered models of a named pipeline.
func (r *Registry) ResolvePipeline(name string) ([]Registered, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	modelNames, ok := r.pipelines[name]
	if !ok {
		return nil, fmt.Errorf("pipeline %s: not registered", name)
	}
	out := make([]Registered, 0, len(modelNames))
	for _, m := range modelNames {
		out = append(out, r.models[m])
	}
	return out, nil
}
