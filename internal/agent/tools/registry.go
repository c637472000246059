// Package tools implements the process-wide tool registry: name-addressable,
// schema-described handlers the router selects and the executor invokes.
package tools

import (
	"context"
	"fmt"
)

type Result struct {
	Success  bool
	Data     interface{}
	Error    string
	ToolName string
}

type Handler func(ctx context.Context, args map[string]interface{}) Result

type Spec struct {
	Name             string
	Description      string
	ParameterSchema  map[string]interface{}
	Handler          Handler
}

// Registry is push-only: registration must finish before engine construction,
// so lookups are unsynchronized reads of a map built once at startup.
type Registry struct {
	tools map[string]Spec
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Spec)}
}

func (r *Registry) Register(spec Spec) error {
	if _, exists := r.tools[spec.Name]; exists {
		return fmt.Errorf("tools: %q is already registered", spec.Name)
	}
	r.tools[spec.Name] = spec
	r.order = append(r.order, spec.Name)
	return nil
}

// MustRegister panics on duplicate registration, for startup wiring where a
// collision is a programming error, not a recoverable condition.
func (r *Registry) MustRegister(spec Spec) {
	if err := r.Register(spec); err != nil {
		panic(err)
	}
}

func (r *Registry) Get(name string) (Spec, bool) {
	spec, ok := r.tools[name]
	return spec, ok
}

func (r *Registry) List() []Spec {
	specs := make([]Spec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.tools[name])
	}
	return specs
}

// Execute never propagates a panic or error to the caller: failures come
// back as a Result with Success=false, matching "tools never raise".
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) Result {
	spec, ok := r.tools[name]
	if !ok {
		return Result{Success: false, Error: fmt.Sprintf("tool %q is not registered", name), ToolName: name}
	}

	result := safeInvoke(ctx, spec, args)
	result.ToolName = name
	return result
}

func safeInvoke(ctx context.Context, spec Spec, args map[string]interface{}) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = Result{Success: false, Error: fmt.Sprintf("tool panicked: %v", r)}
		}
	}()
	return spec.Handler(ctx, args)
}
