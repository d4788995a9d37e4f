// Package tools defines the function tools the assistant can call and the
// dispatcher that services a run's pending tool calls.
//
// A failing tool never fails the run: decode errors, handler errors and
// panics are encoded into that call's output so the assistant sees them.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/jxucoder/threadline/internal/assistant"
)

// UnknownFunction is the error reported for calls to unregistered tools.
const UnknownFunction = "Unknown function"

// Handler is the uniform capability behind every tool.
type Handler interface {
	// Decode turns raw call arguments into the handler's input.
	Decode(raw json.RawMessage) (any, error)
	// Handle runs the tool on decoded input.
	Handle(ctx context.Context, args any) (any, error)
	// Failure builds the output payload for a failed call.
	Failure(err error) any
}

// Tool is a named, described handler.
type Tool struct {
	Name        string
	Description string
	// Schema is the JSON Schema of the tool's arguments.
	Schema  map[string]any
	Handler Handler
}

// funcHandler adapts a typed function to Handler.
type funcHandler[In any] struct {
	fn func(ctx context.Context, in In) (any, error)
}

func (h funcHandler[In]) Decode(raw json.RawMessage) (any, error) {
	var in In
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	return in, nil
}

func (h funcHandler[In]) Handle(ctx context.Context, args any) (any, error) {
	in, ok := args.(In)
	if !ok {
		return nil, fmt.Errorf("unexpected argument type %T", args)
	}
	return h.fn(ctx, in)
}

func (h funcHandler[In]) Failure(err error) any {
	return map[string]any{"error": err.Error(), "results": []any{}}
}

// New builds a tool whose arguments decode into In. The argument schema is
// reflected from In.
func New[In any](name, description string, fn func(ctx context.Context, in In) (any, error)) Tool {
	return Tool{
		Name:        name,
		Description: description,
		Schema:      GenerateSchema[In](),
		Handler:     funcHandler[In]{fn: fn},
	}
}

// GenerateSchema reflects a JSON Schema object for T.
func GenerateSchema[T any]() map[string]any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	data, err := json.Marshal(reflector.Reflect(v))
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var schema map[string]any
	if err := json.Unmarshal(data, &schema); err != nil {
		return map[string]any{"type": "object"}
	}
	delete(schema, "$schema")
	delete(schema, "$id")
	return schema
}

// unsupported answers every call to an unregistered name.
type unsupported struct{}

func (unsupported) Decode(json.RawMessage) (any, error) { return nil, nil }

func (unsupported) Handle(context.Context, any) (any, error) {
	return map[string]string{"error": UnknownFunction}, nil
}

func (unsupported) Failure(error) any { return map[string]string{"error": UnknownFunction} }

// Registry maps tool names to tools. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a registry holding the given tools.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" || t.Handler == nil {
		return fmt.Errorf("tool needs a name and a handler")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[t.Name]; ok {
		return fmt.Errorf("tool %q already registered", t.Name)
	}
	r.tools[t.Name] = t
	return nil
}

// Lookup returns the handler for name, falling back to the unsupported
// handler. ok reports whether name was registered.
func (r *Registry) Lookup(name string) (h Handler, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return unsupported{}, false
	}
	return t.Handler, true
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions exports the registered tools as assistant function
// definitions, sorted by name.
func (r *Registry) Definitions() []assistant.FunctionDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]assistant.FunctionDef, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, assistant.FunctionDef{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Schema,
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}
