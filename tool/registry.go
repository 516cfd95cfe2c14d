package tool

import (
	"fmt"
	"sync"

	"github.com/hupe1980/agentcontext/internal/util"
)

// Func is the callable bound to a method. Arguments have been decoded from
// JSON and validated against the declaration's schema. A Func may return an
// Output to attach content parts to its result.
type Func func(tc *ToolContext, args map[string]any) (any, error)

// Declaration is the model-agnostic description of a callable method.
type Declaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	// Async methods execute on their own goroutine instead of the caller's.
	Async bool `json:"-"`
}

// Method binds a declaration to its implementation.
type Method struct {
	Declaration
	Func Func
}

// NewMethod constructs a Method from an explicit schema and function.
//
// Example:
//
//	sum := NewMethod(
//	  "calculate_sum",
//	  "Calculate the sum of two numbers",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "a": map[string]any{"type": "number"},
//	      "b": map[string]any{"type": "number"},
//	    },
//	    "required": []string{"a", "b"},
//	  },
//	  func(tc *ToolContext, args map[string]any) (any, error) {
//	    return args["a"].(float64) + args["b"].(float64), nil
//	  },
//	)
func NewMethod(name, description string, parameters map[string]any, fn Func) Method {
	if parameters == nil {
		parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return Method{
		Declaration: Declaration{Name: name, Description: description, Parameters: parameters},
		Func:        fn,
	}
}

// NewMethodFromStruct derives the parameter schema from a struct using
// reflection (see util.CreateSchema).
func NewMethodFromStruct(name, description string, structType any, fn Func) Method {
	return NewMethod(name, description, util.CreateSchema(structType), fn)
}

// AsAsync returns a copy of m that executes on its own goroutine.
func (m Method) AsAsync() Method {
	m.Declaration.Async = true
	return m
}

// Registry holds the methods available to a conversation. Methods are
// registered once at startup.
type Registry struct {
	mu      sync.RWMutex
	methods map[string]Method
	order   []string
}

// NewRegistry creates a registry pre-populated with methods.
func NewRegistry(methods ...Method) (*Registry, error) {
	r := &Registry{methods: make(map[string]Method)}
	for _, m := range methods {
		if err := r.Register(m); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a method. Names must be unique.
func (r *Registry) Register(m Method) error {
	if m.Name == "" {
		return fmt.Errorf("register method: missing name")
	}
	if m.Func == nil {
		return fmt.Errorf("register method %q: missing func", m.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.methods[m.Name]; exists {
		return fmt.Errorf("register method %q: %w", m.Name, ErrDuplicateMethod)
	}
	r.methods[m.Name] = m
	r.order = append(r.order, m.Name)
	return nil
}

// Get looks up a method by name.
func (r *Registry) Get(name string) (Method, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.methods[name]
	return m, ok
}

// Declarations returns the declarations in registration order.
func (r *Registry) Declarations() []Declaration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Declaration, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.methods[name].Declaration)
	}
	return out
}

// Names returns the registered method names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}
