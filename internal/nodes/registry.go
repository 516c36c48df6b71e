package nodes

import (
	"sync"

	"github.com/rendis/flowgraph/pkg/schema"
)

// Registry is a thread-safe node executor registry keyed by node type.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]Executor),
	}
}

// Register adds an executor. Returns error on nil executor or duplicate type.
func (r *Registry) Register(exec Executor) error {
	if exec == nil {
		return schema.NewError(schema.ErrCodeValidation, "executor is nil")
	}
	nodeType := exec.Type()
	if nodeType == "" {
		return schema.NewError(schema.ErrCodeValidation, "executor type is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.executors[nodeType]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "executor for type %q already registered", nodeType)
	}

	r.executors[nodeType] = exec
	return nil
}

// Get retrieves the executor for a node type.
func (r *Registry) Get(nodeType string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exec, ok := r.executors[nodeType]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "no executor for node type %q", nodeType)
	}
	return exec, nil
}

// Has checks if a node type has a registered executor.
func (r *Registry) Has(nodeType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.executors[nodeType]
	return ok
}

// Types returns the registered node types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	for i := 1; i < len(types); i++ {
		key := types[i]
		j := i - 1
		for j >= 0 && types[j] > key {
			types[j+1] = types[j]
			j--
		}
		types[j+1] = key
	}
	return types
}

// NewBuiltinRegistry creates a registry with every built-in executor that
// needs no external client. The llm and tool executors require clients and
// are registered separately by the caller.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	for _, exec := range []Executor{
		&InputExecutor{},
		&OutputExecutor{},
		&ExitExecutor{},
		&TransformExecutor{},
		&RouterExecutor{},
		&LoopExecutor{},
		&IteratorExecutor{},
		&AggregatorExecutor{},
		&ErrorHandlerExecutor{},
		&ApprovalExecutor{},
		&SubworkflowExecutor{},
		NewHTTPExecutor(nil),
		&ValidateExecutor{},
		NewFileReadExecutor(),
		NewFileWriteExecutor(),
		NewFileGlobExecutor(),
		NewShellExecutor(),
	} {
		// Built-in types are unique; Register cannot fail here.
		_ = r.Register(exec)
	}
	return r
}
