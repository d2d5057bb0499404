package queue

import (
	"sort"
	"sync"
)

// HandlerResult wraps a handler outcome: either success, or an error
// that triggers the retry/dead-letter path in the Executor. Handlers
// themselves return a plain error (see Handler), and the engine recovers
// handler panics into an error at the single dispatch boundary (see
// WorkerEngine.dispatch); nothing in this package constructs a
// HandlerResult.
type HandlerResult struct {
	Err error
}

// Handler is any callable that executes a task. How it runs — in
// process, via subprocess, over a script interpreter — is opaque to the
// queue (spec §1's explicit out-of-scope boundary); the registry only
// ever sees this signature.
type Handler func(task *Task) error

// HandlerInfo is the metadata recorded alongside a registered handler,
// surfaced for debugging and the registry's "known types" error text.
type HandlerInfo struct {
	Type        string
	Description string
	Version     string
	Handler     Handler
}

// HandlerRegistry is the process-wide, explicit task_type -> handler
// mapping described in spec §4.3. Registration is explicit: nothing in
// this package ever scans the Store or filesystem for task types. That
// trust boundary is the entire point of the component — writing an
// unregistered task type into the Store must not be able to trigger
// execution of arbitrary code.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerInfo
}

// NewHandlerRegistry creates an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]HandlerInfo)}
}

var (
	globalRegistry     *HandlerRegistry
	globalRegistryOnce sync.Once
)

// Global returns the process-wide singleton registry. It is a thin
// convenience wrapper over a concrete *HandlerRegistry, not a
// language-level global: WorkerEngine always takes a *HandlerRegistry as
// an explicit dependency, and tests are free to construct their own
// instance instead of touching this one.
func Global() *HandlerRegistry {
	globalRegistryOnce.Do(func() {
		globalRegistry = NewHandlerRegistry()
	})
	return globalRegistry
}

// ResetGlobal discards all registrations on the global singleton. It is
// for tests; production code has no reason to call it.
func ResetGlobal() {
	Global().mu.Lock()
	defer Global().mu.Unlock()
	Global().handlers = make(map[string]HandlerInfo)
}

// Register adds a handler for a task type. Fails if the type is empty,
// the handler is nil, or a handler already exists for the type and
// allowOverride is false.
func (r *HandlerRegistry) Register(taskType string, handler Handler, description, version string, allowOverride bool) error {
	if taskType == "" {
		return newErr(KindValidation, nil, "task type must not be empty")
	}
	if handler == nil {
		return newErr(KindValidation, nil, "handler must not be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[taskType]; exists && !allowOverride {
		return newErr(KindHandlerAlreadyRegistered, nil, "handler already registered for type %q", taskType)
	}

	r.handlers[taskType] = HandlerInfo{
		Type:        taskType,
		Description: description,
		Version:     version,
		Handler:     handler,
	}
	return nil
}

// Unregister removes the handler for taskType, reporting whether one
// existed.
func (r *HandlerRegistry) Unregister(taskType string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[taskType]; !exists {
		return false
	}
	delete(r.handlers, taskType)
	return true
}

// Get returns the handler registered for taskType. The error message
// lists known types to aid debugging, per spec §4.3.
func (r *HandlerRegistry) Get(taskType string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, exists := r.handlers[taskType]
	if !exists {
		return nil, newErr(KindHandlerNotRegistered, nil,
			"no handler registered for type %q (known types: %s)", taskType, r.knownTypesLocked())
	}
	return info.Handler, nil
}

// IsRegistered reports whether a handler exists for taskType.
func (r *HandlerRegistry) IsRegistered(taskType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.handlers[taskType]
	return exists
}

// Validate raises HandlerNotRegistered if task.Type has no handler.
// WorkerEngine calls this immediately after claim, before dispatch.
func (r *HandlerRegistry) Validate(task *Task) error {
	if !r.IsRegistered(task.Type) {
		_, err := r.Get(task.Type)
		return err
	}
	return nil
}

// KnownTypes returns every currently registered task type, sorted.
func (r *HandlerRegistry) KnownTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.knownTypesSliceLocked()
}

func (r *HandlerRegistry) knownTypesLocked() string {
	types := r.knownTypesSliceLocked()
	if len(types) == 0 {
		return "(none registered)"
	}
	out := ""
	for i, t := range types {
		if i > 0 {
			out += ", "
		}
		out += t
	}
	return out
}

func (r *HandlerRegistry) knownTypesSliceLocked() []string {
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
