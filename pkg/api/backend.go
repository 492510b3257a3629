package api

import (
	"strings"
	"sync"
)

// PrinterBackend is the host runtime surface the API server queries.
type PrinterBackend interface {
	// ObjectNames returns the queryable object names.
	ObjectNames() []string

	// ObjectStatus returns one object's status map. A nil attrs
	// requests every attribute; an unknown object returns nil.
	ObjectStatus(name string, attrs []string) map[string]any

	// RunScript executes a g-code script, line by line.
	RunScript(script string) error

	// EmergencyStop latches the emergency shutdown.
	EmergencyStop()

	// State returns the controller state string.
	State() string
}

// StatusFunc produces one object's status map.
type StatusFunc func(attrs []string) map[string]any

// Registry is a PrinterBackend assembled from registered closures.
// The host runtime registers each module's GetStatus and the g-code
// executor at startup.
type Registry struct {
	mu      sync.RWMutex
	objects map[string]StatusFunc
	names   []string
	script  func(line string) error
	stop    func()
	state   func() string
}

// NewRegistry returns an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{objects: make(map[string]StatusFunc)}
}

// RegisterObject exposes an object under name.
func (reg *Registry) RegisterObject(name string, fn StatusFunc) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, ok := reg.objects[name]; !ok {
		reg.names = append(reg.names, name)
	}
	reg.objects[name] = fn
}

// SetScriptRunner sets the per-line g-code executor.
func (reg *Registry) SetScriptRunner(fn func(line string) error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.script = fn
}

// SetEmergencyStop sets the emergency stop hook.
func (reg *Registry) SetEmergencyStop(fn func()) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.stop = fn
}

// SetStateFunc sets the controller state getter.
func (reg *Registry) SetStateFunc(fn func() string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.state = fn
}

// ObjectNames implements PrinterBackend.
func (reg *Registry) ObjectNames() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	names := make([]string, len(reg.names))
	copy(names, reg.names)
	return names
}

// ObjectStatus implements PrinterBackend.
func (reg *Registry) ObjectStatus(name string, attrs []string) map[string]any {
	reg.mu.RLock()
	fn, ok := reg.objects[name]
	reg.mu.RUnlock()
	if !ok {
		return nil
	}
	return FilterStatus(fn(attrs), attrs)
}

// RunScript implements PrinterBackend. The script is split into lines
// and each non-blank, non-comment line is handed to the executor.
func (reg *Registry) RunScript(script string) error {
	reg.mu.RLock()
	run := reg.script
	reg.mu.RUnlock()
	if run == nil {
		return nil
	}
	for _, line := range strings.Split(script, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}
		if err := run(line); err != nil {
			return err
		}
	}
	return nil
}

// EmergencyStop implements PrinterBackend.
func (reg *Registry) EmergencyStop() {
	reg.mu.RLock()
	stop := reg.stop
	reg.mu.RUnlock()
	if stop != nil {
		stop()
	}
}

// State implements PrinterBackend.
func (reg *Registry) State() string {
	reg.mu.RLock()
	state := reg.state
	reg.mu.RUnlock()
	if state == nil {
		return "ready"
	}
	return state()
}

// FilterStatus narrows a status map to the requested attributes. Nil
// or empty attrs return the map unchanged.
func FilterStatus(status map[string]any, attrs []string) map[string]any {
	if status == nil || len(attrs) == 0 {
		return status
	}
	filtered := make(map[string]any, len(attrs))
	for _, attr := range attrs {
		if val, ok := status[attr]; ok {
			filtered[attr] = val
		}
	}
	return filtered
}
