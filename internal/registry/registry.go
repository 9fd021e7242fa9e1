// Package registry holds the process-wide directory of tools.
//
// The registry is populated at startup and sealed before any listener
// accepts connections. After Seal it is immutable and lookups take no lock.
package registry

import (
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/camera-control/ccs/internal/tool"
)

// ErrSealed is returned by Register once the registry has been sealed.
var ErrSealed = errors.New("registry is sealed")

// Entry is a registered tool together with its access lock.
type Entry struct {
	Tool tool.Tool
	mu   sync.RWMutex
}

// Do runs fn while holding the tool's lock: exclusively when exclusive is
// true, shared otherwise. The lock is released when fn returns.
func (e *Entry) Do(exclusive bool, fn func()) {
	if exclusive {
		e.mu.Lock()
		defer e.mu.Unlock()
	} else {
		e.mu.RLock()
		defer e.mu.RUnlock()
	}
	fn()
}

// Registry maps tool names to entries and remembers registration order.
type Registry struct {
	mu      sync.Mutex // guards entries and order until sealed
	sealed  atomic.Bool
	entries map[string]*Entry
	order   []string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
	}
}

// Register adds a tool under name. The first registration of a name wins.
func (r *Registry) Register(name string, t tool.Tool) error {
	if name == "" || strings.ContainsAny(name, ". \t\r\n") {
		return tool.Errorf(tool.ErrArgument, name, "invalid tool name")
	}
	if t == nil {
		return tool.Errorf(tool.ErrArgument, name, "nil tool")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed.Load() {
		return fmt.Errorf("register %s: %w", name, ErrSealed)
	}
	if _, exists := r.entries[name]; exists {
		return tool.NewError(tool.ErrDuplicateName, name, nil)
	}

	r.entries[name] = &Entry{Tool: t}
	r.order = append(r.order, name)
	return nil
}

// Seal makes the registry immutable. Calling it again has no effect.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed.Store(true)
}

// Sealed reports whether Seal has been called.
func (r *Registry) Sealed() bool {
	return r.sealed.Load()
}

// Entry returns the entry registered under name.
func (r *Registry) Entry(name string) (*Entry, error) {
	var (
		e  *Entry
		ok bool
	)
	if r.sealed.Load() {
		e, ok = r.entries[name]
	} else {
		r.mu.Lock()
		e, ok = r.entries[name]
		r.mu.Unlock()
	}
	if !ok {
		return nil, tool.NewError(tool.ErrUnknownTool, name, nil)
	}
	return e, nil
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (tool.Tool, error) {
	e, err := r.Entry(name)
	if err != nil {
		return nil, err
	}
	return e.Tool, nil
}

// List returns the registered names in registration order. The sequence is
// lazy and can be ranged over any number of times.
func (r *Registry) List() iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, name := range r.names() {
			if !yield(name) {
				return
			}
		}
	}
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.names())
}

func (r *Registry) names() []string {
	if r.sealed.Load() {
		return r.order
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}
