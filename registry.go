package nodert

import (
	"fmt"
	"sync"

	"github.com/dop251/goja"
)

// ModuleFactory instantiates a native module's export value inside the
// runtime's script scope. Factories run on the loop goroutine.
type ModuleFactory func(rt *Runtime, vm *goja.Runtime) (goja.Value, error)

// ModuleRegistry maps module names to their Go-side factories. Public
// modules are reachable from script require; internal modules only through
// RequireInternal. The registry is shared across runtimes; per-runtime
// instance caches live on the Runtime.
type ModuleRegistry struct {
	mu         sync.RWMutex
	public     map[string]ModuleFactory
	internal   map[string]ModuleFactory
	mainScript string
}

// SetMainScript installs the bootstrap "main" script used when a runtime is
// constructed without an explicit source.
func (r *ModuleRegistry) SetMainScript(source string) {
	r.mu.Lock()
	r.mainScript = source
	r.mu.Unlock()
}

// MainScript returns the bootstrap main script, if any.
func (r *ModuleRegistry) MainScript() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mainScript
}

func NewModuleRegistry() *ModuleRegistry {
	return &ModuleRegistry{
		public:   make(map[string]ModuleFactory),
		internal: make(map[string]ModuleFactory),
	}
}

// RegisterPublic adds a script-visible module.
func (r *ModuleRegistry) RegisterPublic(name string, f ModuleFactory) {
	r.mu.Lock()
	r.public[name] = f
	r.mu.Unlock()
}

// RegisterInternal adds a module reachable only from host code and other
// modules.
func (r *ModuleRegistry) RegisterInternal(name string, f ModuleFactory) {
	r.mu.Lock()
	r.internal[name] = f
	r.mu.Unlock()
}

func (r *ModuleRegistry) lookup(name string, internal bool) ModuleFactory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if internal {
		return r.internal[name]
	}
	return r.public[name]
}

// Require resolves a public module for the runtime, instantiating it on
// first use and caching the instance. Loop goroutine only.
func (rt *Runtime) Require(name string) (goja.Value, error) {
	return rt.requireModule(name, false)
}

// RequireInternal resolves an internal module the same way.
func (rt *Runtime) RequireInternal(name string) (goja.Value, error) {
	return rt.requireModule(name, true)
}

func (rt *Runtime) requireModule(name string, internal bool) (goja.Value, error) {
	cache := rt.moduleCache
	if internal {
		cache = rt.internalCache
	}
	if v, ok := cache[name]; ok {
		return v, nil
	}
	if rt.cfg.Registry == nil {
		return nil, fmt.Errorf("cannot find module %q", name)
	}
	factory := rt.cfg.Registry.lookup(name, internal)
	if factory == nil {
		return nil, fmt.Errorf("cannot find module %q", name)
	}
	v, err := factory(rt, rt.vm)
	if err != nil {
		return nil, fmt.Errorf("instantiating module %q: %w", name, err)
	}
	cache[name] = v
	return v, nil
}
