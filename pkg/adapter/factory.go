package adapter

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// Constructor builds an Adapter from its environment-derived config map.
type Constructor func(config map[string]string) Adapter

// Factory is a name-to-constructor registry. Additional vendor adapters are
// added to a Factory instance with Register; the core ships only the "mock"
// adapter, which NewFactory pre-registers.
type Factory struct {
	mu       sync.RWMutex
	registry map[string]Constructor
}

// NewFactory returns a Factory pre-registered with the mock adapter.
func NewFactory() *Factory {
	f := &Factory{registry: make(map[string]Constructor)}
	f.Register("mock", func(config map[string]string) Adapter {
		return NewMockAdapter(config)
	})
	return f
}

// Register adds or replaces the constructor for name.
func (f *Factory) Register(name string, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registry[name] = ctor
}

// Create instantiates the named adapter, merging environment-sourced config
// (ADAPTER_<NAME>_* variables) with the explicit overrides.
func (f *Factory) Create(name string, overrides map[string]string) (Adapter, error) {
	f.mu.RLock()
	ctor, ok := f.registry[name]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("adapter %q is not registered", name)
	}

	config := LoadPrefixedEnv(fmt.Sprintf("ADAPTER_%s_", strings.ToUpper(name)))
	for k, v := range overrides {
		config[k] = v
	}
	return ctor(config), nil
}

// LoadPrefixedEnv returns process environment variables that start with
// prefix (case-insensitive), with keys stripped of the prefix and
// lowercased.
func LoadPrefixedEnv(prefix string) map[string]string {
	upperPrefix := strings.ToUpper(prefix)
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if !strings.HasPrefix(strings.ToUpper(key), upperPrefix) {
			continue
		}
		normalized := strings.ToLower(strings.TrimPrefix(strings.ToUpper(key), upperPrefix))
		out[normalized] = value
	}
	return out
}
