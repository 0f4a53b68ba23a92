package native

import (
	"sort"
	"sync"

	"github.com/YuminosukeSato/xgbwrap/pkg/errors"
)

// Opener opens a backend. Backends register one from an init function.
type Opener func() (Library, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Opener{}
)

// Backend names registered by this module.
const (
	BackendReference = "reference"
	BackendXGBoost   = "xgboost"
)

// Register makes a backend available under name. Registering the same name
// twice replaces the previous opener.
func Register(name string, open Opener) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = open
}

// Open opens the backend registered under name.
func Open(name string) (Library, error) {
	registryMu.RLock()
	open, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.NewValidationError("backend", "no backend registered under this name", name)
	}
	lib, err := open()
	if err != nil {
		return nil, errors.Wrapf(err, "opening backend %q", name)
	}
	return lib, nil
}

// OpenDefault prefers the cgo binding when it was compiled in and falls back
// to the reference engine.
func OpenDefault() (Library, error) {
	for _, name := range []string{BackendXGBoost, BackendReference} {
		registryMu.RLock()
		_, ok := registry[name]
		registryMu.RUnlock()
		if ok {
			return Open(name)
		}
	}
	return nil, errors.New("no native backend registered")
}

// Backends lists registered backend names in sorted order.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
