// Package refengine is an in-process implementation of the native boosting
// ABI. It stores datasets in gonum matrices, grows exact-greedy regression
// trees from gradient statistics, and implements the extended single-row and
// checkpoint entry points, so the whole stack runs without libxgboost.
//
// The engine registers itself as the "reference" backend:
//
//	import _ "github.com/YuminosukeSato/xgbwrap/native/refengine"
//	lib, err := native.Open(native.BackendReference)
package refengine

import (
	"runtime"
	"sync"

	"github.com/klauspost/cpuid/v2"

	"github.com/YuminosukeSato/xgbwrap/native"
	"github.com/YuminosukeSato/xgbwrap/pkg/errors"
)

func init() {
	native.Register(native.BackendReference, func() (native.Library, error) {
		return New(), nil
	})
}

// Engine implements native.OneOffLibrary and native.CollectiveLibrary.
// Handle tables are guarded by one RWMutex. The last error message is shared
// by all goroutines, unlike the thread-local message of the C library.
type Engine struct {
	mu         sync.RWMutex
	nextHandle uintptr
	datasets   map[native.DatasetHandle]*dataset
	boosters   map[native.BoosterHandle]*booster

	errMu   sync.Mutex
	lastErr string

	rabit collectiveState
}

var (
	_ native.OneOffLibrary     = (*Engine)(nil)
	_ native.CollectiveLibrary = (*Engine)(nil)
)

// New creates an empty engine.
func New() *Engine {
	return &Engine{
		datasets: make(map[native.DatasetHandle]*dataset),
		boosters: make(map[native.BoosterHandle]*booster),
	}
}

// Name implements native.Library.
func (e *Engine) Name() string { return native.BackendReference }

// Capabilities implements native.Library. Every optional group is present.
func (e *Engine) Capabilities() native.Capabilities {
	return native.Capabilities{OneOff: true, Collective: true}
}

// GetLastError implements native.Library.
func (e *Engine) GetLastError() string {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	return e.lastErr
}

func (e *Engine) setLastError(msg string) {
	e.errMu.Lock()
	e.lastErr = msg
	e.errMu.Unlock()
}

// call runs fn and turns an error or a panic into status -1.
func (e *Engine) call(op string, fn func() error) int {
	var err error
	func() {
		defer errors.Recover(&err, op)
		err = fn()
	}()
	if err != nil {
		e.setLastError(op + ": " + err.Error())
		return -1
	}
	return 0
}

func (e *Engine) allocHandle() uintptr {
	e.nextHandle++
	return e.nextHandle
}

func (e *Engine) dataset(h native.DatasetHandle) (*dataset, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	d, ok := e.datasets[h]
	if !ok {
		return nil, errors.Newf("invalid DMatrix handle %d", h)
	}
	return d, nil
}

func (e *Engine) booster(h native.BoosterHandle) (*booster, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	b, ok := e.boosters[h]
	if !ok {
		return nil, errors.Newf("invalid Booster handle %d", h)
	}
	return b, nil
}

// LiveHandles reports how many dataset and booster handles are allocated.
// Tests use it to check that wrappers release what they create.
func (e *Engine) LiveHandles() (datasets, boosters int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.datasets), len(e.boosters)
}

// defaultThreads is the physical core count, falling back to the logical count.
func defaultThreads() int {
	if n := cpuid.CPU.PhysicalCores; n > 0 {
		return n
	}
	return runtime.NumCPU()
}
