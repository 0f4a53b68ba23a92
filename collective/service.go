// Package collective wraps the rabit-style checkpoint primitives of a native
// backend in an explicitly initialized service.
//
// A Service is created once per process and handed to training and boosters
// as a dependency. Local returns an inactive service whose checkpoint calls
// are no-ops, which is what single-process training uses.
package collective

import (
	"sync"

	"github.com/YuminosukeSato/xgbwrap/native"
	"github.com/YuminosukeSato/xgbwrap/pkg/errors"
	"github.com/YuminosukeSato/xgbwrap/pkg/log"
)

// Service is the distributed checkpoint service. It is safe for concurrent use.
type Service struct {
	lib    native.CollectiveLibrary
	logger log.Logger

	mu     sync.Mutex
	active bool
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used for lifecycle events.
func WithLogger(l log.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// New binds a service to lib. It fails with ErrCollectiveUnavailable when the
// backend has no checkpoint entry points.
func New(lib native.Library, opts ...Option) (*Service, error) {
	col, err := native.Collective(lib)
	if err != nil {
		return nil, err
	}
	s := &Service{lib: col}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.GetLogger()
	}
	s.logger = s.logger.With(log.ComponentKey, "collective", log.BackendKey, lib.Name())
	return s, nil
}

// Local returns a service that is never active.
func Local() *Service {
	return &Service{logger: log.Nop()}
}

// Init starts the collective engine with args such as "rabit_world_size=2".
// Calling Init on an active service does nothing.
func (s *Service) Init(args ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lib == nil || s.active {
		return nil
	}
	if err := native.Check(s.lib, "RabitInit", s.lib.RabitInit(args)); err != nil {
		return err
	}
	s.active = true
	s.logger.Info("collective initialized",
		log.RankKey, s.lib.RabitGetRank(),
		log.WorldSizeKey, s.lib.RabitGetWorldSize(),
	)
	return nil
}

// Shutdown finalizes the engine. It is safe to call more than once.
func (s *Service) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return nil
	}
	s.active = false
	if err := native.Check(s.lib, "RabitFinalize", s.lib.RabitFinalize()); err != nil {
		return err
	}
	s.logger.Info("collective finalized")
	return nil
}

// Active reports whether Init succeeded and Shutdown has not been called.
func (s *Service) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Rank is this process's rank, 0 when inactive.
func (s *Service) Rank() int {
	if !s.Active() {
		return 0
	}
	return s.lib.RabitGetRank()
}

// WorldSize is the number of participating processes, 1 when inactive.
func (s *Service) WorldSize() int {
	if !s.Active() {
		return 1
	}
	return s.lib.RabitGetWorldSize()
}

// IsDistributed reports whether more than one process participates.
func (s *Service) IsDistributed() bool {
	if !s.Active() {
		return false
	}
	return s.lib.RabitIsDistributed()
}

// ProcessorName identifies this host.
func (s *Service) ProcessorName() string {
	if !s.Active() {
		return ""
	}
	return s.lib.RabitGetProcessorName()
}

// VersionNumber is the number of checkpoints saved so far.
func (s *Service) VersionNumber() int {
	if !s.Active() {
		return 0
	}
	return s.lib.RabitVersionNumber()
}

// LoadCheckpoint restores the latest checkpoint into h and returns its
// version. An inactive service reports version 0.
func (s *Service) LoadCheckpoint(h native.BoosterHandle) (int, error) {
	if !s.Active() {
		return 0, nil
	}
	var version int
	if err := native.Check(s.lib, "XGBoosterLoadRabitCheckpoint", s.lib.BoosterLoadRabitCheckpoint(h, &version)); err != nil {
		return 0, err
	}
	return version, nil
}

// SaveCheckpoint stores h as the next checkpoint version.
func (s *Service) SaveCheckpoint(h native.BoosterHandle) error {
	if !s.Active() {
		return nil
	}
	return native.Check(s.lib, "XGBoosterSaveRabitCheckpoint", s.lib.BoosterSaveRabitCheckpoint(h))
}

// Library returns the bound backend, or nil for a local service.
func (s *Service) Library() native.Library {
	if s.lib == nil {
		return nil
	}
	return s.lib
}

// CheckVersion fails when the engine's checkpoint version diverges from the
// caller's expected version in a distributed run.
func (s *Service) CheckVersion(expected int) error {
	if !s.IsDistributed() {
		return nil
	}
	if got := s.VersionNumber(); got != expected {
		return errors.Newf("checkpoint version mismatch: expected %d, engine reports %d", expected, got)
	}
	return nil
}
