package refengine

import (
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/YuminosukeSato/xgbwrap/core/model"
	"github.com/YuminosukeSato/xgbwrap/native"
	"github.com/YuminosukeSato/xgbwrap/pkg/errors"
)

// collectiveState emulates the rabit engine of one process. The world size
// and rank come from RabitInit arguments; nothing is exchanged over the
// network, so every rank sees its own checkpoint.
type collectiveState struct {
	mu          sync.Mutex
	initialized bool
	rank        int
	worldSize   int

	version    int
	checkpoint []byte
}

// RabitInit implements native.CollectiveLibrary. Recognized arguments are
// rabit_world_size=N and rabit_task_id=R; anything else is ignored.
func (e *Engine) RabitInit(args []string) int {
	return e.call("RabitInit", func() error {
		s := &e.rabit
		s.mu.Lock()
		defer s.mu.Unlock()
		rank, world := 0, 1
		for _, arg := range args {
			key, value, ok := strings.Cut(arg, "=")
			if !ok {
				continue
			}
			var err error
			switch key {
			case "rabit_world_size":
				world, err = strconv.Atoi(value)
			case "rabit_task_id":
				rank, err = strconv.Atoi(value)
			}
			if err != nil {
				return errors.Wrapf(err, "invalid rabit argument %q", arg)
			}
		}
		if world < 1 || rank < 0 || rank >= world {
			return errors.Newf("invalid rank %d for world size %d", rank, world)
		}
		s.initialized = true
		s.rank, s.worldSize = rank, world
		return nil
	})
}

// RabitFinalize implements native.CollectiveLibrary. It drops the stored
// checkpoint and resets the version.
func (e *Engine) RabitFinalize() int {
	return e.call("RabitFinalize", func() error {
		s := &e.rabit
		s.mu.Lock()
		defer s.mu.Unlock()
		s.initialized = false
		s.rank, s.worldSize = 0, 0
		s.version, s.checkpoint = 0, nil
		return nil
	})
}

// RabitGetRank implements native.CollectiveLibrary.
func (e *Engine) RabitGetRank() int {
	s := &e.rabit
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rank
}

// RabitGetWorldSize implements native.CollectiveLibrary.
func (e *Engine) RabitGetWorldSize() int {
	s := &e.rabit
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return 1
	}
	return s.worldSize
}

// RabitIsDistributed implements native.CollectiveLibrary.
func (e *Engine) RabitIsDistributed() bool {
	return e.RabitGetWorldSize() > 1
}

// RabitGetProcessorName implements native.CollectiveLibrary.
func (e *Engine) RabitGetProcessorName() string {
	host, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return host
}

// RabitVersionNumber implements native.CollectiveLibrary.
func (e *Engine) RabitVersionNumber() int {
	s := &e.rabit
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// BoosterLoadRabitCheckpoint implements native.CollectiveLibrary. When a
// checkpoint exists it replaces the booster's model.
func (e *Engine) BoosterLoadRabitCheckpoint(h native.BoosterHandle, version *int) int {
	return e.call("XGBoosterLoadRabitCheckpoint", func() error {
		b, err := e.booster(h)
		if err != nil {
			return err
		}
		s := &e.rabit
		s.mu.Lock()
		defer s.mu.Unlock()
		*version = s.version
		if s.version == 0 {
			return nil
		}
		var m gbModel
		if err := model.Unmarshal(s.checkpoint, modelMagic, &m); err != nil {
			return errors.Wrap(err, "corrupt checkpoint")
		}
		b.mu.Lock()
		b.model = &m
		b.configured = false
		b.mu.Unlock()
		return nil
	})
}

// BoosterSaveRabitCheckpoint implements native.CollectiveLibrary.
func (e *Engine) BoosterSaveRabitCheckpoint(h native.BoosterHandle) int {
	return e.call("XGBoosterSaveRabitCheckpoint", func() error {
		b, err := e.booster(h)
		if err != nil {
			return err
		}
		if err := b.configure(); err != nil {
			return err
		}
		raw, err := model.Marshal(modelMagic, b.model)
		if err != nil {
			return err
		}
		s := &e.rabit
		s.mu.Lock()
		defer s.mu.Unlock()
		s.checkpoint = raw
		s.version++
		return nil
	})
}
