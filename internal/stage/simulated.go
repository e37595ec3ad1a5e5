package stage

import (
	"context"
	"sync"
	"time"

	"github.com/sixy6e/scanacq/internal/capability"
)

// SimulatedActuator is an in-process stand-in for a mechanical scan stage,
// grounded the same way emitterdrv.SimulatedEmitter stands in for scanner
// hardware: just enough behavior to drive the real Actuator contract
// without talking to a device.
type SimulatedActuator struct {
	mu       sync.Mutex
	axes     map[string]capability.Axis
	position map[string]float64
	settle   time.Duration
}

// NewSimulatedActuator builds a SimulatedActuator with the given axis
// ranges, starting at the midpoint of each axis; every MoveAbs takes settle
// to complete.
func NewSimulatedActuator(axes map[string]capability.Axis, settle time.Duration) *SimulatedActuator {
	pos := make(map[string]float64, len(axes))
	for name, ax := range axes {
		pos[name] = (ax.Min + ax.Max) / 2
	}
	return &SimulatedActuator{axes: axes, position: pos, settle: settle}
}

func (s *SimulatedActuator) Axes() map[string]capability.Axis { return s.axes }

func (s *SimulatedActuator) Position() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]float64, len(s.position))
	for k, v := range s.position {
		out[k] = v
	}
	return out
}

// MoveAbs moves every named axis in pos, settling for s.settle before the
// returned future resolves.
func (s *SimulatedActuator) MoveAbs(pos map[string]float64) capability.MoveFuture {
	f := &simulatedMove{done: make(chan struct{})}
	go func() {
		if s.settle > 0 {
			time.Sleep(s.settle)
		}
		s.mu.Lock()
		for k, v := range pos {
			s.position[k] = v
		}
		s.mu.Unlock()
		close(f.done)
	}()
	return f
}

type simulatedMove struct {
	done chan struct{}
}

func (m *simulatedMove) Result(ctx context.Context) error {
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *simulatedMove) Cancel() {}

func (m *simulatedMove) Done() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}
