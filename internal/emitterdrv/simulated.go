package emitterdrv

import (
	"context"
	"sync"
	"time"

	"github.com/sixy6e/scanacq"
	"github.com/sixy6e/scanacq/internal/capability"
)

// SimulatedEmitter is an in-process stand-in for real scanner hardware,
// grounded on the original source's driver/simulated.py (original_source):
// a minimal component that satisfies the capability contract without
// talking to a device, used by cmd/scansim and by tests.
type SimulatedEmitter struct {
	mu          sync.Mutex
	shape       [2]int
	fieldExtent [2]float64
	dwellMin    time.Duration
	dwellMax    time.Duration
	granularity time.Duration
	vectorMode  bool
	bufCeiling  int
	resting     [2]float64
	position    [2]float64
	parked      bool

	newPosEvent *scanacq.SyncEvent
}

// NewSimulatedEmitter builds a simulated emitter with reasonable defaults
// for a SEM-scale scanner.
func NewSimulatedEmitter() *SimulatedEmitter {
	return &SimulatedEmitter{
		shape:       [2]int{4096, 4096},
		fieldExtent: [2]float64{1e-4, 1e-4},
		dwellMin:    100 * time.Nanosecond,
		dwellMax:    10 * time.Second,
		granularity: 100 * time.Nanosecond,
		vectorMode:  true,
		bufCeiling:  1 << 20,
		resting:     [2]float64{0, 0},
		newPosEvent: scanacq.NewSyncEvent("emitter.newPosition"),
	}
}

func (s *SimulatedEmitter) Shape() (w, h int) { return s.shape[0], s.shape[1] }
func (s *SimulatedEmitter) FieldExtent() (w, h float64) {
	return s.fieldExtent[0], s.fieldExtent[1]
}
func (s *SimulatedEmitter) DwellRange() (min, max, granularity time.Duration) {
	return s.dwellMin, s.dwellMax, s.granularity
}
func (s *SimulatedEmitter) VectorMode() bool   { return s.vectorMode }
func (s *SimulatedEmitter) BufferCeiling() int { return s.bufCeiling }
func (s *SimulatedEmitter) RestingPosition() [2]float64 { return s.resting }
func (s *SimulatedEmitter) NewPositionEvent() *scanacq.SyncEvent { return s.newPosEvent }

// ParkAt sets the emitter to pos synchronously.
func (s *SimulatedEmitter) ParkAt(pos [2]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.position = pos
	s.parked = true
	return nil
}

// SetScanningIndicator simulates the assert/grace delays; a real driver
// would instead drive TTL output lines.
func (s *SimulatedEmitter) SetScanningIndicator(active bool, assertDelay, graceDelay time.Duration) {
	if active {
		if assertDelay > 0 {
			time.Sleep(assertDelay)
		}
		return
	}
	if graceDelay > 0 {
		time.Sleep(graceDelay)
	}
}

// WriteWaveform begins a simulated timed output at period, honoring
// cancellation and reporting a size-too-large error if the waveform
// exceeds BufferCeiling (spec.md §4.2 failure semantics).
func (s *SimulatedEmitter) WriteWaveform(ctx context.Context, waveform [][2]float64, period time.Duration, mode capability.TriggerMode) (capability.WriteHandle, error) {
	if len(waveform) > s.bufCeiling {
		return nil, scanacq.ErrSizeTooLarge
	}
	s.mu.Lock()
	s.parked = false
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	h := newHandle(cancel)

	go func() {
		total := time.Duration(len(waveform)) * period
		timer := time.NewTimer(total)
		defer timer.Stop()
		select {
		case <-timer.C:
			s.mu.Lock()
			if len(waveform) > 0 {
				last := waveform[len(waveform)-1]
				s.position = last
			}
			s.mu.Unlock()
			h.finish(nil)
		case <-runCtx.Done():
			h.finish(scanacq.NewCancelledError())
		}
	}()

	return h, nil
}

// Position reports the simulator's current position, for tests/diagnostics.
func (s *SimulatedEmitter) Position() [2]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// IsParked reports whether the last operation left the emitter parked.
func (s *SimulatedEmitter) IsParked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.parked
}
