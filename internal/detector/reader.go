// Package detector implements the DetectorReader contract of spec.md §4.3:
// the shared prepare/run/wait/cancel cycle plus the per-kind decimation
// rules (averaging for analog, summation for counting/camera-integration).
// Grounded on the teacher's ScaleFactor/ScaleOffset decode arithmetic
// (ping.go) -- there, a fixed-point sonar sample is widened, scaled, and
// offset on decode; here, OSR/DPR sub-samples are widened, summed, and
// optionally divided on decimation.
package detector

import (
	"context"
	"sync"
	"time"

	"github.com/sixy6e/scanacq"
	"github.com/sixy6e/scanacq/internal/capability"
)

// State is the lifecycle state of a Reader's current tile.
type State int

const (
	StateIdle State = iota
	StatePrepared
	StateRunning
	StateCancelRequired
)

// Reader is the shared per-tile cycle every concrete detector variant
// implements (spec.md §4.3).
type Reader interface {
	Kind() capability.DetectorKind
	Prepare(ctx context.Context, sampleCount int, expectedDuration time.Duration) error
	Run(ctx context.Context) error
	Wait(ctx context.Context, timeout time.Duration) ([]float64, error)
	Cancel()
}

// baseReader factors the state machine and inversion handling common to
// every concrete reader, the same way the teacher factors ScaleOffset out
// of every sensor-specific scale factor record.
type baseReader struct {
	mu       sync.Mutex
	state    State
	inverted bool
	maxValue float64
	samples  chan []float64
	cancel   context.CancelFunc
}

func newBaseReader(inverted bool, maxValue float64) *baseReader {
	return &baseReader{inverted: inverted, maxValue: maxValue}
}

func (b *baseReader) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

func (b *baseReader) getState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// invert maps v to (max_value - v) when the inverted flag is set (spec.md
// §4.3 Inversion).
func (b *baseReader) invert(v float64) float64 {
	if !b.inverted {
		return v
	}
	return b.maxValue - v
}

func (b *baseReader) invertAll(vs []float64) []float64 {
	if !b.inverted {
		return vs
	}
	out := make([]float64, len(vs))
	for i, v := range vs {
		out[i] = b.invert(v)
	}
	return out
}

// DecimateAverage sums each group of OSR*DPR consecutive raw samples (one
// pixel) into a wider accumulator then divides by OSR*DPR, for averaging
// (analog) detectors
// (spec.md §4.5 step h, §8: for constant signal s, output == s).
func DecimateAverage(raw []float64, osr, dpr int) []float64 {
	group := osr * dpr
	n := len(raw) / group
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		var acc float64
		for j := 0; j < group; j++ {
			acc += raw[i*group+j]
		}
		out[i] = acc / float64(group)
	}
	return out
}

// DecimateSum sums DPR (and, for counting detectors whose raw samples are
// already cumulative within a pixel, OSR) sub-samples per pixel without
// dividing, for integrating (counting/camera) detectors (spec.md §4.5 step
// h, §8: for integration count k and constant signal s, output == s*k).
func DecimateSum(raw []float64, group int) []float64 {
	n := len(raw) / group
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		var acc float64
		for j := 0; j < group; j++ {
			acc += raw[i*group+j]
		}
		out[i] = acc
	}
	return out
}

// TrimMargin removes the first margin pixels of every row-of-w-pixels
// slice (spec.md §4.5 step h: "Trim the M margin columns").
func TrimMargin(decimated []float64, w, margin, rows int) []float64 {
	if margin == 0 {
		return decimated
	}
	stride := w + margin
	out := make([]float64, 0, w*rows)
	for row := 0; row < rows; row++ {
		start := row*stride + margin
		out = append(out, decimated[start:start+w]...)
	}
	return out
}

func waitOnChannel(ctx context.Context, ch <-chan []float64, timeout time.Duration) ([]float64, error) {
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}
	select {
	case data, ok := <-ch:
		if !ok {
			return nil, scanacq.NewTransientError(scanacq.ErrTransient)
		}
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeoutCh:
		return nil, scanacq.NewTransientError(scanacq.ErrTransient)
	}
}
