// Package emitterdrv implements the EmitterDriver contract of spec.md
// §4.2: writing a position waveform to the scanner, parking, the scanning
// indicator TTLs, and the per-pixel newPositionEvent. Grounded on the
// teacher's per-row/per-beam flattening loops (ping.go newPingHeaders plus
// its beam loops) generalized from flattening sonar beam headers to
// flattening a rotated pixel waveform, and on internal/geo for the
// trigonometry itself.
package emitterdrv

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/sixy6e/scanacq"
	"github.com/sixy6e/scanacq/internal/capability"
	"github.com/sixy6e/scanacq/internal/geo"
)

// Handle implements capability.WriteHandle for any Driver in this package.
type Handle struct {
	done    chan error
	cancel  func()
	once    sync.Once
}

func newHandle(cancel func()) *Handle {
	return &Handle{done: make(chan error, 1), cancel: cancel}
}

func (h *Handle) finish(err error) {
	h.once.Do(func() { h.done <- err })
}

// Wait blocks until the write completes, the context or timeout elapses.
func (h *Handle) Wait(ctx context.Context, timeout time.Duration) error {
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}
	select {
	case err := <-h.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-timeoutCh:
		return scanacq.NewTransientError(scanacq.ErrTransient)
	}
}

// Cancel stops the write; idempotent.
func (h *Handle) Cancel() {
	if h.cancel != nil {
		h.cancel()
	}
}

// WaveformGen computes a flattened (x,y) waveform for a W x H grid of
// pixel centers with per-row leading margin samples, replicated DPR times
// per pixel, exactly as spec.md §4.2 describes. It is a thin adapter over
// internal/geo kept here so the driver package owns the "what the hardware
// is told to do" half of the algorithm, while internal/geo owns the pure
// trigonometry.
func WaveformGen(w, h, margin, dpr int, pixelW, pixelH, tx, ty, theta float64, restPos [2]float64) [][2]float64 {
	rest := geo.Point{X: restPos[0], Y: restPos[1]}
	out := make([][2]float64, 0, (w+margin)*h*dpr)
	for row := 0; row < h; row++ {
		for m := 0; m < margin; m++ {
			out = append(out, [2]float64{rest.X, rest.Y})
		}
		first, last := geo.RowEndpoints(w, h, row, pixelW, pixelH, tx, ty, theta)
		for col := 0; col < w; col++ {
			t := 0.0
			if w > 1 {
				t = float64(col) / float64(w-1)
			}
			p := geo.Lerp(first, last, t)
			for d := 0; d < dpr; d++ {
				out = append(out, [2]float64{p.X, p.Y})
			}
		}
	}
	return out
}

// PositionEventSchedule computes which waveform sample indices within one
// tile correspond to a pixel dwell boundary (one per pixel column, never a
// margin column -- spec.md §9 Open Question resolved: margin columns are
// identified structurally, not by "margin == 0").
func PositionEventSchedule(w, margin, osr, dpr int, rows int) []int {
	stride := (w + margin) * osr * dpr
	marginSamples := margin * osr * dpr
	perPixel := osr * dpr
	out := make([]int, 0, w*rows)
	for row := 0; row < rows; row++ {
		base := row * stride
		for col := 0; col < w; col++ {
			out = append(out, base+marginSamples+col*perPixel)
		}
	}
	return out
}

// FireNewPositionEvents schedules ev.Notify() by wall clock for each pixel
// dwell boundary in indices, spaced period*itemsPerIndex apart starting at
// start, skipping (and logging, never silently hiding, per spec.md §4.2)
// any firing that would overrun by more than one period.
func FireNewPositionEvents(ctx context.Context, ev *scanacq.SyncEvent, start time.Time, period time.Duration, indices []int, itemsPerIndex int) {
	skipped := 0
	for _, idx := range indices {
		due := start.Add(time.Duration(idx*itemsPerIndex) * period)
		d := time.Until(due)
		if d < -period {
			skipped++
			continue
		}
		if d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				if skipped > 0 {
					log.Printf("emitterdrv: skipped %d newPositionEvent firings before cancellation", skipped)
				}
				return
			}
		}
		ev.Notify()
	}
	if skipped > 0 {
		log.Printf("emitterdrv: skipped %d newPositionEvent firings (would have overrun)", skipped)
	}
}

// Descriptor bundles the read-only Emitter descriptors the planner and
// engine consult.
type Descriptor struct {
	Shape           [2]int
	FieldExtent     [2]float64
	DwellMin        time.Duration
	DwellMax        time.Duration
	Granularity     time.Duration
	VectorMode      bool
	BufferCeiling   int
	RestingPosition [2]float64
}

var _ capability.Emitter = (*SimulatedEmitter)(nil)
