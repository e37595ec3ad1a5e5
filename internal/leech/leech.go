// Package leech implements the Leech Scheduler of spec.md §4.6: periodic
// in-scan tasks that interrupt the main raster at pixel boundaries.
// Grounded on the teacher's lo.Difference-based schema-reconciliation idiom
// (nulls.go) for due-leech selection, repurposed from reconciling beam
// subrecord schemas to reconciling which leeches are due within a tile.
package leech

import (
	"context"
	"log"

	"github.com/samber/lo"

	"github.com/sixy6e/scanacq"
)

// Leech is the explicit state-machine contract of spec.md §4.6, modeled as
// a state machine the engine drives rather than the source's coroutine-
// style next() generator mixed with blocking sub-acquisitions (spec.md §9
// redesign flag).
type Leech interface {
	Name() string
	// SeriesStart initializes leech state at scan begin.
	SeriesStart(ctx context.Context) error
	// Period is the leech's requested firing interval, in pixels.
	Period() int
	// NextPixel is the next absolute pixel index (monotonically
	// increasing) at which this leech must fire.
	NextPixel() int
	// Fire executes one firing at (or, tolerated, up to one row after)
	// NextPixel, returning the updated NextPixel and an optional drift
	// offset (non-zero only for drift-correcting leeches).
	Fire(ctx context.Context, firedAtPixel int) (nextPixel int, driftOffset [2]float64, err error)
	// Required reports whether a failure of this leech must fail the
	// whole scan (spec.md §4.5 step l: "leech failures do not fail the
	// scan unless the leech is marked required").
	Required() bool
	// Complete attaches this leech's per-leech metadata/DataArrays to the
	// assembled outputs.
	Complete(outputs map[string]*scanacq.DataArray) error
	// SeriesComplete is called at scan end, even on failure or
	// cancellation, so the leech can release resources.
	SeriesComplete(outputs map[string]*scanacq.DataArray)
}

// EstimatingLeech is implemented by leeches that report a per-firing time
// estimate. Neither the engine nor the clock coordinator consults it when
// picking tile size; only Period feeds that choice, via
// Scheduler.MinPeriod.
type EstimatingLeech interface {
	Leech
	EstimateAcquisitionTime() float64 // seconds
}

// Scheduler selects which leeches are due within a tile's row range and
// fires them, firing ties in declaration order (spec.md §9 Open Question,
// resolved: "source fires each in declaration order ... implementers
// should make the order explicit"; here it is the only order implemented).
type Scheduler struct {
	leeches []Leech
}

// NewScheduler builds a Scheduler over leeches in the exact order they are
// declared on the stream; that order is also the tie-break order used when
// more than one leech is due within the same tile.
func NewScheduler(leeches []Leech) *Scheduler {
	return &Scheduler{leeches: append([]Leech(nil), leeches...)}
}

// Leeches returns the leeches in declaration order.
func (s *Scheduler) Leeches() []Leech { return s.leeches }

// MinPeriod returns the smallest Period() across all leeches, or 0 if there
// are none; the clock coordinator uses this to force single-row tiles when
// a leech's period is sub-row (spec.md §4.4).
func (s *Scheduler) MinPeriod() int {
	if len(s.leeches) == 0 {
		return 0
	}
	min := s.leeches[0].Period()
	for _, l := range s.leeches[1:] {
		if l.Period() < min {
			min = l.Period()
		}
	}
	return min
}

// DueWithin returns, in declaration order, the leeches whose NextPixel
// falls within [r0Pixel, r1Pixel) -- the pixel range a tile's row bounds
// cover once flattened to a 1-D pixel index.
func (s *Scheduler) DueWithin(r0Pixel, r1Pixel int) []Leech {
	return lo.Filter(s.leeches, func(l Leech, _ int) bool {
		np := l.NextPixel()
		return np >= r0Pixel && np < r1Pixel
	})
}

// ClampTileEnd shrinks r1 to stop at the earliest due leech's NextPixel
// within the tile, never shorter than one row, per spec.md §4.5 step 6b:
// "possibly shrink r1 to stop at the leech's next_pixel boundary, never
// shorter than one row".
func (s *Scheduler) ClampTileEnd(r0, r1, w, minRows int) int {
	r0Pixel := r0 * w
	r1Pixel := r1 * w
	earliest := r1Pixel
	for _, l := range s.leeches {
		np := l.NextPixel()
		if np >= r0Pixel && np < earliest {
			earliest = np
		}
	}
	clampedRow := earliest/w + 1
	if clampedRow < r0+minRows {
		clampedRow = r0 + minRows
	}
	if clampedRow > r1 {
		clampedRow = r1
	}
	return clampedRow
}

// SeriesStart calls SeriesStart on every leech.
func (s *Scheduler) SeriesStart(ctx context.Context) error {
	for _, l := range s.leeches {
		if err := l.SeriesStart(ctx); err != nil {
			return err
		}
	}
	return nil
}

// SeriesComplete calls SeriesComplete on every leech, even if outputs is
// incomplete due to a prior failure or cancellation (spec.md §3 Leech
// lifecycle: "series_complete(output) at scan end even on failure").
func (s *Scheduler) SeriesComplete(outputs map[string]*scanacq.DataArray) {
	for _, l := range s.leeches {
		l.SeriesComplete(outputs)
	}
}

// FireDue fires every due leech in declaration order, collecting the
// latest non-zero drift offset (later leeches override earlier ones, which
// in practice means at most one drift-correcting leech is configured per
// scan). Every failing leech is logged; FireDue returns the first error
// from a leech whose Required() flag is set, if any, but still attempts to
// fire the remaining due leeches.
func (s *Scheduler) FireDue(ctx context.Context, due []Leech, firedAtPixel int) (driftOffset [2]float64, firstRequiredErr error) {
	for _, l := range due {
		next, offset, err := l.Fire(ctx, firedAtPixel)
		if err != nil {
			wrapped := scanacq.NewLeechError(l.Name(), err)
			log.Printf("leech: %v", wrapped)
			if l.Required() && firstRequiredErr == nil {
				firstRequiredErr = wrapped
			}
			continue
		}
		_ = next // the concrete leech updates its own NextPixel internally
		if offset != ([2]float64{}) {
			driftOffset = offset
		}
	}
	return driftOffset, firstRequiredErr
}
