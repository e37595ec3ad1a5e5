// Package planner implements the ScanPlanner of spec.md §3/§4.2/§4.4: it
// computes the materialized ScanPlan for one scan -- shape, margin,
// oversampling/duplication rate, rows-per-tile, tile count, and the
// per-pixel emitter waveform. Uses internal/clock for timing selection and
// internal/geo for the rotation/translation math, combined the way the
// teacher's ping.go combines ScaleFactor decode parameters with per-beam
// geometry into one PingData record.
package planner

import (
	"time"

	"github.com/samber/lo"

	"github.com/sixy6e/scanacq/internal/clock"
	"github.com/sixy6e/scanacq/internal/geo"
)

// Request describes the inputs to ScanPlanner.Plan, a superset of
// clock.Params plus the geometric/fuzzing parameters §4.2 needs to build
// the waveform itself.
type Request struct {
	clock.Params
	PixelSizeX, PixelSizeY float64 // meters
	TranslationX, TranslationY float64 // meters, ROI center offset from emitter field center
	Rotation                   float64 // radians
	VectorModeCapable          bool
	Fuzzing                    int // K, 0 or 1 means no fuzzing
}

// ScanPlan is the materialized schedule for one scan (spec.md §3).
type ScanPlan struct {
	clock.Plan
	W, H      int
	TileCount int
	// Waveform holds (W+Margin)*H entries, row-major, fast-W slow-H; the
	// first Margin entries of each row hold the row's leading rest
	// position, and the remaining W entries are the pixel-center
	// waveform for that row (spec.md §4.2).
	Waveform []geo.Point
	Fuzzing  int
}

// Plan builds the ScanPlan for req. If req.Rotation != 0 and the emitter is
// not vector-mode capable, the caller has a validation error to raise
// before ever calling Plan (spec.md §7 ValidationError); Plan itself
// assumes that check has already passed it a consistent request.
func Plan(req Request) ScanPlan {
	timing := clock.Choose(req.Params)

	k := req.Fuzzing
	if k < 1 {
		k = 1
	}

	w := req.W * k
	h := req.H * k
	pixelW := req.PixelSizeX / float64(k)
	pixelH := req.PixelSizeY / float64(k)

	waveform := make([]geo.Point, 0, (w+timing.Margin)*h)
	restPos := geo.Point{X: req.TranslationX, Y: req.TranslationY}

	for row := 0; row < h; row++ {
		for m := 0; m < timing.Margin; m++ {
			waveform = append(waveform, restPos)
		}
		first, last := geo.RowEndpoints(w, h, row, pixelW, pixelH, req.TranslationX, req.TranslationY, req.Rotation)
		for col := 0; col < w; col++ {
			t := 0.0
			if w > 1 {
				t = float64(col) / float64(w-1)
			}
			waveform = append(waveform, geo.Lerp(first, last, t))
		}
	}

	tileCount := tileCount(h, timing.RowsPerTile)

	return ScanPlan{
		Plan:      timing,
		W:         w,
		H:         h,
		TileCount: tileCount,
		Waveform:  waveform,
		Fuzzing:   k,
	}
}

// tileCount returns the number of rowsPerTile-row tiles covering h rows.
// clock.rowsPerTile returns 0 when a single pixel exceeds the buffer
// ceiling; tileCount and TileRows treat 0 as one row per tile, and a
// pixel's samples are not split across tiles.
func tileCount(h, rowsPerTile int) int {
	if rowsPerTile <= 0 {
		rowsPerTile = 1
	}
	return (h + rowsPerTile - 1) / rowsPerTile
}

// TileRows returns the [r0,r1) row range for tile index i.
func (sp *ScanPlan) TileRows(i int) (r0, r1 int) {
	rpt := sp.RowsPerTile
	if rpt <= 0 {
		rpt = 1
	}
	r0 = i * rpt
	r1 = r0 + rpt
	if r1 > sp.H {
		r1 = sp.H
	}
	return r0, r1
}

// RowWaveform returns the waveform slice (including its margin columns)
// for a single row.
func (sp *ScanPlan) RowWaveform(row int) []geo.Point {
	stride := sp.W + sp.Margin
	start := row * stride
	return sp.Waveform[start : start+stride]
}

// TileWaveform concatenates the per-row waveform slices for rows [r0,r1).
func (sp *ScanPlan) TileWaveform(r0, r1 int) []geo.Point {
	stride := sp.W + sp.Margin
	return sp.Waveform[r0*stride : r1*stride]
}

// EstimateAcquisitionTime returns a wall-clock estimate derived from the
// plan: total samples times period, i.e. (W+M)*H*OSR*DPR*pi (spec.md §4.5
// AcquireFuture.estimateAcquisitionTime, §8 testable property: within
// +-50% of measured duration).
func (sp *ScanPlan) EstimateAcquisitionTime() time.Duration {
	stride := sp.W + sp.Margin
	samples := stride * sp.H * sp.OSR * sp.DPR
	return time.Duration(samples) * sp.Period
}

// RowsWithLeechPeriods is a small helper using samber/lo, in the spirit of
// the teacher's lo.Chunk-based row/ping batching (ping.go), to partition a
// scan's H rows into fixed-size row ranges, one per tile. The engine does
// not call it; its tile loop computes each tile's rows as it goes.
func RowsWithLeechPeriods(h, rowsPerTile int) [][2]int {
	idx := lo.Range((h + rowsPerTile - 1) / rowsPerTile)
	return lo.Map(idx, func(i, _ int) [2]int {
		r0 := i * rowsPerTile
		r1 := r0 + rowsPerTile
		if r1 > h {
			r1 = h
		}
		return [2]int{r0, r1}
	})
}
