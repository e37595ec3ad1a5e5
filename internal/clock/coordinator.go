// Package clock implements the Clock & Trigger Coordinator of spec.md
// §4.4: given timing constraints from the emitter and detectors, it picks
// the sample period, oversampling rate, duplication rate, row margin, and
// tile row count, and decides between software-timed and hardware-trigger
// clocking. Grounded on the teacher's ScaleFactor.Compression_flag decision
// branching (ping.go) repurposed from a sonar-sample-scale decision to a
// timing-parameter decision.
package clock

import (
	"math"
	"time"
)

// Params are the inputs the coordinator needs to pick a Plan.
type Params struct {
	W, H int
	// Dwell is the stream's requested dwell (or, for exposure-based
	// streams, the per-pixel exposure) time.
	Dwell time.Duration
	// MinDetectorPeriod is the slowest minimum read period across the
	// bound detector set (max over detectors of their minimum period).
	MinDetectorPeriod time.Duration
	// EmitterMinPeriod/EmitterMaxPeriod/Granularity describe the emitter's
	// timing capability (§6 DwellRange).
	EmitterMinPeriod, EmitterMaxPeriod, Granularity time.Duration
	// SettleTime is the time the emitter needs to settle after a row's
	// leading edge before a pixel value is trustworthy.
	SettleTime time.Duration
	// BufferCeiling is the device's maximum waveform buffer size, in
	// samples (emitter) or bytes budget expressed in samples for a given
	// itemsize; callers pass the binding constraint.
	BufferCeiling int
	// ItemSize is the per-sample byte size used against BufferCeiling.
	ItemSize int
	// MinLeechPeriod is the smallest .period across the stream's leeches,
	// in pixels; 0 (or >= W) means no sub-row leech is present.
	MinLeechPeriod int
	// HWTriggerCapable is true when the emitter supports per-sample
	// hardware trigger, all bound detector readers support it, and no
	// leech requires a sub-pixel pause.
	HWTriggerCapable bool
}

// Plan is the chosen timing configuration (a subset of planner.ScanPlan
// concerned purely with clocking; planner.ScanPlan embeds this).
type Plan struct {
	Period      time.Duration // pi
	OSR         int
	DPR         int
	Margin      int // M, per-row settle columns
	RowsPerTile int // R
	TriggerMode TriggerMode
}

type TriggerMode int

const (
	SoftwareStart TriggerMode = iota
	HardwareTriggerAtEachSample
)

func roundUpDuration(d, granularity time.Duration) time.Duration {
	if granularity <= 0 {
		return d
	}
	n := (d + granularity - 1) / granularity
	return n * granularity
}

// Choose picks (pi, OSR, DPR, M, R) per spec.md §4.4.
func Choose(p Params) Plan {
	pi := p.MinDetectorPeriod
	if pi < p.EmitterMinPeriod {
		pi = p.EmitterMinPeriod
	}
	pi = roundUpDuration(pi, p.Granularity)
	if pi <= 0 {
		pi = p.Granularity
	}

	// OSR is Dwell/pi rounded to the nearest whole number, at least 1: one
	// pixel dwell divided into OSR sub-samples at period pi each.
	// EmitterMaxPeriod is not consulted here; neither pi nor OSR is bounded
	// by it.
	osr := int(math.Max(1, math.Round(float64(p.Dwell)/float64(pi))))
	dpr := 1
	// DPR stays 1 unless Dwell exceeds OSR*pi (rounding Dwell/pi to OSR
	// went down); it is then the number of OSR*pi passes that cover Dwell.
	maxSinglePass := pi * time.Duration(osr)
	if p.Dwell > maxSinglePass && maxSinglePass > 0 {
		dpr = int(math.Ceil(float64(p.Dwell) / float64(maxSinglePass)))
	}

	margin := 0
	if p.SettleTime > p.Dwell/100 {
		margin = int(math.Ceil(float64(p.SettleTime) / float64(pi)))
	}

	mode := SoftwareStart
	if p.HWTriggerCapable {
		mode = HardwareTriggerAtEachSample
		margin = 0
	}

	rowsPerTile := rowsPerTile(p.W, margin, osr, p.ItemSize, p.BufferCeiling)
	if p.MinLeechPeriod > 0 && p.MinLeechPeriod < p.W {
		rowsPerTile = 1
	}

	return Plan{
		Period:      pi,
		OSR:         osr,
		DPR:         dpr,
		Margin:      margin,
		RowsPerTile: rowsPerTile,
		TriggerMode: mode,
	}
}

// rowsPerTile picks the largest R such that R*(W+M)*OSR*itemsize fits the
// buffer ceiling. When even one row exceeds the ceiling it returns 1 (one
// row per tile) if one pixel's OSR*itemsize fits, and 0 otherwise; tiles
// smaller than one row are never produced.
func rowsPerTile(w, margin, osr, itemSize, ceiling int) int {
	rowBytes := (w + margin) * osr * itemSize
	if rowBytes <= 0 {
		return 1
	}
	r := ceiling / rowBytes
	if r >= 1 {
		return r
	}
	// A single row exceeds the ceiling; one row per tile.
	pixelBytes := osr * itemSize
	if pixelBytes <= ceiling {
		return 1
	}
	// Even one pixel exceeds the ceiling: return 0. planner.tileCount and
	// ScanPlan.TileRows treat 0 as one row per tile; a pixel's samples are
	// not split across tiles.
	return 0
}
