// Package capability declares the external interfaces of §6: the only
// surfaces the acquisition core touches on the emitter, detectors, and
// actuators. Device drivers for specific vendor hardware are explicitly
// out of scope (spec.md §1); these are abstract capability sets, kept as
// thin as the teacher's own Stream interface (reader.go), which exposes
// only the two methods its consumer actually needs.
package capability

import (
	"context"
	"time"

	"github.com/sixy6e/scanacq"
)

// TriggerMode selects how the emitter clocks successive waveform samples.
type TriggerMode int

const (
	SoftwareStart TriggerMode = iota
	HardwareTriggerAtEachSample
)

// WriteHandle is returned by Emitter.WriteWaveform.
type WriteHandle interface {
	Wait(ctx context.Context, timeout time.Duration) error
	Cancel()
}

// Emitter is the scanning excitation source (e-beam or light scanner, §6).
type Emitter interface {
	// Shape is the (W,H) maximum raster the emitter supports.
	Shape() (w, h int)
	// FieldExtent is the physical size, in meters, of the full raster at
	// the emitter's current magnification.
	FieldExtent() (w, h float64)
	// DwellRange returns the minimum and maximum sample period and the
	// device's timing granularity, all in seconds.
	DwellRange() (min, max, granularity time.Duration)
	// VectorMode reports whether the emitter can steer to an arbitrary
	// (x,y) per sample, required to realize a rotated scan.
	VectorMode() bool
	// BufferCeiling is the device's maximum waveform buffer size, in
	// samples.
	BufferCeiling() int
	// WriteWaveform begins a timed output of waveform at sample period.
	WriteWaveform(ctx context.Context, waveform [][2]float64, period time.Duration, mode TriggerMode) (WriteHandle, error)
	// ParkAt sets the emitter to a well-defined idle position
	// synchronously.
	ParkAt(pos [2]float64) error
	// RestingPosition is the position ParkAt leaves the emitter at.
	RestingPosition() [2]float64
	// SetScanningIndicator drives the scan-state TTL lines. assertDelay is
	// honored when active is true (settle before returning); graceDelay
	// may defer the inactive transition to avoid thrashing.
	SetScanningIndicator(active bool, assertDelay, graceDelay time.Duration)
	// NewPositionEvent fires once per pixel dwell boundary (never for
	// margin columns, never while parked).
	NewPositionEvent() *scanacq.SyncEvent
}

// DetectorKind tags the modality of a Detector (§6).
type DetectorKind int

const (
	KindAnalog DetectorKind = iota
	KindCounting
	KindCamera
	KindStreakCamera
	KindTimeCorrelator
	KindZeroDProbe
)

func (k DetectorKind) String() string {
	switch k {
	case KindAnalog:
		return "ANALOG"
	case KindCounting:
		return "COUNTING"
	case KindCamera:
		return "CAMERA"
	case KindStreakCamera:
		return "STREAK_CAMERA"
	case KindTimeCorrelator:
		return "TIME_CORRELATOR"
	case KindZeroDProbe:
		return "ZERO_D_PROBE"
	default:
		return "UNKNOWN"
	}
}

// Detector is a device producing signal in response to the emitter (§6).
// Per-tile sampling methods (prepare/run/wait/cancel) live on the concrete
// reader types in internal/detector rather than on this capability
// interface, since their argument/return shapes vary by kind (§4.3); this
// interface covers only the descriptors the engine needs before it builds
// the kind-specific reader.
type Detector interface {
	// Shape ends in a max-value dimension indicating bit depth, e.g. for a
	// 12-bit analog channel: []int{4096}; for a camera: []int{H,W,65536}.
	Shape() []int
	Kind() DetectorKind
	Data() *scanacq.DataFlow
	// SoftwareTrigger is an optional SyncEvent a pull-based detector can
	// expose; nil if not applicable.
	SoftwareTrigger() *scanacq.SyncEvent
}

// MoveFuture is returned by Actuator.MoveAbs.
type MoveFuture interface {
	Result(ctx context.Context) error
	Cancel()
	Done() bool
}

// Axis describes one actuator axis's range and unit.
type Axis struct {
	Min, Max float64
	Unit     string
}

// Actuator is a mechanical stage (scan-stage or optional aligner, §6).
type Actuator interface {
	MoveAbs(pos map[string]float64) MoveFuture
	Axes() map[string]Axis
	Position() map[string]float64
}
