// Package stage implements the scan-stage variant of spec.md §4.7: a
// mechanical stage is moved to each pixel instead of the emitter being
// scanned; this package does not position the emitter. Grounded on the
// actuator component shape inferred
// from the original source's model/_components.py (original_source)
// moveAbs/position round-trip idiom, expressed here against
// internal/capability.Actuator.
package stage

import (
	"context"
	"fmt"
	"time"

	"github.com/sixy6e/scanacq"
	"github.com/sixy6e/scanacq/internal/capability"
)

// ScanStage wraps an Actuator for per-pixel scanning, tracking the
// pre-acquisition position so it can be restored on cancel or completion
// (spec.md §4.7, §8 scenario 5).
type ScanStage struct {
	actuator capability.Actuator
	preAcqPos map[string]float64
}

// NewScanStage builds a ScanStage wrapper over actuator.
func NewScanStage(actuator capability.Actuator) *ScanStage {
	return &ScanStage{actuator: actuator}
}

// ValidateROI checks every pixel position implied by repetition/pixelSize/
// roi/rotation against the actuator's axis ranges, returning, before any
// motion, an error wrapping ErrOutOfRange if any pixel would fall outside
// range (a ValidationError if a named axis is missing)
// (spec.md §4.7: "The ROI must be validated against the stage's range
// before starting; if any pixel falls outside, the engine fails with an
// out-of-range error before moving").
func (s *ScanStage) ValidateROI(positions [][2]float64, axisNames [2]string) error {
	axes := s.actuator.Axes()
	xAxis, ok := axes[axisNames[0]]
	if !ok {
		return scanacq.NewValidationError(fmt.Sprintf("scan stage has no axis %q", axisNames[0]))
	}
	yAxis, ok := axes[axisNames[1]]
	if !ok {
		return scanacq.NewValidationError(fmt.Sprintf("scan stage has no axis %q", axisNames[1]))
	}
	for _, p := range positions {
		if p[0] < xAxis.Min || p[0] > xAxis.Max || p[1] < yAxis.Min || p[1] > yAxis.Max {
			return fmt.Errorf("%w: pixel position (%.9g,%.9g) outside stage range", scanacq.ErrOutOfRange, p[0], p[1])
		}
	}
	return nil
}

// BeginAcquisition records the stage's current position so it can be
// restored later.
func (s *ScanStage) BeginAcquisition() {
	s.preAcqPos = s.actuator.Position()
}

// MoveToPixel moves to pos and blocks until the move completes or ctx is
// cancelled.
func (s *ScanStage) MoveToPixel(ctx context.Context, axisNames [2]string, pos [2]float64, timeout time.Duration) error {
	future := s.actuator.MoveAbs(map[string]float64{axisNames[0]: pos[0], axisNames[1]: pos[1]})
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return future.Result(waitCtx)
}

// Restore moves the stage back to its pre-acquisition position, called on
// cancel or completion (spec.md §4.7, §8 scenario 5: "the scan stage's
// position equals its pre-acquisition position within the stage's step
// resolution").
func (s *ScanStage) Restore(ctx context.Context, axisNames [2]string, timeout time.Duration) error {
	if s.preAcqPos == nil {
		return nil
	}
	future := s.actuator.MoveAbs(s.preAcqPos)
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return future.Result(waitCtx)
}

// RequireCameraDetector rejects any detector kind other than CAMERA at
// stream construction time, per spec.md §4.7: "Scan-stage variants are only
// valid for camera-type (CCD) detectors".
func RequireCameraDetector(kind capability.DetectorKind) error {
	if kind != capability.KindCamera {
		return scanacq.NewValidationError(fmt.Sprintf("scan stage requires a camera detector, got %s", kind))
	}
	return nil
}
