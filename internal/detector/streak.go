package detector

import (
	"context"
	"time"

	"github.com/sixy6e/scanacq/internal/capability"
)

// StreakCameraReader is like CameraReader but the exposure may exceed the
// device maximum, in which case K sub-exposures are requested and summed,
// with the integration count tracked so the engine can apply MD_BASELINE
// once rather than K times (spec.md §4.3 StreakCameraReader, §8 testable
// property on MD_INTEGRATION_COUNT/MD_BASELINE).
type StreakCameraReader struct {
	inner       *CameraReader
	maxExposure time.Duration
	requested   time.Duration
	times       []float64
	baseline    float64
}

// NewStreakCameraReader builds a StreakCameraReader; if requested exceeds
// maxExposure, IntegrationCount sub-exposures of maxExposure each are
// summed per pixel.
func NewStreakCameraReader(source ImageSource, width, height int, requested, maxExposure time.Duration, inverted bool, maxValue float64) *StreakCameraReader {
	sub := requested
	if requested > maxExposure {
		sub = maxExposure
	}
	return &StreakCameraReader{
		inner:       NewCameraReader(source, width, height, sub, inverted, maxValue),
		maxExposure: maxExposure,
		requested:   requested,
	}
}

func (r *StreakCameraReader) Kind() capability.DetectorKind { return capability.KindStreakCamera }

// IntegrationCount returns K, the number of per-pixel sub-exposures summed
// together to realize the requested exposure (>= 1).
func (r *StreakCameraReader) IntegrationCount() int {
	if r.requested <= r.maxExposure || r.maxExposure <= 0 {
		return 1
	}
	k := int(r.requested / r.maxExposure)
	if r.requested%r.maxExposure != 0 {
		k++
	}
	return k
}

func (r *StreakCameraReader) Prepare(ctx context.Context, sampleCount int, expectedDuration time.Duration) error {
	return r.inner.Prepare(ctx, sampleCount*r.IntegrationCount(), expectedDuration)
}

func (r *StreakCameraReader) Run(ctx context.Context) error { return r.inner.Run(ctx) }

// Wait returns the per-pixel sub-exposures summed into one image per
// pixel (dtype widened relative to a single-exposure readout, per spec.md
// §8 scenario 6).
func (r *StreakCameraReader) Wait(ctx context.Context, timeout time.Duration) ([]float64, error) {
	raw, err := r.inner.Wait(ctx, timeout)
	if err != nil {
		return nil, err
	}
	frame := r.inner.FrameSize()
	k := r.IntegrationCount()
	pixels := len(raw) / frame
	n := pixels / k
	out := make([]float64, n*frame)
	for p := 0; p < n; p++ {
		for sub := 0; sub < k; sub++ {
			srcPixel := p*k + sub
			for f := 0; f < frame; f++ {
				out[p*frame+f] += raw[srcPixel*frame+f]
			}
		}
	}
	return out, nil
}

func (r *StreakCameraReader) Cancel() { r.inner.Cancel() }

// FrameSize returns width*height.
func (r *StreakCameraReader) FrameSize() int { return r.inner.FrameSize() }

// SetBaseline records the per-sub-exposure dark level to subtract exactly
// once from the summed integration, regardless of IntegrationCount
// (spec.md §4.5 step j, §8 scenario 6: "MD_BASELINE is preserved, not
// multiplied by k").
func (r *StreakCameraReader) SetBaseline(v float64) { r.baseline = v }

// Baseline returns the dark level set by SetBaseline (0 if unconfigured).
func (r *StreakCameraReader) Baseline() float64 { return r.baseline }

// SetTimeList records the per-bin time axis of the temporal dimension,
// surfaced on the published DataArray as MD_TIME_LIST (spec.md §3).
func (r *StreakCameraReader) SetTimeList(list []float64) {
	r.times = append([]float64(nil), list...)
}

// TimeList returns the time axis set by SetTimeList, or nil if none was
// configured.
func (r *StreakCameraReader) TimeList() []float64 { return r.times }

// SetWavelengthList records the per-channel wavelength axis of the
// spectral dimension on the underlying sensor, surfaced as MD_WL_LIST.
func (r *StreakCameraReader) SetWavelengthList(list []float64) {
	r.inner.SetWavelengthList(list)
}

// WavelengthList returns the wavelength axis set by SetWavelengthList, or
// nil if none was configured.
func (r *StreakCameraReader) WavelengthList() []float64 { return r.inner.WavelengthList() }
