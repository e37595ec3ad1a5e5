package detector

import (
	"context"
	"sync"
	"time"

	"github.com/sixy6e/scanacq/internal/capability"
)

// ImageSource produces one full-sensor image (row-major, length
// width*height) for a given per-pixel exposure period, simulating a camera
// read (spec.md §4.3 CameraReader).
type ImageSource func(exposure time.Duration) []float64

// CameraReader acquires one full sensor image per pixel for the full
// per-pixel period; the engine indexes the raw image by (pixelY,pixelX)
// (spec.md §4.3 CameraReader).
type CameraReader struct {
	*baseReader
	source      ImageSource
	width       int
	height      int
	exposure    time.Duration
	n           int
	images      chan [][]float64
	cancelCh    chan struct{}
	cancelOnce  sync.Once
	wavelengths []float64
}

// NewCameraReader builds a CameraReader whose sensor is width x height
// pixels, reading from source.
func NewCameraReader(source ImageSource, width, height int, exposure time.Duration, inverted bool, maxValue float64) *CameraReader {
	return &CameraReader{
		baseReader: newBaseReader(inverted, maxValue),
		source:     source,
		width:      width,
		height:     height,
		exposure:   exposure,
	}
}

func (r *CameraReader) Kind() capability.DetectorKind { return capability.KindCamera }

func (r *CameraReader) Prepare(ctx context.Context, sampleCount int, expectedDuration time.Duration) error {
	r.n = sampleCount
	r.images = make(chan [][]float64, 1)
	r.cancelCh = make(chan struct{})
	r.setState(StatePrepared)
	return nil
}

func (r *CameraReader) Run(ctx context.Context) error {
	r.setState(StateRunning)
	go func() {
		imgs := make([][]float64, 0, r.n)
		for i := 0; i < r.n; i++ {
			select {
			case <-r.cancelCh:
				r.images <- imgs
				return
			default:
			}
			imgs = append(imgs, r.invertAll(r.source(r.exposure)))
		}
		r.images <- imgs
	}()
	return nil
}

// Wait returns the flattened per-pixel images, one image of width*height
// floats per returned "sample" concatenated end to end, so the generic
// decimation helpers in reader.go still apply (an integrating StreakCamera
// sums K of these per logical pixel; a plain camera has one per pixel).
func (r *CameraReader) Wait(ctx context.Context, timeout time.Duration) ([]float64, error) {
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}
	select {
	case imgs := <-r.images:
		r.setState(StateIdle)
		out := make([]float64, 0, len(imgs)*r.width*r.height)
		for _, img := range imgs {
			out = append(out, img...)
		}
		return out, nil
	case <-ctx.Done():
		r.setState(StateCancelRequired)
		return nil, ctx.Err()
	case <-timeoutCh:
		r.setState(StateCancelRequired)
		return nil, ctx.Err()
	}
}

func (r *CameraReader) Cancel() {
	if r.cancelCh != nil {
		r.cancelOnce.Do(func() { close(r.cancelCh) })
	}
	r.setState(StateIdle)
}

// FrameSize returns width*height, the per-image sample count used to
// compute exposure-based decimation groupings.
func (r *CameraReader) FrameSize() int { return r.width * r.height }

// SetWavelengthList records the per-channel wavelength axis for a
// spectrometer-mode camera (binned along one sensor axis), surfaced on the
// published DataArray as MD_WL_LIST (spec.md §3).
func (r *CameraReader) SetWavelengthList(list []float64) {
	r.wavelengths = append([]float64(nil), list...)
}

// WavelengthList returns the wavelength axis set by SetWavelengthList, or
// nil if none was configured.
func (r *CameraReader) WavelengthList() []float64 { return r.wavelengths }
