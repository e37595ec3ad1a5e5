package detector

import (
	"context"
	"time"

	"github.com/sixy6e/scanacq/internal/capability"
)

// SampleSource produces one raw sample per call, simulating an analog
// input channel or pulse-counting channel being read at the driving
// period. Concrete hardware backends are out of scope (spec.md §1); this
// is the seam cmd/scansim and tests plug a synthetic signal into.
type SampleSource func() float64

// AnalogReader emits one sample of the configured input channel per
// emitter sub-sample; decimation (OSR sub-samples -> one pixel value by
// summation then division by OSR) happens in the engine via DecimateAverage
// (spec.md §4.3 AnalogReader).
type AnalogReader struct {
	*baseReader
	source SampleSource
	period time.Duration
	n      int
	raw    []float64
}

// NewAnalogReader builds an AnalogReader reading from source at the given
// per-sample period. maxValue is the full-scale value used by Inversion.
func NewAnalogReader(source SampleSource, period time.Duration, inverted bool, maxValue float64) *AnalogReader {
	return &AnalogReader{
		baseReader: newBaseReader(inverted, maxValue),
		source:     source,
		period:     period,
	}
}

func (r *AnalogReader) Kind() capability.DetectorKind { return capability.KindAnalog }

func (r *AnalogReader) Prepare(ctx context.Context, sampleCount int, expectedDuration time.Duration) error {
	r.n = sampleCount
	r.raw = make([]float64, 0, sampleCount)
	r.samples = make(chan []float64, 1)
	r.setState(StatePrepared)
	return nil
}

func (r *AnalogReader) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.setState(StateRunning)
	go func() {
		ticker := time.NewTicker(r.period)
		defer ticker.Stop()
		raw := make([]float64, 0, r.n)
		for len(raw) < r.n {
			select {
			case <-ticker.C:
				raw = append(raw, r.source())
			case <-runCtx.Done():
				r.samples <- r.invertAll(raw)
				return
			}
		}
		r.samples <- r.invertAll(raw)
	}()
	return nil
}

func (r *AnalogReader) Wait(ctx context.Context, timeout time.Duration) ([]float64, error) {
	data, err := waitOnChannel(ctx, r.samples, timeout)
	if err != nil {
		r.setState(StateCancelRequired)
		return nil, err
	}
	r.setState(StateIdle)
	return data, nil
}

func (r *AnalogReader) Cancel() {
	if r.cancel != nil {
		r.cancel()
	}
	r.setState(StateIdle)
}
