package detector

import (
	"context"
	"time"

	"github.com/sixy6e/scanacq/internal/capability"
)

// CountingReader treats each sample as the cumulative pulse count since
// the previous sample; decimation from DPR sub-samples is summation (no
// division, spec.md §4.3 CountingReader). DiscardLeadIn models the §9 Open
// Question ("whether the first count must always be discarded") as an
// explicit capability flag of this reader rather than a hidden behavior:
// when true, Prepare requests one extra lead-in sample and Wait discards
// it before returning.
type CountingReader struct {
	*baseReader
	source        SampleSource
	period        time.Duration
	n             int
	DiscardLeadIn bool
}

// NewCountingReader builds a CountingReader. When discardLeadIn is true,
// the hardware this reader models requires an extra lead-in clock to latch
// its counter before the first usable sample (spec.md §4.3).
func NewCountingReader(source SampleSource, period time.Duration, discardLeadIn bool) *CountingReader {
	return &CountingReader{
		baseReader:    newBaseReader(false, 0),
		source:        source,
		period:        period,
		DiscardLeadIn: discardLeadIn,
	}
}

func (r *CountingReader) Kind() capability.DetectorKind { return capability.KindCounting }

func (r *CountingReader) Prepare(ctx context.Context, sampleCount int, expectedDuration time.Duration) error {
	r.n = sampleCount
	if r.DiscardLeadIn {
		r.n++
	}
	r.samples = make(chan []float64, 1)
	r.setState(StatePrepared)
	return nil
}

func (r *CountingReader) Run(ctx context.Context) error {
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
				r.samples <- r.finish(raw)
				return
			}
		}
		r.samples <- r.finish(raw)
	}()
	return nil
}

func (r *CountingReader) finish(raw []float64) []float64 {
	if r.DiscardLeadIn && len(raw) > 0 {
		return raw[1:]
	}
	return raw
}

func (r *CountingReader) Wait(ctx context.Context, timeout time.Duration) ([]float64, error) {
	data, err := waitOnChannel(ctx, r.samples, timeout)
	if err != nil {
		r.setState(StateCancelRequired)
		return nil, err
	}
	r.setState(StateIdle)
	return data, nil
}

func (r *CountingReader) Cancel() {
	if r.cancel != nil {
		r.cancel()
	}
	r.setState(StateIdle)
}
