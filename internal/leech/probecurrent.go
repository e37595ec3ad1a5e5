package leech

import (
	"context"
	"time"

	"github.com/sixy6e/scanacq"
)

// ProbeSampler samples a 0-D current detector once, returning the
// instantaneous current in amperes.
type ProbeSampler func(ctx context.Context) (float64, error)

// ProbeCurrentAcquirer implements spec.md §4.6's ProbeCurrentAcquirer:
// every Period pixels, sample a 0-D current detector for a short configured
// duration and append (elapsed_time, current) to a series later exposed as
// MD_EBEAM_CURRENT_TIME in the primary detector's metadata.
type ProbeCurrentAcquirer struct {
	name      string
	period    int
	nextPixel int
	sample    ProbeSampler
	duration  time.Duration
	required  bool
	start     time.Time
	series    [][2]float64 // (elapsed seconds, amperes)
}

// NewProbeCurrentAcquirer builds a probe-current leech firing every period
// pixels, sampling for duration at each firing.
func NewProbeCurrentAcquirer(name string, period int, duration time.Duration, sample ProbeSampler, required bool) *ProbeCurrentAcquirer {
	return &ProbeCurrentAcquirer{
		name:      name,
		period:    period,
		nextPixel: period,
		sample:    sample,
		duration:  duration,
		required:  required,
	}
}

func (p *ProbeCurrentAcquirer) Name() string    { return p.name }
func (p *ProbeCurrentAcquirer) Period() int     { return p.period }
func (p *ProbeCurrentAcquirer) NextPixel() int  { return p.nextPixel }
func (p *ProbeCurrentAcquirer) Required() bool  { return p.required }

func (p *ProbeCurrentAcquirer) SeriesStart(ctx context.Context) error {
	p.start = time.Now()
	p.series = nil
	return nil
}

func (p *ProbeCurrentAcquirer) Fire(ctx context.Context, firedAtPixel int) (int, [2]float64, error) {
	deadline := time.Now().Add(p.duration)
	var sum float64
	var n int
	for time.Now().Before(deadline) || n == 0 {
		v, err := p.sample(ctx)
		if err != nil {
			p.nextPixel = firedAtPixel + p.period
			return p.nextPixel, [2]float64{}, err
		}
		sum += v
		n++
		if p.duration <= 0 {
			break
		}
	}
	elapsed := time.Since(p.start).Seconds()
	p.series = append(p.series, [2]float64{elapsed, sum / float64(n)})
	p.nextPixel = firedAtPixel + p.period
	return p.nextPixel, [2]float64{}, nil
}

// Complete attaches MD_EBEAM_CURRENT_TIME to every primary output (spec.md
// §4.6: "a list later exposed as MD_EBEAM_CURRENT_TIME in the primary
// detector's DataArray metadata").
func (p *ProbeCurrentAcquirer) Complete(outputs map[string]*scanacq.DataArray) error {
	if len(p.series) == 0 {
		return nil
	}
	for _, arr := range outputs {
		arr.Metadata[scanacq.MDProbeCurrentTS] = append([][2]float64(nil), p.series...)
	}
	return nil
}

func (p *ProbeCurrentAcquirer) SeriesComplete(outputs map[string]*scanacq.DataArray) {
	_ = p.Complete(outputs)
}

// EstimateAcquisitionTime returns p.duration in seconds.
func (p *ProbeCurrentAcquirer) EstimateAcquisitionTime() float64 { return p.duration.Seconds() }
