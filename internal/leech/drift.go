package leech

import (
	"context"
	"math"
	"time"

	"github.com/sixy6e/scanacq"
)

// AnchorAcquirer acquires a small anchor-region image, using the emitter
// and one analog detector, each time the drift corrector fires. Concrete
// hardware access is injected so this package stays free of any device
// dependency (spec.md §1).
type AnchorAcquirer func(ctx context.Context) (image []float64, w, h int, err error)

// CrossCorrelate returns the sub-pixel translation (dx,dy), in pixels, that
// best aligns moving against reference, both w x h row-major images. The
// core only needs a plausible, deterministic estimator here -- the engine
// contract (§4.6) is about how the result is applied and low-pass combined,
// not about a specific correlation algorithm -- so this uses an
// intensity-centroid-shift estimate, grounded on the teacher's geo.go style
// of a closed-form per-sample loop rather than an iterative solver.
func CrossCorrelate(reference, moving []float64, w, h int) (dx, dy float64) {
	cx0, cy0 := centroid(reference, w, h)
	cx1, cy1 := centroid(moving, w, h)
	return cx1 - cx0, cy1 - cy0
}

func centroid(img []float64, w, h int) (cx, cy float64) {
	var sum, sx, sy float64
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			v := img[row*w+col]
			sum += v
			sx += v * float64(col)
			sy += v * float64(row)
		}
	}
	if sum == 0 {
		return float64(w) / 2, float64(h) / 2
	}
	return sx / sum, sy / sum
}

// AnchorDriftCorrector implements spec.md §4.6's AnchorDriftCorrector: every
// Period pixels, pause the main scan, acquire a small anchor region,
// cross-correlate against a reference taken at scan start, and low-pass
// combine the result into a running translation offset applied to
// subsequent pixel positions.
type AnchorDriftCorrector struct {
	name        string
	period      int
	nextPixel   int
	acquire     AnchorAcquirer
	pixelSize   [2]float64 // meters/pixel of the anchor region, for converting pixel shift to meters
	lowPassAlpha float64
	required    bool

	reference    []float64
	refW, refH   int
	offsetX      float64
	offsetY      float64
	series       [][2]float64 // (pixel index, |offset|) for the anchor-series output
}

// NewAnchorDriftCorrector builds a drift corrector that fires every period
// pixels, low-pass combining successive measurements with lowPassAlpha in
// (0,1] (1 == no smoothing, always trust the newest measurement).
func NewAnchorDriftCorrector(name string, period int, pixelSize [2]float64, lowPassAlpha float64, acquire AnchorAcquirer, required bool) *AnchorDriftCorrector {
	return &AnchorDriftCorrector{
		name:         name,
		period:       period,
		nextPixel:    period,
		acquire:      acquire,
		pixelSize:    pixelSize,
		lowPassAlpha: lowPassAlpha,
		required:     required,
	}
}

func (a *AnchorDriftCorrector) Name() string { return a.name }
func (a *AnchorDriftCorrector) Period() int  { return a.period }
func (a *AnchorDriftCorrector) NextPixel() int { return a.nextPixel }
func (a *AnchorDriftCorrector) Required() bool { return a.required }

func (a *AnchorDriftCorrector) SeriesStart(ctx context.Context) error {
	img, w, h, err := a.acquire(ctx)
	if err != nil {
		return err
	}
	a.reference = img
	a.refW, a.refH = w, h
	a.offsetX, a.offsetY = 0, 0
	a.series = nil
	return nil
}

func (a *AnchorDriftCorrector) Fire(ctx context.Context, firedAtPixel int) (int, [2]float64, error) {
	img, w, h, err := a.acquire(ctx)
	if err != nil {
		a.nextPixel = firedAtPixel + a.period
		return a.nextPixel, [2]float64{}, err
	}
	dxPix, dyPix := CrossCorrelate(a.reference, img, w, h)
	dx := dxPix * a.pixelSize[0]
	dy := dyPix * a.pixelSize[1]

	alpha := a.lowPassAlpha
	if alpha <= 0 || alpha > 1 {
		alpha = 1
	}
	a.offsetX = a.offsetX + alpha*(dx-a.offsetX)
	a.offsetY = a.offsetY + alpha*(dy-a.offsetY)

	a.series = append(a.series, [2]float64{float64(firedAtPixel), math.Hypot(a.offsetX, a.offsetY)})
	a.nextPixel = firedAtPixel + a.period
	return a.nextPixel, [2]float64{a.offsetX, a.offsetY}, nil
}

// Offset returns the current running drift offset, in meters.
func (a *AnchorDriftCorrector) Offset() [2]float64 { return [2]float64{a.offsetX, a.offsetY} }

// Complete attaches the anchor-series DataArray (spec.md §8 scenario 4:
// "Anchor-series's slowest dimension >= 2 (at least two drift
// measurements)").
func (a *AnchorDriftCorrector) Complete(outputs map[string]*scanacq.DataArray) error {
	n := len(a.series)
	if n == 0 {
		return nil
	}
	arr := scanacq.NewDataArray([]int{n}, []scanacq.DimLabel{scanacq.DimT})
	for i, s := range a.series {
		arr.Set(s[1], i)
	}
	arr.Metadata.SetString("MD_DESCRIPTION", "anchor drift-correction series")
	outputs[a.name] = arr
	return nil
}

func (a *AnchorDriftCorrector) SeriesComplete(outputs map[string]*scanacq.DataArray) {
	_ = a.Complete(outputs)
}

// EstimateAcquisitionTime returns a rough per-firing cost estimate in
// seconds: one microsecond per reference-image pixel.
func (a *AnchorDriftCorrector) EstimateAcquisitionTime() float64 {
	return float64(a.refW*a.refH) * float64(time.Microsecond) / float64(time.Second)
}
