package leech

import (
	"context"
	"testing"
	"time"

	"github.com/sixy6e/scanacq"
)

func refImage(w, h int) []float64 {
	img := make([]float64, w*h)
	img[h/2*w+w/2] = 1.0
	return img
}

func shiftedImage(w, h, dx, dy int) []float64 {
	img := make([]float64, w*h)
	y := h/2 + dy
	x := w/2 + dx
	img[y*w+x] = 1.0
	return img
}

func TestAnchorDriftCorrectorFiresAndAccumulates(t *testing.T) {
	w, h := 11, 11
	calls := 0
	acquire := AnchorAcquirer(func(ctx context.Context) ([]float64, int, int, error) {
		calls++
		if calls == 1 {
			return refImage(w, h), w, h, nil
		}
		return shiftedImage(w, h, 2, 0), w, h, nil
	})
	d := NewAnchorDriftCorrector("drift", 1000, [2]float64{1e-9, 1e-9}, 1.0, acquire, false)
	if err := d.SeriesStart(context.Background()); err != nil {
		t.Fatalf("series start: %v", err)
	}
	next, offset, err := d.Fire(context.Background(), 1000)
	if err != nil {
		t.Fatalf("fire: %v", err)
	}
	if next != 2000 {
		t.Fatalf("expected next pixel 2000, got %d", next)
	}
	if offset[0] <= 0 {
		t.Fatalf("expected a positive x drift offset, got %v", offset)
	}

	outputs := map[string]*scanacq.DataArray{}
	d.SeriesComplete(outputs)
	if _, ok := outputs["drift"]; !ok {
		t.Fatalf("expected an anchor-series output to be attached")
	}
}

func TestSchedulerDueWithinAndClamp(t *testing.T) {
	w := 10
	leeches := []Leech{
		NewProbeCurrentAcquirer("probe", 15, time.Millisecond, func(ctx context.Context) (float64, error) { return 1.0, nil }, false),
	}
	s := NewScheduler(leeches)
	due := s.DueWithin(0, 20) // tile covers pixels [0,20) i.e. 2 rows of width 10
	if len(due) != 1 {
		t.Fatalf("expected the probe leech due within the tile, got %d", len(due))
	}
	end := s.ClampTileEnd(0, 5, w, 1)
	if end < 1 || end > 5 {
		t.Fatalf("clamped tile end out of bounds: %d", end)
	}
}

func TestProbeCurrentAcquirerAttachesMetadata(t *testing.T) {
	p := NewProbeCurrentAcquirer("probe", 10, time.Millisecond, func(ctx context.Context) (float64, error) { return 2.5, nil }, false)
	if err := p.SeriesStart(context.Background()); err != nil {
		t.Fatalf("series start: %v", err)
	}
	if _, _, err := p.Fire(context.Background(), 10); err != nil {
		t.Fatalf("fire: %v", err)
	}
	outputs := map[string]*scanacq.DataArray{
		"primary": scanacq.NewDataArray([]int{1, 1}, []scanacq.DimLabel{scanacq.DimY, scanacq.DimX}),
	}
	if err := p.Complete(outputs); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, ok := outputs["primary"].Metadata[scanacq.MDProbeCurrentTS]; !ok {
		t.Fatalf("expected MD_EBEAM_CURRENT_TIME to be attached")
	}
}
