package planner

import (
	"testing"
	"time"

	"github.com/sixy6e/scanacq/internal/clock"
)

func baseRequest() Request {
	return Request{
		Params: clock.Params{
			W: 5, H: 6,
			Dwell:             time.Microsecond,
			MinDetectorPeriod: time.Microsecond,
			EmitterMinPeriod:  time.Microsecond,
			EmitterMaxPeriod:  time.Millisecond,
			Granularity:       100 * time.Nanosecond,
			BufferCeiling:     1 << 20,
			ItemSize:          4,
		},
		PixelSizeX: 1e-6,
		PixelSizeY: 1e-6,
	}
}

func TestPlanShapeNoFuzzing(t *testing.T) {
	sp := Plan(baseRequest())
	if sp.W != 5 || sp.H != 6 {
		t.Fatalf("expected shape 5x6, got %dx%d", sp.W, sp.H)
	}
	if len(sp.Waveform) != (sp.W+sp.Margin)*sp.H {
		t.Fatalf("waveform length mismatch: got %d want %d", len(sp.Waveform), (sp.W+sp.Margin)*sp.H)
	}
}

func TestPlanFuzzingScalesShape(t *testing.T) {
	req := baseRequest()
	req.Fuzzing = 2
	sp := Plan(req)
	if sp.W != 10 || sp.H != 12 {
		t.Fatalf("expected fuzzed shape 10x12, got %dx%d", sp.W, sp.H)
	}
}

func TestTileRowsCoverWholeHeight(t *testing.T) {
	sp := Plan(baseRequest())
	covered := 0
	for i := 0; i < sp.TileCount; i++ {
		r0, r1 := sp.TileRows(i)
		covered += r1 - r0
	}
	if covered != sp.H {
		t.Fatalf("tiles should cover all %d rows, covered %d", sp.H, covered)
	}
}

func TestEstimateAcquisitionTimePositive(t *testing.T) {
	sp := Plan(baseRequest())
	if sp.EstimateAcquisitionTime() <= 0 {
		t.Fatalf("expected positive time estimate")
	}
}
