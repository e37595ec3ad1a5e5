package aggregator

import (
	"testing"
	"time"

	"github.com/sixy6e/scanacq"
)

func TestIntegratingBufferAppliesBaselineOnce(t *testing.T) {
	shape := []int{1, 3}
	b := NewBuffer(shape, []scanacq.DimLabel{scanacq.DimY, scanacq.DimX}, 2, 5.0, false)

	b.WriteRow(0, []float64{10, 10, 10})
	if done := b.CompleteIntegration(false); done {
		t.Fatalf("should not be done after one of two exposures")
	}
	b.WriteRow(0, []float64{10, 10, 10})
	if done := b.CompleteIntegration(false); !done {
		t.Fatalf("expected completion after the second exposure")
	}

	for _, v := range b.Array.Data {
		// s*k - baseline = 10*2 - 5 = 15
		if v != 15.0 {
			t.Fatalf("expected 15.0 (baseline applied once), got %v", v)
		}
	}
	if cnt, _ := b.Array.Metadata.Int(scanacq.MDIntegrationCnt); cnt != 2 {
		t.Fatalf("expected MD_INTEGRATION_COUNT=2, got %d", cnt)
	}
}

func TestScaledPixelSize(t *testing.T) {
	ps := ScaledPixelSize([2]float64{2e-6, 2e-6}, 2)
	if ps[0] != 1e-6 || ps[1] != 1e-6 {
		t.Fatalf("expected pixel size halved by fuzzing factor 2, got %v", ps)
	}
	ps = ScaledPixelSize([2]float64{2e-6, 2e-6}, 0)
	if ps[0] != 2e-6 {
		t.Fatalf("expected no scaling when fuzzing <= 1, got %v", ps)
	}
}

func TestStampCommonMetadata(t *testing.T) {
	arr := scanacq.NewDataArray([]int{1, 1}, []scanacq.DimLabel{scanacq.DimY, scanacq.DimX})
	StampCommonMetadata(arr, [2]float64{1, 2}, [2]float64{1e-6, 1e-6}, 0.5, time.Unix(1000, 0), 1e-6, false)
	pos, ok := arr.Metadata.FloatPair(scanacq.MDPos)
	if !ok || pos[0] != 1 || pos[1] != 2 {
		t.Fatalf("unexpected MD_POS: %v", pos)
	}
	if dwell, ok := arr.Metadata.Float(scanacq.MDDwellTime); !ok || dwell != 1e-6 {
		t.Fatalf("unexpected MD_DWELL_TIME: %v", dwell)
	}
}
