package detector

import (
	"context"
	"testing"
	"time"
)

func TestDecimateAverageConstantSignal(t *testing.T) {
	const osr = 4
	raw := make([]float64, osr*3)
	for i := range raw {
		raw[i] = 7.0
	}
	out := DecimateAverage(raw, osr, 1)
	if len(out) != 3 {
		t.Fatalf("expected 3 pixels, got %d", len(out))
	}
	for _, v := range out {
		if v != 7.0 {
			t.Fatalf("averaging a constant signal should reproduce it, got %v", v)
		}
	}
}

func TestDecimateSumConstantSignal(t *testing.T) {
	raw := []float64{2, 2, 2, 2}
	out := DecimateSum(raw, 2)
	if len(out) != 2 || out[0] != 4 || out[1] != 4 {
		t.Fatalf("unexpected sum decimation: %v", out)
	}
}

func TestTrimMarginRemovesLeadingColumns(t *testing.T) {
	// 2 rows of (margin=1 + w=3)
	data := []float64{-1, 1, 2, 3, -1, 4, 5, 6}
	out := TrimMargin(data, 3, 1, 2)
	want := []float64{1, 2, 3, 4, 5, 6}
	if len(out) != len(want) {
		t.Fatalf("unexpected length %d", len(out))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("mismatch at %d: got %v want %v", i, out[i], want[i])
		}
	}
}

func TestAnalogReaderDecimatesToConstant(t *testing.T) {
	r := NewAnalogReader(ConstantSource(3.0), time.Millisecond, false, 0)
	ctx := context.Background()
	if err := r.Prepare(ctx, 4, 4*time.Millisecond); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := r.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	raw, err := r.Wait(ctx, time.Second)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	out := DecimateAverage(raw, 4, 1)
	if len(out) != 1 || out[0] != 3.0 {
		t.Fatalf("expected decimated value 3.0, got %v", out)
	}
}

func TestCountingReaderDiscardsLeadIn(t *testing.T) {
	calls := 0
	src := SampleSource(func() float64 {
		calls++
		return float64(calls) // 1,2,3,... so we can see the lead-in get dropped
	})
	r := NewCountingReader(src, time.Millisecond, true)
	ctx := context.Background()
	if err := r.Prepare(ctx, 3, 3*time.Millisecond); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := r.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	raw, err := r.Wait(ctx, time.Second)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if len(raw) != 3 {
		t.Fatalf("expected 3 samples after discarding lead-in, got %d", len(raw))
	}
	if raw[0] != 2 {
		t.Fatalf("expected first retained sample to be the second call, got %v", raw[0])
	}
}

func TestStreakCameraIntegrationCount(t *testing.T) {
	src := ConstantImageSource(2, 2, 5.0)
	r := NewStreakCameraReader(src, 2, 2, 2*time.Second, time.Second, false, 0)
	if r.IntegrationCount() != 2 {
		t.Fatalf("expected integration count 2, got %d", r.IntegrationCount())
	}
	ctx := context.Background()
	if err := r.Prepare(ctx, 1, 2*time.Second); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := r.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	out, err := r.Wait(ctx, 2*time.Second)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	for _, v := range out {
		if v != 10.0 {
			t.Fatalf("expected summed value 10.0 (5*2), got %v", v)
		}
	}
}
