package engine

import (
	"context"
	"testing"
	"time"

	"github.com/sixy6e/scanacq"
	"github.com/sixy6e/scanacq/internal/detector"
	"github.com/sixy6e/scanacq/internal/emitterdrv"
	"github.com/sixy6e/scanacq/internal/stream"
)

func TestAcquireProducesShapedOutputAndPublishesToDataFlow(t *testing.T) {
	emitter := emitterdrv.NewSimulatedEmitter()

	reader := detector.NewAnalogReader(detector.ConstantSource(7), time.Millisecond, false, 4095)
	df := scanacq.NewDataFlow(scanacq.DataFlowHooks{})
	bound := detector.NewBound(reader, []int{4096}, df, nil)

	var notified *scanacq.DataArray
	df.Subscribe(func(arr *scanacq.DataArray) { notified = arr })

	s := stream.NewSEMStream(emitter, bound, [4]float64{0, 0, 1, 1}, [2]int{3, 2}, 1e-7)

	e := NewEngine()
	future, err := e.Acquire(context.Background(), s, Options{})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	result, err := future.Result(5 * time.Second)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if len(result) != 1 {
		t.Fatalf("expected 1 output array, got %d", len(result))
	}

	arr := result[0]
	if len(arr.Shape) != 2 || arr.Shape[0] != 2 || arr.Shape[1] != 3 {
		t.Fatalf("expected shape [H=2,W=3], got %v", arr.Shape)
	}
	for i, v := range arr.Data {
		if v != 7 {
			t.Fatalf("data[%d] = %v, want 7 (constant source, identity decimation)", i, v)
		}
	}
	if _, ok := arr.Metadata.FloatPair(scanacq.MDPos); !ok {
		t.Fatalf("expected MD_POS to be stamped")
	}
	if _, ok := arr.Metadata.Float(scanacq.MDDwellTime); !ok {
		t.Fatalf("expected MD_DWELL_TIME to be stamped (SEMStream is not exposure-based)")
	}

	if notified == nil {
		t.Fatalf("expected the detector's DataFlow to be notified")
	}
	if notified != arr {
		t.Fatalf("expected the notified array to be the same instance as the returned result")
	}
}

func TestAcquireRejectsConcurrentRuns(t *testing.T) {
	emitter := emitterdrv.NewSimulatedEmitter()
	reader := detector.NewAnalogReader(detector.ConstantSource(1), 50*time.Millisecond, false, 4095)
	df := scanacq.NewDataFlow(scanacq.DataFlowHooks{})
	bound := detector.NewBound(reader, []int{4096}, df, nil)

	s := stream.NewSEMStream(emitter, bound, [4]float64{0, 0, 1, 1}, [2]int{4, 4}, 1e-7)

	e := NewEngine()
	future, err := e.Acquire(context.Background(), s, Options{})
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	defer future.Result(5 * time.Second)

	if _, err := e.Acquire(context.Background(), s, Options{}); err != ErrBusy {
		t.Fatalf("expected ErrBusy on a concurrent Acquire, got %v", err)
	}
}

func TestAcquireCancelStopsTheRun(t *testing.T) {
	emitter := emitterdrv.NewSimulatedEmitter()
	// A slow per-sample period keeps the tile loop busy long enough for
	// Cancel to land mid-acquisition instead of racing past it.
	reader := detector.NewAnalogReader(detector.ConstantSource(1), 20*time.Millisecond, false, 4095)
	df := scanacq.NewDataFlow(scanacq.DataFlowHooks{})
	bound := detector.NewBound(reader, []int{4096}, df, nil)

	s := stream.NewSEMStream(emitter, bound, [4]float64{0, 0, 1, 1}, [2]int{4, 8}, 1e-7)

	e := NewEngine()
	future, err := e.Acquire(context.Background(), s, Options{})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	future.Cancel()

	if !future.Cancelled() {
		t.Fatalf("expected Cancelled() true after Cancel")
	}
	if _, err := future.Result(5 * time.Second); err == nil {
		t.Fatalf("expected a non-nil error from a cancelled acquisition")
	}
}

func TestAcquireCameraDetectorFillsFrameBuffer(t *testing.T) {
	emitter := emitterdrv.NewSimulatedEmitter()
	frame := []float64{1, 2, 3, 4}
	source := func(time.Duration) []float64 { return append([]float64(nil), frame...) }
	reader := detector.NewCameraReader(source, 2, 2, time.Microsecond, false, 65535)
	df := scanacq.NewDataFlow(scanacq.DataFlowHooks{})
	bound := detector.NewBound(reader, []int{2, 2, 65536}, df, nil)

	s := stream.NewSEMARMDStream(emitter, bound, [4]float64{0, 0, 1, 1}, [2]int{2, 2}, 2e-6, false)

	e := NewEngine()
	future, err := e.Acquire(context.Background(), s, Options{})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	result, err := future.Result(5 * time.Second)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if len(result) != 1 {
		t.Fatalf("expected 1 output array, got %d", len(result))
	}

	arr := result[0]
	if len(arr.Shape) != 3 || arr.Shape[2] != 4 {
		t.Fatalf("expected a (H,W,4) frame buffer, got shape %v", arr.Shape)
	}
	for px := 0; px < arr.Shape[0]*arr.Shape[1]; px++ {
		got := arr.Data[px*4 : px*4+4]
		for i, v := range got {
			if v != frame[i] {
				t.Fatalf("pixel %d channel %d = %v, want %v", px, i, v, frame[i])
			}
		}
	}
	if _, ok := arr.Metadata.Float(scanacq.MDExpTime); !ok {
		t.Fatalf("expected MD_EXP_TIME to be stamped (SEMARMDStream is exposure-based)")
	}
}
