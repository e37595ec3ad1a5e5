package emitterdrv

import (
	"context"
	"testing"
	"time"

	"github.com/sixy6e/scanacq/internal/capability"
)

func TestWaveformGenLength(t *testing.T) {
	wf := WaveformGen(4, 3, 2, 1, 1, 1, 0, 0, 0, [2]float64{0, 0})
	want := (4 + 2) * 3
	if len(wf) != want {
		t.Fatalf("expected %d waveform samples, got %d", want, len(wf))
	}
}

func TestPositionEventScheduleSkipsMargin(t *testing.T) {
	idx := PositionEventSchedule(4, 2, 1, 1, 1)
	if len(idx) != 4 {
		t.Fatalf("expected one event per pixel column (4), got %d", len(idx))
	}
	if idx[0] != 2 {
		t.Fatalf("expected first event after the 2 margin samples, got index %d", idx[0])
	}
}

func TestSimulatedEmitterParkAndWrite(t *testing.T) {
	em := NewSimulatedEmitter()
	if err := em.ParkAt(em.RestingPosition()); err != nil {
		t.Fatalf("parkAt: %v", err)
	}
	if !em.IsParked() {
		t.Fatalf("expected emitter parked after ParkAt")
	}

	wf := [][2]float64{{0, 0}, {1, 1}}
	h, err := em.WriteWaveform(context.Background(), wf, time.Millisecond, capability.SoftwareStart)
	if err != nil {
		t.Fatalf("writeWaveform: %v", err)
	}
	if err := h.Wait(context.Background(), time.Second); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if em.IsParked() {
		t.Fatalf("expected emitter not parked immediately after a write")
	}
}

func TestSimulatedEmitterSizeTooLarge(t *testing.T) {
	em := NewSimulatedEmitter()
	em.bufCeiling = 1
	wf := [][2]float64{{0, 0}, {1, 1}}
	_, err := em.WriteWaveform(context.Background(), wf, time.Millisecond, capability.SoftwareStart)
	if err == nil {
		t.Fatalf("expected size-too-large error")
	}
}
