package clock

import (
	"testing"
	"time"
)

func TestChooseBasic(t *testing.T) {
	p := Params{
		W: 512, H: 512,
		Dwell:             10 * time.Microsecond,
		MinDetectorPeriod: time.Microsecond,
		EmitterMinPeriod:  time.Microsecond,
		EmitterMaxPeriod:  time.Millisecond,
		Granularity:       100 * time.Nanosecond,
		SettleTime:        2 * time.Microsecond,
		BufferCeiling:     1 << 20,
		ItemSize:          4,
	}
	plan := Choose(p)
	if plan.OSR < 1 {
		t.Fatalf("expected OSR >= 1, got %d", plan.OSR)
	}
	if plan.RowsPerTile < 1 {
		t.Fatalf("expected at least one row per tile, got %d", plan.RowsPerTile)
	}
}

func TestChooseSubRowLeechForcesSingleRowTiles(t *testing.T) {
	p := Params{
		W: 1000, H: 1000,
		Dwell:             time.Microsecond,
		MinDetectorPeriod: time.Microsecond,
		EmitterMinPeriod:  time.Microsecond,
		EmitterMaxPeriod:  time.Millisecond,
		Granularity:       100 * time.Nanosecond,
		BufferCeiling:     1 << 20,
		ItemSize:          4,
		MinLeechPeriod:    50,
	}
	plan := Choose(p)
	if plan.RowsPerTile != 1 {
		t.Fatalf("expected rows-per-tile 1 when a leech period < W, got %d", plan.RowsPerTile)
	}
}

func TestChooseHardwareTriggerDropsMargin(t *testing.T) {
	p := Params{
		W: 10, H: 10,
		Dwell:             time.Microsecond,
		MinDetectorPeriod: time.Microsecond,
		EmitterMinPeriod:  time.Microsecond,
		EmitterMaxPeriod:  time.Millisecond,
		Granularity:       100 * time.Nanosecond,
		SettleTime:        2 * time.Microsecond,
		BufferCeiling:     1 << 20,
		ItemSize:          4,
		HWTriggerCapable:  true,
	}
	plan := Choose(p)
	if plan.Margin != 0 {
		t.Fatalf("expected zero margin under hardware trigger, got %d", plan.Margin)
	}
	if plan.TriggerMode != HardwareTriggerAtEachSample {
		t.Fatalf("expected hardware trigger mode selected")
	}
}
