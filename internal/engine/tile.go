package engine

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sixy6e/scanacq"
	"github.com/sixy6e/scanacq/internal/aggregator"
	"github.com/sixy6e/scanacq/internal/capability"
	"github.com/sixy6e/scanacq/internal/clock"
	"github.com/sixy6e/scanacq/internal/detector"
	"github.com/sixy6e/scanacq/internal/emitterdrv"
	"github.com/sixy6e/scanacq/internal/geo"
	"github.com/sixy6e/scanacq/internal/planner"
	"github.com/sixy6e/scanacq/internal/stage"
	"github.com/sixy6e/scanacq/internal/stream"
)

// runTileWithRetry runs one tile's raster acquisition, retrying transient
// hardware errors with exponential backoff up to opts.MaxRetries times
// before escalating to a HardwareError, per spec.md §7: "A
// TransientHardwareError is retried at tile granularity ... escalates to a
// HardwareError once retries are exhausted."
func runTileWithRetry(ctx context.Context, s *stream.Stream, plan *planner.ScanPlan, buffers map[string]*aggregator.Buffer, r0, r1 int, driftOffset [2]float64, opts Options) error {
	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := opts.RetryBackoff * time.Duration(uint(1)<<uint(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			log.Printf("engine: retrying tile rows [%d,%d) attempt %d/%d after: %v", r0, r1, attempt+1, opts.MaxRetries+1, lastErr)
		}

		var err error
		if s.UseScanStage {
			err = runTileScanStage(ctx, s, plan, buffers, r0, r1, opts)
		} else {
			err = runTileRaster(ctx, s, plan, buffers, r0, r1, driftOffset, opts)
		}
		if err == nil {
			return nil
		}
		var transient *scanacq.TransientHardwareError
		if !errors.As(err, &transient) {
			return err
		}
		lastErr = err
	}
	return scanacq.NewHardwareError("tile exhausted retries", lastErr)
}

// runTileRaster drives one tile of a vector-raster stream: prepare and run
// every bound detector reader, write the emitter waveform for rows
// [r0,r1), schedule newPositionEvent firings, then wait and decimate each
// reader's output into its buffer (spec.md §4.5 steps 5-6h).
func runTileRaster(ctx context.Context, s *stream.Stream, plan *planner.ScanPlan, buffers map[string]*aggregator.Buffer, r0, r1 int, driftOffset [2]float64, opts Options) error {
	rows := r1 - r0
	if rows <= 0 {
		return nil
	}

	tileCtx, cancel := context.WithTimeout(ctx, opts.TileTimeout)
	defer cancel()

	rowPoints := translatePoints(plan.TileWaveform(r0, r1), driftOffset)
	wf := buildTileWaveform(rowPoints, plan.W, plan.Margin, plan.DPR)
	stride := plan.W + plan.Margin

	readers := boundReaders(s)
	if len(readers) == 0 {
		return scanacq.NewValidationError("no detector in this stream has a bound Reader")
	}

	for _, r := range readers {
		sampleCount := sampleCountForKind(r.Kind(), stride, plan.OSR, plan.DPR, rows)
		expected := time.Duration(sampleCount) * plan.Period
		if err := r.Prepare(tileCtx, sampleCount, expected); err != nil {
			return scanacq.NewTransientError(err)
		}
	}
	for _, r := range readers {
		if err := r.Run(tileCtx); err != nil {
			return scanacq.NewTransientError(err)
		}
	}

	mode := capability.SoftwareStart
	if plan.TriggerMode == clock.HardwareTriggerAtEachSample {
		mode = capability.HardwareTriggerAtEachSample
	}

	writeHandle, err := s.Emitter.WriteWaveform(tileCtx, wf, plan.Period, mode)
	if err != nil {
		cancelReaders(readers)
		return scanacq.NewTransientError(err)
	}

	start := time.Now()
	indices := emitterdrv.PositionEventSchedule(plan.W, plan.Margin, plan.OSR, plan.DPR, rows)
	go emitterdrv.FireNewPositionEvents(tileCtx, s.Emitter.NewPositionEvent(), start, plan.Period, indices, 1)

	if err := writeHandle.Wait(tileCtx, opts.TileTimeout); err != nil {
		cancelReaders(readers)
		return scanacq.NewTransientError(err)
	}

	for role, r := range readers {
		raw, err := r.Wait(tileCtx, opts.TileTimeout)
		if err != nil {
			return scanacq.NewTransientError(err)
		}

		var trimmed []float64
		rowElems := plan.W
		switch r.Kind() {
		case capability.KindCamera, capability.KindStreakCamera:
			frame := perPixelSampleCount(r)
			trimmed = trimMarginFrame(raw, plan.W, plan.Margin, rows, frame)
			rowElems = plan.W * frame
		default:
			decimated := decimateForKind(r.Kind(), raw, plan.OSR, plan.DPR)
			trimmed = detector.TrimMargin(decimated, plan.W, plan.Margin, rows)
		}
		writeRowsInto(buffers[role], trimmed, rowElems, r0, rows)
	}

	return nil
}

// runTileScanStage drives one tile of a scan-stage variant: no waveform is
// written and the emitter is not moved by this path; the mechanical stage
// is moved to each pixel in turn, triggering the bound camera detector
// synchronously per pixel (spec.md §4.7).
func runTileScanStage(ctx context.Context, s *stream.Stream, plan *planner.ScanPlan, buffers map[string]*aggregator.Buffer, r0, r1 int, opts Options) error {
	scanStage := stage.NewScanStage(s.ScanStage)
	readers := boundReaders(s)

	for row := r0; row < r1; row++ {
		first, last := geo.RowEndpoints(plan.W, plan.H, row, s.PixelSize[0], s.PixelSize[1], 0, 0, s.Rotation)
		rowValues := make(map[string][]float64, len(readers))
		for col := 0; col < plan.W; col++ {
			t := 0.0
			if plan.W > 1 {
				t = float64(col) / float64(plan.W-1)
			}
			p := geo.Lerp(first, last, t)
			if err := scanStage.MoveToPixel(ctx, opts.AxisNames, [2]float64{p.X, p.Y}, opts.TileTimeout); err != nil {
				return scanacq.NewTransientError(err)
			}
			for role, r := range readers {
				if err := r.Prepare(ctx, 1, plan.Period); err != nil {
					return scanacq.NewTransientError(err)
				}
				if err := r.Run(ctx); err != nil {
					return scanacq.NewTransientError(err)
				}
				raw, err := r.Wait(ctx, opts.TileTimeout)
				if err != nil {
					return scanacq.NewTransientError(err)
				}
				rowValues[role] = append(rowValues[role], raw...)
			}
		}
		for role, vals := range rowValues {
			if b, ok := buffers[role]; ok {
				b.WriteRow(row, vals)
			}
		}
	}
	return nil
}

func boundReaders(s *stream.Stream) map[string]detector.Reader {
	readers := make(map[string]detector.Reader, len(s.Detectors))
	for _, cd := range s.Detectors {
		if r, ok := cd.Detector.(detector.Reader); ok {
			readers[cd.Role] = r
		} else {
			log.Printf("engine: detector role %q has no bound Reader, excluded from this acquisition", cd.Role)
		}
	}
	return readers
}

func cancelReaders(readers map[string]detector.Reader) {
	for _, r := range readers {
		r.Cancel()
	}
}

// buildTileWaveform duplicates every waveform entry (margin columns and
// pixel centers alike) DPR times, so the decimation group size (OSR*DPR
// raw samples per entry) is uniform across the whole row, matching
// TrimMargin/DecimateAverage/DecimateSum's assumption that margin and
// pixel entries share one group size (internal/detector/reader.go).
func buildTileWaveform(rowPoints []geo.Point, w, margin, dpr int) [][2]float64 {
	stride := w + margin
	if stride <= 0 {
		return nil
	}
	rows := len(rowPoints) / stride
	out := make([][2]float64, 0, stride*dpr*rows)
	for row := 0; row < rows; row++ {
		base := row * stride
		for col := 0; col < stride; col++ {
			p := rowPoints[base+col]
			for d := 0; d < dpr; d++ {
				out = append(out, [2]float64{p.X, p.Y})
			}
		}
	}
	return out
}

func translatePoints(pts []geo.Point, offset [2]float64) []geo.Point {
	if offset == ([2]float64{}) {
		return pts
	}
	out := make([]geo.Point, len(pts))
	for i, p := range pts {
		out[i] = geo.Point{X: p.X + offset[0], Y: p.Y + offset[1]}
	}
	return out
}

// sampleCountForKind returns the number of raw samples a reader's Prepare
// call should request for a tile of the given row count: OSR*DPR raw ticks
// per emitter entry for clocked analog/counting/temporal readers, or one
// exposure per emitter entry (ignoring OSR and DPR, since an exposure
// already spans the full per-pixel dwell) for frame-based readers.
func sampleCountForKind(kind capability.DetectorKind, stride, osr, dpr, rows int) int {
	switch kind {
	case capability.KindCamera, capability.KindStreakCamera:
		return stride * rows
	default:
		return stride * dpr * osr * rows
	}
}

func decimateForKind(kind capability.DetectorKind, raw []float64, osr, dpr int) []float64 {
	switch kind {
	case capability.KindCounting:
		return detector.DecimateSum(raw, osr*dpr)
	default:
		return detector.DecimateAverage(raw, osr, dpr)
	}
}

// trimMarginFrame is TrimMargin generalized to frame-sized entries (camera/
// streak-camera readers, where each pixel carries `frame` samples rather
// than one).
func trimMarginFrame(raw []float64, w, margin, rows, frame int) []float64 {
	if margin == 0 {
		return raw
	}
	stride := (w + margin) * frame
	out := make([]float64, 0, w*rows*frame)
	for row := 0; row < rows; row++ {
		start := row*stride + margin*frame
		out = append(out, raw[start:start+w*frame]...)
	}
	return out
}

func writeRowsInto(b *aggregator.Buffer, trimmed []float64, stride, r0, rows int) {
	if b == nil {
		return
	}
	for row := 0; row < rows; row++ {
		start := row * stride
		if start+stride > len(trimmed) {
			return
		}
		b.WriteRow(r0+row, trimmed[start:start+stride])
	}
}

// perPixelSampleCount returns how many raw samples one emitter entry
// produces for r: frame size (width*height) for camera/streak-camera
// readers, 1 for every scalar-sampling kind. r usually arrives wrapped in
// *detector.Bound, which does not promote FrameSize, so it is unwrapped
// first.
func perPixelSampleCount(r detector.Reader) int {
	if u, ok := r.(interface{ Unwrap() detector.Reader }); ok {
		r = u.Unwrap()
	}
	switch v := r.(type) {
	case *detector.CameraReader:
		return v.FrameSize()
	case *detector.StreakCameraReader:
		return v.FrameSize()
	default:
		return 1
	}
}
