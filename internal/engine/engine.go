package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sixy6e/scanacq"
	"github.com/sixy6e/scanacq/internal/aggregator"
	"github.com/sixy6e/scanacq/internal/capability"
	"github.com/sixy6e/scanacq/internal/clock"
	"github.com/sixy6e/scanacq/internal/detector"
	"github.com/sixy6e/scanacq/internal/geo"
	"github.com/sixy6e/scanacq/internal/leech"
	"github.com/sixy6e/scanacq/internal/planner"
	"github.com/sixy6e/scanacq/internal/stage"
	"github.com/sixy6e/scanacq/internal/stream"
)

// ErrBusy is returned by Acquire when another acquisition is already
// running (spec.md §5: the engine accepts at most one in-flight
// acquisition).
var ErrBusy = fmt.Errorf("%w: an acquisition is already in progress", scanacq.ErrValidation)

// Options configures one Acquire call: retry policy, per-tile timeout, the
// actuator axis names a bound scan stage uses, and metadata to overlay
// onto every output at the per-scan level of the §9 overlay stack.
type Options struct {
	AxisNames       [2]string
	ItemSize        int
	MaxRetries      int
	RetryBackoff    time.Duration
	TileTimeout     time.Duration
	PerScanMetadata scanacq.Metadata
	FuzzingFactor   int // K; only consulted when the stream's Fuzzing flag is set
}

func (o Options) withDefaults() Options {
	if o.ItemSize <= 0 {
		o.ItemSize = 8
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 50 * time.Millisecond
	}
	if o.TileTimeout <= 0 {
		o.TileTimeout = 30 * time.Second
	}
	if o.AxisNames == ([2]string{}) {
		o.AxisNames = [2]string{"x", "y"}
	}
	if o.FuzzingFactor < 2 {
		o.FuzzingFactor = 2
	}
	return o
}

// AcquisitionEngine runs at most one acquisition at a time (spec.md §5),
// grounded on the teacher's single convert_gsf pipeline run per process
// invocation (cmd/main.go), generalized here into a mutex-guarded
// single-flight gate rather than a process-per-invocation model, since
// this engine is a long-lived in-process component.
type AcquisitionEngine struct {
	mu      sync.Mutex
	running bool
}

// NewEngine builds an idle AcquisitionEngine.
func NewEngine() *AcquisitionEngine { return &AcquisitionEngine{} }

// Acquire validates s, computes its ScanPlan, and launches the tile loop on
// a background goroutine, returning immediately with an AcquireFuture
// (spec.md §4.5 step 1-2). ctx bounds the whole acquisition; cancelling it,
// or calling AcquireFuture.Cancel, stops the tile loop at the next row or
// tile boundary (spec.md §5).
func (e *AcquisitionEngine) Acquire(ctx context.Context, s *stream.Stream, opts Options) (*AcquireFuture, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, ErrBusy
	}
	e.running = true
	e.mu.Unlock()

	req := buildPlanRequest(s, opts)
	plan := planner.Plan(req)

	runCtx, cancel := context.WithCancel(ctx)
	start := time.Now()
	end := start.Add(plan.EstimateAcquisitionTime())
	future := newFuture(cancel, start, end)

	go func() {
		defer func() {
			e.mu.Lock()
			e.running = false
			e.mu.Unlock()
			cancel()
		}()
		result, err := e.run(runCtx, s, &plan, req, opts, future)
		future.settle(result, err)
	}()

	return future, nil
}

// run executes one full acquisition. For most streams this is a single
// pass (runOnce with no polarization tag). SEMARMDStream with
// AcquireAllPol set (spec.md §3, §8 scenario 3) instead runs the tile loop
// once for each of the six canonical PolarizationPositions, tagging each
// camera-kind output with MD_POL_MODE; no analyzer hardware is driven by
// the engine. The single non-camera (SEM) output is kept only from the
// first pass, since the SEM channel doesn't depend on analyzer position.
// A cancelled pass discards the outputs of every pass.
func (e *AcquisitionEngine) run(ctx context.Context, s *stream.Stream, plan *planner.ScanPlan, req planner.Request, opts Options, future *AcquireFuture) ([]*scanacq.DataArray, error) {
	if !s.AcquireAllPol {
		return e.runOnce(ctx, s, plan, req, opts, future, "")
	}

	var all []*scanacq.DataArray
	nonCameraKept := false
	for _, pos := range stream.PolarizationPositions {
		out, err := e.runOnce(ctx, s, plan, req, opts, future, pos)
		if err != nil {
			var ce *scanacq.CancelledError
			if errors.As(err, &ce) {
				return nil, err
			}
			return all, err
		}
		for _, arr := range out {
			kind, _ := arr.Metadata.String(scanacq.MDDetectorType)
			if kind == capability.KindCamera.String() {
				all = append(all, arr)
				continue
			}
			if !nonCameraKept {
				all = append(all, arr)
			}
		}
		nonCameraKept = true
	}
	return all, nil
}

// runOnce executes the full tile loop: scanning-indicator assertion, leech
// series-start, per-tile retries, leech firing at tile boundaries, output
// assembly with the metadata overlay stack, park/restore, and publication
// to each detector's DataFlow (spec.md §4.5 steps 3-8). polTag, when
// non-empty, stamps MD_POL_MODE on every camera-kind output -- used by run
// when cycling a SEMARMDStream's analyzer through AcquireAllPol.
func (e *AcquisitionEngine) runOnce(ctx context.Context, s *stream.Stream, plan *planner.ScanPlan, req planner.Request, opts Options, future *AcquireFuture, polTag string) (result []*scanacq.DataArray, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("engine: acquisition panic recovered: %v\n%s", r, debug.Stack())
			err = scanacq.NewHardwareError("panic recovered mid-acquisition", fmt.Errorf("%v", r))
		}
	}()

	log.Printf("engine: starting %s acquisition, %dx%d pixels, %d tiles, period=%s osr=%d dpr=%d margin=%d",
		s.Kind, plan.W, plan.H, plan.TileCount, plan.Period, plan.OSR, plan.DPR, plan.Margin)

	sched := leech.NewScheduler(s.Leeches)
	buffers := newBuffers(s, plan)
	if len(buffers) == 0 {
		return nil, scanacq.NewValidationError("stream has no detector with a bound Reader")
	}

	var scanStage *stage.ScanStage
	if s.UseScanStage {
		scanStage = stage.NewScanStage(s.ScanStage)
		positions := stagePixelPositions(plan, s)
		if err := scanStage.ValidateROI(positions, opts.AxisNames); err != nil {
			return nil, err
		}
		scanStage.BeginAcquisition()
	}

	s.Emitter.SetScanningIndicator(true, 10*time.Millisecond, 0)
	defer s.Emitter.SetScanningIndicator(false, 0, 10*time.Millisecond)

	if serr := sched.SeriesStart(ctx); serr != nil {
		return nil, scanacq.NewLeechError("series_start", serr)
	}

	var driftOffset [2]float64
	cancelled := false
	acqStart := time.Now()

	// Each tile starts where the previous one ended, so a tile shortened at
	// a leech boundary leaves no rows unacquired.
tileLoop:
	for nextRow := 0; nextRow < plan.H; {
		select {
		case <-ctx.Done():
			cancelled = true
			break tileLoop
		default:
		}

		r0 := nextRow
		r1 := r0 + plan.RowsPerTile
		if plan.RowsPerTile <= 0 {
			r1 = r0 + 1
		}
		if r1 > plan.H {
			r1 = plan.H
		}
		r1 = sched.ClampTileEnd(r0, r1, plan.W, 1)
		nextRow = r1

		if terr := runTileWithRetry(ctx, s, plan, buffers, r0, r1, driftOffset, opts); terr != nil {
			if errors.Is(terr, context.Canceled) {
				cancelled = true
				break tileLoop
			}
			var ce *scanacq.CancelledError
			if errors.As(terr, &ce) {
				cancelled = true
				break tileLoop
			}
			sched.SeriesComplete(make(map[string]*scanacq.DataArray))
			return partialResults(s, buffers), terr
		}

		due := sched.DueWithin(r0*plan.W, r1*plan.W)
		if len(due) > 0 {
			offset, ferr := sched.FireDue(ctx, due, r1*plan.W)
			if offset != ([2]float64{}) {
				driftOffset = offset
			}
			if ferr != nil {
				sched.SeriesComplete(make(map[string]*scanacq.DataArray))
				return partialResults(s, buffers), ferr
			}
		}

		future.notifyUpdate()
	}

	outputs := finalizeOutputs(s, plan, buffers, opts, driftOffset, acqStart)
	if polTag != "" {
		for _, arr := range outputs {
			if kind, _ := arr.Metadata.String(scanacq.MDDetectorType); kind == capability.KindCamera.String() {
				arr.Metadata.SetString(scanacq.MDPolMode, polTag)
			}
		}
	}
	sched.SeriesComplete(outputs)
	for _, l := range sched.Leeches() {
		if cerr := l.Complete(outputs); cerr != nil {
			log.Printf("engine: leech %s failed to attach its output: %v", l.Name(), cerr)
		}
	}

	if scanStage != nil {
		if rerr := scanStage.Restore(context.Background(), opts.AxisNames, opts.TileTimeout); rerr != nil {
			log.Printf("engine: failed to restore scan stage position: %v", rerr)
		}
	}
	if perr := s.Emitter.ParkAt(s.Emitter.RestingPosition()); perr != nil {
		log.Printf("engine: failed to park emitter: %v", perr)
	}

	if cancelled {
		// A cancelled acquisition's partial outputs are discarded: neither
		// published nor returned.
		return nil, scanacq.NewCancelledError()
	}

	publishResults(s, outputs)
	result = orderedResults(s, outputs)
	log.Printf("engine: %s acquisition complete, %d outputs", s.Kind, len(result))
	return result, nil
}

// buildPlanRequest derives a planner.Request from a validated Stream: pixel
// geometry from its ROI/repetition against the emitter's field extent (also
// stored as the Stream's PixelSize), and
// clock.Params from the emitter's timing descriptors and the stream's
// leech set (spec.md §4.4 inputs).
func buildPlanRequest(s *stream.Stream, opts Options) planner.Request {
	em := s.Emitter
	emMin, emMax, gran := em.DwellRange()

	sched := leech.NewScheduler(s.Leeches)
	hwCapable := stream.CapabilitiesFor(s.Kind).HWTriggerCandidate && !s.UseScanStage

	fieldW, fieldH := em.FieldExtent()
	pixelW := fieldW * (s.ROI[2] - s.ROI[0]) / float64(s.Repetition[0])
	pixelH := fieldH * (s.ROI[3] - s.ROI[1]) / float64(s.Repetition[1])
	tx := fieldW*(s.ROI[0]+s.ROI[2])/2 - fieldW/2
	ty := fieldH*(s.ROI[1]+s.ROI[3])/2 - fieldH/2
	s.PixelSize = [2]float64{pixelW, pixelH}

	params := clock.Params{
		W:                 s.Repetition[0],
		H:                 s.Repetition[1],
		Dwell:             time.Duration(s.ExposureOrDwell() * float64(time.Second)),
		MinDetectorPeriod: emMin,
		EmitterMinPeriod:  emMin,
		EmitterMaxPeriod:  emMax,
		Granularity:       gran,
		SettleTime:        gran * 10,
		BufferCeiling:     em.BufferCeiling(),
		ItemSize:          opts.ItemSize,
		MinLeechPeriod:    sched.MinPeriod(),
		HWTriggerCapable:  hwCapable,
	}

	fuzz := 0
	if s.Fuzzing {
		fuzz = opts.FuzzingFactor
	}

	return planner.Request{
		Params:            params,
		PixelSizeX:        pixelW,
		PixelSizeY:        pixelH,
		TranslationX:      tx,
		TranslationY:      ty,
		Rotation:          s.Rotation,
		VectorModeCapable: em.VectorMode(),
		Fuzzing:           fuzz,
	}
}

// newBuffers allocates one aggregator.Buffer per detector role that has a
// bound Reader, sized by that reader's per-pixel sample count
// (perPixelSampleCount): scalar detectors get an (H,W) buffer, frame-based
// detectors (camera, streak camera) get an (H,W,N) buffer with N the
// per-pixel sample count. A StreakCameraReader's real IntegrationCount()/
// Baseline() are wired into the buffer's integration target so
// CompleteIntegration actually accumulates and finalizes (spec.md §4.5 step
// j, §8 scenario 6).
func newBuffers(s *stream.Stream, plan *planner.ScanPlan) map[string]*aggregator.Buffer {
	buffers := make(map[string]*aggregator.Buffer, len(s.Detectors))
	for role, r := range boundReaders(s) {
		n := perPixelSampleCount(r)
		var shape []int
		var dims []scanacq.DimLabel
		if n > 1 {
			shape = []int{plan.H, plan.W, n}
			dims = []scanacq.DimLabel{scanacq.DimY, scanacq.DimX, scanacq.DimC}
		} else {
			shape = []int{plan.H, plan.W}
			dims = []scanacq.DimLabel{scanacq.DimY, scanacq.DimX}
		}
		target, baseline := integrationParams(r)
		buffers[role] = aggregator.NewBuffer(shape, dims, target, baseline, false)
	}
	return buffers
}

// integrationParams returns the integration target and baseline a bound
// reader requires: a StreakCameraReader requesting more exposure than its
// device maximum sums IntegrationCount() sub-exposures per pixel, so its
// buffer's integration target is that count and the configured Baseline()
// is subtracted once at finalization; every other reader kind integrates
// 1:1 with baseline 0.
func integrationParams(r detector.Reader) (target int, baseline float64) {
	if u, ok := r.(interface{ Unwrap() detector.Reader }); ok {
		r = u.Unwrap()
	}
	if sc, ok := r.(*detector.StreakCameraReader); ok {
		return sc.IntegrationCount(), sc.Baseline()
	}
	return 1, 0
}

// finalizeOutputs stamps the common metadata fields onto every buffer's
// array (spec.md §4.5 step 7) and applies the per-scan metadata overlay
// (spec.md §9 redesign flag), returning a role-keyed map leeches attach
// their own outputs into.
func finalizeOutputs(s *stream.Stream, plan *planner.ScanPlan, buffers map[string]*aggregator.Buffer, opts Options, driftOffset [2]float64, acqDate time.Time) map[string]*scanacq.DataArray {
	outputs := make(map[string]*scanacq.DataArray, len(buffers))
	fuzzK := 1
	if s.Fuzzing {
		fuzzK = opts.FuzzingFactor
	}
	pixelSize := aggregator.ScaledPixelSize(s.PixelSize, fuzzK)
	exposureBased := stream.CapabilitiesFor(s.Kind).ExposureBased
	// MD_POS: the ROI center relative to the emitter field center, in
	// meters, plus the latest drift offset.
	fieldW, fieldH := s.Emitter.FieldExtent()
	pos := [2]float64{
		fieldW*(s.ROI[0]+s.ROI[2])/2 - fieldW/2 + driftOffset[0],
		fieldH*(s.ROI[1]+s.ROI[3])/2 - fieldH/2 + driftOffset[1],
	}

	for _, cd := range s.Detectors {
		b, ok := buffers[cd.Role]
		if !ok {
			continue
		}
		// The reader has already summed every sub-exposure into each written
		// row, so all integrationTarget exposures are complete here.
		for !b.CompleteIntegration(false) {
		}
		aggregator.StampCommonMetadata(b.Array, pos, pixelSize, s.Rotation, acqDate, s.ExposureOrDwell(), exposureBased)
		b.Array.Metadata.SetString(scanacq.MDDetectorType, cd.Detector.Kind().String())
		if cd.UserTint != "" {
			b.Array.Metadata.SetString(scanacq.MDUserTint, cd.UserTint)
		}
		if len(opts.PerScanMetadata) > 0 {
			b.Array.Metadata = aggregator.Overlay(opts.PerScanMetadata, scanacq.NewMetadata(), scanacq.NewMetadata(), b.Array.Metadata)
		}
		if wl, tl := axisLists(cd.Detector); len(wl) > 0 || len(tl) > 0 {
			if len(wl) > 0 {
				b.Array.Metadata.SetFloatSlice(scanacq.MDWlList, wl)
			}
			if len(tl) > 0 {
				b.Array.Metadata.SetFloatSlice(scanacq.MDTimeList, tl)
			}
		}

		arr := b.Array
		if needsCTZYX(s.Kind) && len(arr.Shape) == 3 {
			arr = aggregator.ToCTZYX(arr)
		}
		outputs[cd.Role] = arr
	}
	return outputs
}

// needsCTZYX reports whether kind's per-pixel channel axis must be
// promoted to the published array's leading CTZYX dimensions rather than
// left trailing, per spec.md §3: SEMSpectrumMDStream and
// SEMTemporalSpectrumMDStream are both "5-D CTZYX with T=Z=1, C>1".
func needsCTZYX(kind stream.Kind) bool {
	switch kind {
	case stream.KindSEMSpectrumMD, stream.KindSEMTemporalSpectrumMD:
		return true
	default:
		return false
	}
}

// axisLists returns the wavelength/time axes a bound camera or streak-
// camera detector was configured with (SetWavelengthList/SetTimeList),
// unwrapping past *detector.Bound the same way perPixelSampleCount does.
func axisLists(d capability.Detector) (wavelengths, times []float64) {
	var r any = d
	if u, ok := r.(interface{ Unwrap() detector.Reader }); ok {
		r = u.Unwrap()
	}
	if wler, ok := r.(interface{ WavelengthList() []float64 }); ok {
		wavelengths = wler.WavelengthList()
	}
	if tler, ok := r.(interface{ TimeList() []float64 }); ok {
		times = tler.TimeList()
	}
	return wavelengths, times
}

func publishResults(s *stream.Stream, outputs map[string]*scanacq.DataArray) {
	for _, cd := range s.Detectors {
		arr, ok := outputs[cd.Role]
		if !ok {
			continue
		}
		if df := cd.Detector.Data(); df != nil {
			df.Notify(arr)
		}
	}
}

func orderedResults(s *stream.Stream, outputs map[string]*scanacq.DataArray) []*scanacq.DataArray {
	result := make([]*scanacq.DataArray, 0, len(outputs))
	seen := make(map[string]bool, len(outputs))
	for _, cd := range s.Detectors {
		if arr, ok := outputs[cd.Role]; ok && !seen[cd.Role] {
			result = append(result, arr)
			seen[cd.Role] = true
		}
	}
	for role, arr := range outputs {
		if !seen[role] {
			result = append(result, arr)
			seen[role] = true
		}
	}
	return result
}

func partialResults(s *stream.Stream, buffers map[string]*aggregator.Buffer) []*scanacq.DataArray {
	result := make([]*scanacq.DataArray, 0, len(buffers))
	for _, cd := range s.Detectors {
		if b, ok := buffers[cd.Role]; ok {
			result = append(result, b.Array)
		}
	}
	return result
}

// stagePixelPositions enumerates every pixel center of the planned raster
// in the scan stage's coordinate frame, for ValidateROI (spec.md §4.7: "The
// ROI must be validated against the stage's range before starting").
func stagePixelPositions(plan *planner.ScanPlan, s *stream.Stream) [][2]float64 {
	positions := make([][2]float64, 0, plan.W*plan.H)
	for row := 0; row < plan.H; row++ {
		first, last := geo.RowEndpoints(plan.W, plan.H, row, s.PixelSize[0], s.PixelSize[1], 0, 0, s.Rotation)
		for col := 0; col < plan.W; col++ {
			t := 0.0
			if plan.W > 1 {
				t = float64(col) / float64(plan.W-1)
			}
			p := geo.Lerp(first, last, t)
			positions = append(positions, [2]float64{p.X, p.Y})
		}
	}
	return positions
}
