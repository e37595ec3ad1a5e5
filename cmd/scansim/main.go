package main

import (
	"context"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/alitto/pond"
	"github.com/urfave/cli/v2"

	"github.com/sixy6e/scanacq"
	"github.com/sixy6e/scanacq/internal/capability"
	"github.com/sixy6e/scanacq/internal/detector"
	"github.com/sixy6e/scanacq/internal/emitterdrv"
	"github.com/sixy6e/scanacq/internal/engine"
	"github.com/sixy6e/scanacq/internal/leech"
	"github.com/sixy6e/scanacq/internal/stage"
	"github.com/sixy6e/scanacq/internal/stream"
)

// noisySource returns a SampleSource wobbling around base, standing in for
// a real detector's shot noise.
func noisySource(base, spread float64) detector.SampleSource {
	return func() float64 { return base + (rand.Float64()-0.5)*spread }
}

// runSEM acquires one plain SEM raster from a simulated emitter and analog
// detector, logging the resulting shape and a few stamped metadata fields.
func runSEM(ctx context.Context, width, height int, dwellUS float64) error {
	emitter := emitterdrv.NewSimulatedEmitter()
	reader := detector.NewAnalogReader(noisySource(2048, 40), time.Microsecond, false, 4095)
	df := scanacq.NewDataFlow(scanacq.DataFlowHooks{})
	bound := detector.NewBound(reader, []int{4096}, df, nil)

	s := stream.NewSEMStream(emitter, bound, [4]float64{0, 0, 1, 1}, [2]int{width, height}, dwellUS*1e-6)

	e := engine.NewEngine()
	future, err := e.Acquire(ctx, s, engine.Options{})
	if err != nil {
		return err
	}
	result, err := future.Result(30 * time.Second)
	if err != nil {
		return err
	}
	arr := result[0]
	log.Printf("scan complete: shape=%v dwell_time=%v", arr.Shape, arr.Metadata[scanacq.MDDwellTime])
	return nil
}

// runSEMMDWithProbe acquires a SEMMD stream with one analog detector and a
// probe-current leech firing every leechPeriod pixels, demonstrating the leech
// subsystem end to end against a simulated current source.
func runSEMMDWithProbe(ctx context.Context, width, height, leechPeriod int) error {
	emitter := emitterdrv.NewSimulatedEmitter()
	reader := detector.NewAnalogReader(noisySource(1500, 20), time.Microsecond, false, 4095)
	df := scanacq.NewDataFlow(scanacq.DataFlowHooks{})
	bound := detector.NewBound(reader, []int{4096}, df, nil)

	probe := leech.NewProbeCurrentAcquirer("probe", leechPeriod, 500*time.Microsecond, func(context.Context) (float64, error) {
		return 1e-9 + rand.Float64()*1e-11, nil
	}, false)

	s := stream.NewSEMMDStream(emitter, []stream.ChildDetector{{Detector: bound, Role: "cl"}}, []leech.Leech{probe}, [4]float64{0, 0, 1, 1}, [2]int{width, height}, 1e-6)

	e := engine.NewEngine()
	future, err := e.Acquire(ctx, s, engine.Options{})
	if err != nil {
		return err
	}
	result, err := future.Result(30 * time.Second)
	if err != nil {
		return err
	}
	arr := result[0]
	series, _ := arr.Metadata[scanacq.MDProbeCurrentTS].([][2]float64)
	log.Printf("semmd complete: shape=%v probe_current_samples=%d", arr.Shape, len(series))
	return nil
}

// runScanStage acquires a small camera-based scan-stage raster, moving a
// SimulatedActuator to each pixel instead of vector-scanning the emitter.
func runScanStage(ctx context.Context, width, height int) error {
	emitter := emitterdrv.NewSimulatedEmitter()
	source := detector.ConstantImageSource(4, 4, 900)
	reader := detector.NewCameraReader(source, 4, 4, 200*time.Microsecond, false, 65535)
	df := scanacq.NewDataFlow(scanacq.DataFlowHooks{})
	bound := detector.NewBound(reader, []int{4, 4, 65536}, df, nil)

	axes := map[string]capability.Axis{
		"x": {Min: -1e-4, Max: 1e-4, Unit: "m"},
		"y": {Min: -1e-4, Max: 1e-4, Unit: "m"},
	}
	actuator := stage.NewSimulatedActuator(axes, 2*time.Millisecond)

	s := stream.NewSEMARMDStream(emitter, bound, [4]float64{0.25, 0.25, 0.75, 0.75}, [2]int{width, height}, 200e-6, false)
	s.UseScanStage = true
	s.ScanStage = actuator

	e := engine.NewEngine()
	future, err := e.Acquire(ctx, s, engine.Options{})
	if err != nil {
		return err
	}
	result, err := future.Result(60 * time.Second)
	if err != nil {
		return err
	}
	log.Printf("scan-stage complete: shape=%v final stage position=%v", result[0].Shape, actuator.Position())
	return nil
}

// runBatch fans N independent simulated SEM acquisitions out across a fixed
// worker pool, cancellable by Ctrl+C.
func runBatch(n, width, height int, dwellUS float64) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	workers := runtime.NumCPU() * 2
	pool := pond.New(workers, 0, pond.MinWorkers(workers), pond.Context(ctx))
	defer pool.StopAndWait()

	for i := 0; i < n; i++ {
		idx := i
		pool.Submit(func() {
			if err := runSEM(ctx, width, height, dwellUS); err != nil {
				log.Printf("batch scan %d failed: %v", idx, err)
			}
		})
	}

	return nil
}

func main() {
	app := &cli.App{
		Name:  "scansim",
		Usage: "drive the acquisition engine against simulated emitter/detector/actuator backends",
		Commands: []*cli.Command{
			{
				Name:  "scan",
				Usage: "acquire one simulated SEM raster",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "width", Value: 64},
					&cli.IntFlag{Name: "height", Value: 64},
					&cli.Float64Flag{Name: "dwell-us", Value: 1.0, Usage: "per-pixel dwell time, microseconds"},
				},
				Action: func(cCtx *cli.Context) error {
					return runSEM(context.Background(), cCtx.Int("width"), cCtx.Int("height"), cCtx.Float64("dwell-us"))
				},
			},
			{
				Name:  "probe-scan",
				Usage: "acquire a SEMMD raster with a probe-current leech attached",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "width", Value: 64},
					&cli.IntFlag{Name: "height", Value: 64},
					&cli.IntFlag{Name: "leech-period", Value: 8, Usage: "fire the probe-current leech every N pixels"},
				},
				Action: func(cCtx *cli.Context) error {
					return runSEMMDWithProbe(context.Background(), cCtx.Int("width"), cCtx.Int("height"), cCtx.Int("leech-period"))
				},
			},
			{
				Name:  "stage-scan",
				Usage: "acquire a camera raster via a simulated mechanical scan stage",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "width", Value: 8},
					&cli.IntFlag{Name: "height", Value: 8},
				},
				Action: func(cCtx *cli.Context) error {
					return runScanStage(context.Background(), cCtx.Int("width"), cCtx.Int("height"))
				},
			},
			{
				Name:  "batch",
				Usage: "run N simulated SEM acquisitions concurrently",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "count", Value: 4},
					&cli.IntFlag{Name: "width", Value: 64},
					&cli.IntFlag{Name: "height", Value: 64},
					&cli.Float64Flag{Name: "dwell-us", Value: 1.0},
				},
				Action: func(cCtx *cli.Context) error {
					return runBatch(cCtx.Int("count"), cCtx.Int("width"), cCtx.Int("height"), cCtx.Float64("dwell-us"))
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
