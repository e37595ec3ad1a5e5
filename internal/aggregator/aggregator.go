// Package aggregator implements the Stream Aggregator of spec.md §4.5/§3:
// mapping per-tile decimated raw blocks and leech outputs into typed
// DataArrays with a metadata overlay stack (component default -> child
// override -> per-scan -> per-pixel, per spec.md §9's redesign flag away
// from the source's global-mutable metadata maps). Grounded on the
// teacher's BeamArray accumulate-then-finalize pattern (ping.go):
// per-tile beam slices are appended into a growing BeamArray there; here,
// per-tile decimated pixel rows are written into a growing DataArray, with
// dtype-widening handled by accumulating in float64 throughout and
// applying baseline/division only once at finalize.
package aggregator

import (
	"time"

	"github.com/sixy6e/scanacq"
)

// Buffer accumulates one detector's output across tiles for one scan, with
// optional image-integration accumulation (spec.md §4.5 step j).
type Buffer struct {
	Array *scanacq.DataArray

	integrating      bool
	integrationTarget int
	integrationCount  int
	baseline          float64
	accum             []float64
}

// NewBuffer allocates a Buffer of the given shape/dims. When
// integrationTarget > 1, WriteRow accumulates rather than overwrites, and
// CompleteIntegration, once called integrationTarget times, subtracts
// baseline exactly once and divides by the target only when asked to
// average (spec.md §4.5 step j, §8 testable property on integration
// arithmetic).
func NewBuffer(shape []int, dims []scanacq.DimLabel, integrationTarget int, baseline float64, averaging bool) *Buffer {
	b := &Buffer{
		Array:             scanacq.NewDataArray(shape, dims),
		integrating:       integrationTarget > 1,
		integrationTarget: integrationTarget,
		baseline:          baseline,
	}
	if b.integrating {
		n := 1
		for _, s := range shape {
			n *= s
		}
		b.accum = make([]float64, n)
	}
	_ = averaging
	return b
}

// rowStride returns the number of elements spanned by one unit of the
// leading (row) dimension -- W for a 2-D (H,W) buffer, W*N for a 3-D
// (H,W,N) buffer such as a per-pixel spectrum or camera frame.
func (b *Buffer) rowStride() int {
	n := 1
	for _, s := range b.Array.Shape[1:] {
		n *= s
	}
	return n
}

// WriteRow writes one fully-decimated row (rowStride samples) at row index
// row, or accumulates it if integration is active.
func (b *Buffer) WriteRow(row int, values []float64) {
	stride := b.rowStride()
	if b.integrating {
		for i, v := range values {
			b.accum[row*stride+i] += v
		}
		return
	}
	copy(b.Array.Data[row*stride:row*stride+stride], values)
}

// CompleteIntegration increments the integration counter by one exposure
// and, once the target is reached, finalizes the accumulator into Array:
// subtract baseline once (not per exposure) and average if requested
// (spec.md §4.5 step j: "subtract one copy of baseline ... and divide if
// averaging").
func (b *Buffer) CompleteIntegration(averaging bool) bool {
	if !b.integrating {
		b.Array.Metadata.SetInt(scanacq.MDIntegrationCnt, 1)
		b.Array.Metadata.SetFloat(scanacq.MDBaseline, b.baseline)
		return true
	}
	b.integrationCount++
	if b.integrationCount < b.integrationTarget {
		return false
	}
	for i, v := range b.accum {
		v -= b.baseline
		if averaging {
			v /= float64(b.integrationTarget)
		}
		b.Array.Data[i] = v
	}
	b.Array.Metadata.SetInt(scanacq.MDIntegrationCnt, b.integrationTarget)
	b.Array.Metadata.SetFloat(scanacq.MDBaseline, b.baseline)
	return true
}

// StampCommonMetadata writes the metadata fields every primary output
// carries (spec.md §4.5 step 7): MD_POS (emitter center + scan-stage
// offset + drift offset), MD_PIXEL_SIZE (scaled by fuzzing), MD_ROTATION,
// MD_DWELL_TIME or MD_EXP_TIME, MD_ACQ_DATE.
func StampCommonMetadata(arr *scanacq.DataArray, pos [2]float64, pixelSize [2]float64, rotation float64, acqDate time.Time, dwellOrExposure float64, exposureBased bool) {
	arr.Metadata.SetFloatPair(scanacq.MDPos, pos[0], pos[1])
	arr.Metadata.SetFloatPair(scanacq.MDPixelSize, pixelSize[0], pixelSize[1])
	arr.Metadata.SetFloat(scanacq.MDRotation, rotation)
	arr.StampAcquisitionDate(acqDate)
	if exposureBased {
		arr.Metadata.SetFloat(scanacq.MDExpTime, dwellOrExposure)
	} else {
		arr.Metadata.SetFloat(scanacq.MDDwellTime, dwellOrExposure)
	}
}

// ScaledPixelSize returns stream pixel size scaled by the fuzzing factor
// (1 if no fuzzing, 1/K if fuzzing K), per spec.md §8 testable property on
// MD_PIXEL_SIZE.
func ScaledPixelSize(streamPixelSize [2]float64, fuzzingK int) [2]float64 {
	if fuzzingK < 1 {
		fuzzingK = 1
	}
	return [2]float64{streamPixelSize[0] / float64(fuzzingK), streamPixelSize[1] / float64(fuzzingK)}
}

// ToCTZYX reshapes a (H,W,C) per-pixel-channel array (Dims Y,X,C, as
// produced by a frame-based detector's buffer) into the spec-mandated 5-D
// CTZYX layout (C,1,1,H,W) required of SEMSpectrumMDStream and
// SEMTemporalSpectrumMDStream outputs (spec.md §3: "5-D CTZYX with
// T=Z=1"). The per-pixel channel axis, trailing during tile accumulation,
// is promoted to the array's leading dimension; T and Z are added as
// size-1 axes.
func ToCTZYX(arr *scanacq.DataArray) *scanacq.DataArray {
	h, w, c := arr.Shape[0], arr.Shape[1], arr.Shape[2]
	out := scanacq.NewDataArray(
		[]int{c, 1, 1, h, w},
		[]scanacq.DimLabel{scanacq.DimC, scanacq.DimT, scanacq.DimZ, scanacq.DimY, scanacq.DimX},
	)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for ch := 0; ch < c; ch++ {
				out.Data[ch*h*w+y*w+x] = arr.Data[y*w*c+x*c+ch]
			}
		}
	}
	out.Metadata = arr.Metadata
	out.Metadata.SetString(scanacq.MDDims, scanacq.DimsLabel(out.Dims))
	return out
}

// Overlay merges the four-level metadata overlay stack of spec.md §9
// (component default -> child override -> per-scan -> per-pixel), each
// level overriding the ones before it, and returns the merged table
// rather than mutating any level in place as the source does.
func Overlay(componentDefault, childOverride, perScan, perPixel scanacq.Metadata) scanacq.Metadata {
	m := scanacq.Overlay(componentDefault, childOverride)
	m = scanacq.Overlay(m, perScan)
	m = scanacq.Overlay(m, perPixel)
	return m
}
