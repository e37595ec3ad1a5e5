// Package stream implements the Stream variants of spec.md §3, redesigned
// per §9's flag away from the source's deep subclass hierarchy
// (SettingsStream -> LiveStream -> RepetitionStream -> CCDSettingsStream ->
// ...) into a tagged Kind plus a small Capabilities table -- composition
// over inheritance. Grounded on the teacher's RecordID/SubRecordID tagged-
// constant style (decode/decode.go), generalized from a record-type tag to
// a stream-kind tag carrying an attached capability struct.
package stream

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/sixy6e/scanacq"
	"github.com/sixy6e/scanacq/internal/capability"
	"github.com/sixy6e/scanacq/internal/leech"
)

// Kind tags which of the six stream variants of spec.md §3 a Stream is.
type Kind int

const (
	KindSEM Kind = iota
	KindSEMMD
	KindSEMSpectrumMD
	KindSEMARMD
	KindSEMTemporalSpectrumMD
	KindSEMTemporalMD
)

func (k Kind) String() string {
	switch k {
	case KindSEM:
		return "SEMStream"
	case KindSEMMD:
		return "SEMMDStream"
	case KindSEMSpectrumMD:
		return "SEMSpectrumMDStream"
	case KindSEMARMD:
		return "SEMARMDStream"
	case KindSEMTemporalSpectrumMD:
		return "SEMTemporalSpectrumMDStream"
	case KindSEMTemporalMD:
		return "SEMTemporalMDStream"
	default:
		return "UnknownStream"
	}
}

// Capabilities is the small per-Kind capability table spec.md §9 asks for
// in place of inheritance: whether the stream clocks by dwell time or
// total exposure, whether each detector's per-pixel output is 1-D or 2-D,
// and whether hardware-trigger clocking is a candidate for it at all.
type Capabilities struct {
	ExposureBased       bool // false: dwellTime; true: integrationTime/exposureTime
	PerPixelDims        int  // 0 for scalar, 1 for 1-D (spectrum/histogram), 2 for 2-D (camera frame)
	HWTriggerCandidate  bool
	SupportsPolarization bool
}

var capabilityTable = map[Kind]Capabilities{
	KindSEM:                   {ExposureBased: false, PerPixelDims: 0, HWTriggerCandidate: true},
	KindSEMMD:                 {ExposureBased: false, PerPixelDims: 0, HWTriggerCandidate: true},
	KindSEMSpectrumMD:         {ExposureBased: true, PerPixelDims: 1, HWTriggerCandidate: false},
	KindSEMARMD:               {ExposureBased: true, PerPixelDims: 2, HWTriggerCandidate: false, SupportsPolarization: true},
	KindSEMTemporalSpectrumMD: {ExposureBased: true, PerPixelDims: 2, HWTriggerCandidate: false},
	KindSEMTemporalMD:         {ExposureBased: true, PerPixelDims: 1, HWTriggerCandidate: false},
}

// CapabilitiesFor returns the Capabilities table entry for kind.
func CapabilitiesFor(kind Kind) Capabilities { return capabilityTable[kind] }

// ChildDetector is one detector bound into a Stream alongside its role
// metadata (its role name and an optional user tint, e.g. for a CL
// channel).
type ChildDetector struct {
	Detector capability.Detector
	Role     string
	UserTint string
}

// Stream is the tagged variant of spec.md §3: scanner + an ordered list of
// detectors/leeches, ROI/repetition/pixelSize/rotation/dwell geometry, and
// an optional scan-stage binding.
type Stream struct {
	Kind Kind

	Emitter   capability.Emitter
	Detectors []ChildDetector
	Leeches   []leech.Leech

	ROI        [4]float64 // x0,y0,x1,y1 in [0,1] relative to emitter field
	Repetition [2]int     // W,H
	PixelSize  [2]float64 // meters, derived from ROI/Repetition/FieldExtent
	Rotation   float64    // radians

	DwellTime       float64 // seconds; used when !Capabilities.ExposureBased
	IntegrationTime float64 // seconds; used when Capabilities.ExposureBased

	Fuzzing bool

	UseScanStage bool
	ScanStage    capability.Actuator

	AcquireAllPol bool // SEMARMDStream: cycle the analyzer through all 6 canonical positions
}

// PolarizationPositions are the canonical analyzer positions spec.md §8
// scenario 3 refers to.
var PolarizationPositions = []string{
	"horizontal", "vertical", "posdiag", "negdiag", "rhc", "lhc",
}

// Validate checks the Stream invariants of spec.md §3 and the
// cross-cutting validations of §7 (ValidationError: ROI out of stage
// range is checked by the stage package at engine time, not here; rotation
// on a non-vector emitter and scan-stage/non-camera binding are checked
// here since they are Stream-construction-time facts).
func (s *Stream) Validate() error {
	if s.Repetition[0] < 1 || s.Repetition[1] < 1 {
		return scanacq.NewValidationError("repetition must be >= 1 on each axis")
	}
	if s.ROI[2] < s.ROI[0] || s.ROI[3] < s.ROI[1] {
		return scanacq.NewValidationError("roi must have x1>=x0 and y1>=y0")
	}
	if s.Rotation != 0 && s.Emitter != nil && !s.Emitter.VectorMode() {
		return scanacq.NewValidationError("rotation requested on a non-vector-mode emitter")
	}
	if s.UseScanStage {
		for _, d := range s.Detectors {
			if d.Detector.Kind() != capability.KindCamera {
				return scanacq.NewValidationError(
					fmt.Sprintf("scan stage requires camera detectors, got %s for role %q", d.Detector.Kind(), d.Role))
			}
		}
	}
	return nil
}

// DetectorList returns the flattened list of bound capability.Detector values,
// in declaration order, using samber/lo in the same spirit as the
// teacher's lo.Difference/lo.Chunk helpers (nulls.go, ping.go) -- here
// simply projecting one field out of ChildDetector rather than
// reconciling schemas.
func (s *Stream) DetectorList() []capability.Detector {
	return lo.Map(s.Detectors, func(d ChildDetector, _ int) capability.Detector {
		return d.Detector
	})
}

// ExposureOrDwell returns the per-pixel clocking time this stream's
// Capabilities says to use.
func (s *Stream) ExposureOrDwell() float64 {
	if CapabilitiesFor(s.Kind).ExposureBased {
		return s.IntegrationTime
	}
	return s.DwellTime
}
