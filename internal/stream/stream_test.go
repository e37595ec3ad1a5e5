package stream

import (
	"testing"

	"github.com/sixy6e/scanacq/internal/capability"
	"github.com/sixy6e/scanacq/internal/emitterdrv"
)

func TestValidateRejectsBadRepetition(t *testing.T) {
	s := &Stream{Repetition: [2]int{0, 5}}
	if err := s.Validate(); err == nil {
		t.Fatalf("expected an error for repetition with a zero axis")
	}
}

func TestValidateRejectsInvertedROI(t *testing.T) {
	s := &Stream{Repetition: [2]int{1, 1}, ROI: [4]float64{0.5, 0, 0.1, 1}}
	if err := s.Validate(); err == nil {
		t.Fatalf("expected an error for roi with x1 < x0")
	}
}

func TestValidateRejectsRotationOnNonVectorEmitter(t *testing.T) {
	em := emitterdrv.NewSimulatedEmitter()
	// Force non-vector capability for this check.
	s := &Stream{Repetition: [2]int{1, 1}, ROI: [4]float64{0, 0, 1, 1}, Rotation: 0.1, Emitter: nonVectorEmitter{em}}
	if err := s.Validate(); err == nil {
		t.Fatalf("expected an error for rotation on a non-vector emitter")
	}
}

type nonVectorEmitter struct{ *emitterdrv.SimulatedEmitter }

func (n nonVectorEmitter) VectorMode() bool { return false }

var _ capability.Emitter = nonVectorEmitter{}
