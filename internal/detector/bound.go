package detector

import (
	"github.com/sixy6e/scanacq"
	"github.com/sixy6e/scanacq/internal/capability"
)

// Bound pairs a Reader (the per-tile prepare/run/wait/cancel executor) with
// the descriptor fields internal/capability.Detector exposes to the rest of
// the system (shape, the published DataFlow, an optional software
// trigger). The two live on separate interfaces per §4.3/§6 because their
// shapes differ by kind; Bound is the seam that lets one concrete backend
// satisfy both, the same way the teacher's decode.go pairs a RecordID tag
// with the decoder function that handles it rather than folding both into
// one interface.
type Bound struct {
	Reader
	shape           []int
	data            *scanacq.DataFlow
	softwareTrigger *scanacq.SyncEvent
}

// NewBound wraps reader as a capability.Detector with the given descriptor
// fields. data may not be nil; softwareTrigger may be nil for push-based
// detectors that have none.
func NewBound(reader Reader, shape []int, data *scanacq.DataFlow, softwareTrigger *scanacq.SyncEvent) *Bound {
	return &Bound{Reader: reader, shape: shape, data: data, softwareTrigger: softwareTrigger}
}

func (b *Bound) Shape() []int                        { return b.shape }
func (b *Bound) Data() *scanacq.DataFlow              { return b.data }
func (b *Bound) SoftwareTrigger() *scanacq.SyncEvent { return b.softwareTrigger }

// Unwrap returns the wrapped Reader. Bound only promotes the Reader
// interface's own methods; callers that need a concrete reader's extra
// methods (e.g. CameraReader.FrameSize) must unwrap first.
func (b *Bound) Unwrap() Reader { return b.Reader }

var _ capability.Detector = (*Bound)(nil)
