// Package engine implements the AcquisitionEngine of spec.md §4.5 and the
// concurrency/cancellation model of §5: one acquisition at a time, a
// writer activity (emitter), one reader activity per detector, and the
// engine activity computing decimation and assembling outputs. Grounded on
// the teacher's convert_gsf single-item pipeline (cmd/main.go): a
// sequential, log.Println-narrated phase list, generalized here into the
// tile loop's phase sequence, plus the teacher's pond.Submit concurrent-
// dispatch idiom narrowed (in tile.go) to a fixed writer+N-readers fan-out
// instead of a pool, since §5 requires strict per-detector ordering a
// pool's unordered completion would violate.
package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/sixy6e/scanacq"
)

// State is the engine-wide status attribute the surrounding container
// observes (spec.md §6: "an AcquireFuture per acquisition... and a state
// attribute {RUNNING, HW_ERROR(msg)}").
type State struct {
	Running bool
	HWError string
}

// UpdateCallback is invoked with incremental progress; start/end describe
// the estimated scan window (spec.md §4.5 add_update_callback).
type UpdateCallback func(f *AcquireFuture, start, end time.Time)

// DoneCallback is invoked exactly once when the future settles.
type DoneCallback func(f *AcquireFuture)

// AcquireFuture is the handle spec.md §4.5 returns from
// AcquisitionEngine.acquire. Grounded on the original source's MoveFuture-
// shaped result/cancel/done contract (inferred from original_source's
// model/_core.py).
type AcquireFuture struct {
	mu             sync.Mutex
	done           chan struct{}
	doneOnce       sync.Once
	result         []*scanacq.DataArray
	err            error
	cancelled      bool
	cancelFn       context.CancelFunc
	updateCbs      []UpdateCallback
	doneCbs        []DoneCallback
	estimatedStart time.Time
	estimatedEnd   time.Time
}

func newFuture(cancel context.CancelFunc, start, end time.Time) *AcquireFuture {
	return &AcquireFuture{
		done:           make(chan struct{}),
		cancelFn:       cancel,
		estimatedStart: start,
		estimatedEnd:   end,
	}
}

// Result blocks until the acquisition settles or timeout elapses, then
// returns the (possibly partial) result list and any error (spec.md §4.5:
// "result(timeout) -> (list[DataArray], optional Exception)").
func (f *AcquireFuture) Result(timeout time.Duration) ([]*scanacq.DataArray, error) {
	if timeout <= 0 {
		<-f.done
	} else {
		select {
		case <-f.done:
		case <-time.After(timeout):
			return nil, context.DeadlineExceeded
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.err
}

// Cancel requests cancellation; a no-op if the future has already settled
// (spec.md §5: "A cancel issued after the future has already returned a
// result is a no-op").
func (f *AcquireFuture) Cancel() {
	select {
	case <-f.done:
		return
	default:
	}
	f.mu.Lock()
	f.cancelled = true
	f.mu.Unlock()
	if f.cancelFn != nil {
		f.cancelFn()
	}
}

// Done reports whether the future has settled.
func (f *AcquireFuture) Done() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// AddUpdateCallback registers fn to be called with incremental progress.
func (f *AcquireFuture) AddUpdateCallback(fn UpdateCallback) {
	f.mu.Lock()
	f.updateCbs = append(f.updateCbs, fn)
	f.mu.Unlock()
}

// AddDoneCallback registers fn to be called exactly once when the future
// settles; if it has already settled, fn is invoked immediately.
func (f *AcquireFuture) AddDoneCallback(fn DoneCallback) {
	f.mu.Lock()
	if f.isDoneLocked() {
		f.mu.Unlock()
		fn(f)
		return
	}
	f.doneCbs = append(f.doneCbs, fn)
	f.mu.Unlock()
}

func (f *AcquireFuture) isDoneLocked() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

func (f *AcquireFuture) notifyUpdate() {
	f.mu.Lock()
	cbs := append([]UpdateCallback(nil), f.updateCbs...)
	start, end := f.estimatedStart, f.estimatedEnd
	f.mu.Unlock()
	for _, cb := range cbs {
		safeCallUpdate(cb, f, start, end)
	}
}

func safeCallUpdate(cb UpdateCallback, f *AcquireFuture, start, end time.Time) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("engine: update callback panicked: %v", r)
		}
	}()
	cb(f, start, end)
}

func (f *AcquireFuture) settle(result []*scanacq.DataArray, err error) {
	f.mu.Lock()
	if f.isDoneLocked() {
		f.mu.Unlock()
		return
	}
	f.result = result
	f.err = err
	cbs := append([]DoneCallback(nil), f.doneCbs...)
	f.mu.Unlock()
	f.doneOnce.Do(func() { close(f.done) })
	for _, cb := range cbs {
		safeCallDone(cb, f)
	}
}

func safeCallDone(cb DoneCallback, f *AcquireFuture) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("engine: done callback panicked: %v", r)
		}
	}()
	cb(f)
}

// Cancelled reports whether Cancel was called on this future.
func (f *AcquireFuture) Cancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}
