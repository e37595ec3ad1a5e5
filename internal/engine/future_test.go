package engine

import (
	"context"
	"testing"
	"time"

	"github.com/sixy6e/scanacq"
)

func TestFutureResultBlocksUntilSettle(t *testing.T) {
	_, cancel := context.WithCancel(context.Background())
	f := newFuture(cancel, time.Now(), time.Now().Add(time.Second))

	done := make(chan struct{})
	go func() {
		result, err := f.Result(0)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if len(result) != 1 {
			t.Errorf("expected 1 result, got %d", len(result))
		}
		close(done)
	}()

	if f.Done() {
		t.Fatalf("future should not be done before settle")
	}

	arr := scanacq.NewDataArray([]int{1}, []scanacq.DimLabel{scanacq.DimX})
	f.settle([]*scanacq.DataArray{arr}, nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Result never returned after settle")
	}
	if !f.Done() {
		t.Fatalf("future should be done after settle")
	}
}

func TestFutureResultTimesOut(t *testing.T) {
	_, cancel := context.WithCancel(context.Background())
	f := newFuture(cancel, time.Now(), time.Now().Add(time.Second))

	_, err := f.Result(10 * time.Millisecond)
	if err != context.DeadlineExceeded {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestFutureCancelIsNoopOnceSettled(t *testing.T) {
	cancelled := false
	cancel := func() { cancelled = true }
	f := newFuture(cancel, time.Now(), time.Now())

	f.settle(nil, scanacq.NewCancelledError())
	f.Cancel()

	if cancelled {
		t.Fatalf("Cancel should be a no-op once the future has settled")
	}
	if f.Cancelled() {
		t.Fatalf("Cancelled() should be false: Cancel() was never effective")
	}
}

func TestFutureCancelInvokesCancelFn(t *testing.T) {
	calls := 0
	cancel := func() { calls++ }
	f := newFuture(cancel, time.Now(), time.Now())

	f.Cancel()
	if calls != 1 {
		t.Fatalf("expected cancelFn called once, got %d", calls)
	}
	if !f.Cancelled() {
		t.Fatalf("expected Cancelled() true")
	}
}

func TestFutureDoneCallbackFiresOnceAndLateSubscribersGetItImmediately(t *testing.T) {
	_, cancel := context.WithCancel(context.Background())
	f := newFuture(cancel, time.Now(), time.Now())

	fired := 0
	f.AddDoneCallback(func(*AcquireFuture) { fired++ })
	f.settle(nil, nil)

	if fired != 1 {
		t.Fatalf("expected done callback fired once, got %d", fired)
	}

	lateFired := false
	f.AddDoneCallback(func(*AcquireFuture) { lateFired = true })
	if !lateFired {
		t.Fatalf("a done callback registered after settle should fire immediately")
	}
}

func TestFutureUpdateCallbackReceivesEstimatedWindow(t *testing.T) {
	_, cancel := context.WithCancel(context.Background())
	start := time.Now()
	end := start.Add(5 * time.Second)
	f := newFuture(cancel, start, end)

	var gotStart, gotEnd time.Time
	f.AddUpdateCallback(func(_ *AcquireFuture, s, e time.Time) {
		gotStart, gotEnd = s, e
	})
	f.notifyUpdate()

	if !gotStart.Equal(start) || !gotEnd.Equal(end) {
		t.Fatalf("update callback did not receive the estimated window")
	}
}

func TestFutureCallbackPanicIsRecovered(t *testing.T) {
	_, cancel := context.WithCancel(context.Background())
	f := newFuture(cancel, time.Now(), time.Now())

	f.AddUpdateCallback(func(*AcquireFuture, time.Time, time.Time) { panic("boom") })
	f.AddDoneCallback(func(*AcquireFuture) { panic("boom") })

	// Neither call should propagate the panic out to the caller.
	f.notifyUpdate()
	f.settle(nil, nil)
}
