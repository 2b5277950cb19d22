package nodert

import "testing"

func TestActivity_CancellationIsMonotonic(t *testing.T) {
	a := newRunnableActivity(func() {}, nil)
	if a.Cancelled() {
		t.Error("new activity should not be cancelled")
	}
	a.cancelled.Store(true)
	if !a.Cancelled() {
		t.Error("cancelled latch should be set")
	}
}

// Retire releases the activity's pin exactly once no matter how many of
// {cancel, consumption} race for it.
func TestActivity_RetireReleasesPinOnce(t *testing.T) {
	rt, err := NewRuntime(RuntimeConfig{})
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	a := newRunnableActivity(func() {}, nil)
	a.pinned = true
	rt.pins.Pin()

	if !a.retire(rt) {
		t.Error("first retire should win the latch")
	}
	if got := rt.pins.Count(); got != 0 {
		t.Errorf("pin count after retire = %d, want 0", got)
	}
	if a.retire(rt) {
		t.Error("second retire should be a no-op")
	}
	if got := rt.pins.Count(); got != 0 {
		t.Errorf("pin count after double retire = %d, want 0 (no underflow)", got)
	}
}

func TestTimerHandle_CancelIsIdempotent(t *testing.T) {
	rt, err := NewRuntime(RuntimeConfig{})
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	a := newRunnableActivity(func() {}, nil)
	a.pinned = true
	rt.pins.Pin()
	h := &TimerHandle{a: a, rt: rt}

	h.Cancel()
	h.Cancel()
	h.Cancel()
	if !h.Cancelled() {
		t.Error("handle should report cancelled")
	}
	if got := rt.pins.Count(); got != 0 {
		t.Errorf("pin count = %d, want 0", got)
	}
}

func TestTimerHandle_NilSafe(t *testing.T) {
	var h *TimerHandle
	h.Cancel()
	if h.Cancelled() {
		t.Error("nil handle should report not cancelled")
	}
}
