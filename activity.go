package nodert

import (
	"sync/atomic"

	"github.com/dop251/goja"
)

// activityKind discriminates the payload variant of an Activity.
type activityKind uint8

const (
	// activityCallback invokes a script function through the process tick
	// submitter, so the interpreter's error path and domain stack apply.
	activityCallback activityKind = iota
	// activityTask runs a host callable that is given the runtime (and
	// through it, the script scope).
	activityTask
	// activityRunnable runs a plain host callable that never touches the
	// script scope.
	activityRunnable
)

// ScriptTask is a host callable executed on the loop goroutine with access
// to the runtime and its script scope.
type ScriptTask func(rt *Runtime) error

// Activity is the unit of deferred work scheduled on the loop. It carries
// scheduling metadata (sequence, deadline, interval) and exactly one payload
// variant. Activities hold no reference back to the runtime; the runtime is
// passed in at execution time.
type Activity struct {
	seq       uint64
	timeout   int64 // absolute deadline, epoch milliseconds; 0 for plain ticks
	interval  int64 // repeat interval in milliseconds; 0 if non-repeating
	repeating bool
	pinned    bool // holds a pin on the loop until retired
	cancelled atomic.Bool
	domain    Domain

	kind activityKind

	// Callback payload.
	fn   goja.Callable
	this goja.Value
	args []goja.Value

	// Task payload.
	task ScriptTask

	// RunnableTask payload.
	run func()
}

func newCallbackActivity(fn goja.Callable, this goja.Value, dom Domain, args []goja.Value) *Activity {
	return &Activity{kind: activityCallback, fn: fn, this: this, domain: dom, args: args}
}

func newTaskActivity(task ScriptTask, dom Domain) *Activity {
	return &Activity{kind: activityTask, task: task, domain: dom}
}

func newRunnableActivity(run func(), dom Domain) *Activity {
	return &Activity{kind: activityRunnable, run: run, domain: dom}
}

// Cancelled reports whether the cancellation latch is set. The latch is
// monotonic; once set it is never cleared.
func (a *Activity) Cancelled() bool {
	return a.cancelled.Load()
}

// retire sets the cancellation latch if it is not already set and releases
// the activity's pin, if any. Exactly one of {cancel, final consumption}
// wins the latch, so the pin is released at most once.
func (a *Activity) retire(rt *Runtime) bool {
	if !a.cancelled.CompareAndSwap(false, true) {
		return false
	}
	if a.pinned {
		rt.pins.Unpin()
	}
	return true
}

// TimerHandle is the control token returned by timer creation. It exposes
// cancellation only; there is no completion future for scheduled work.
type TimerHandle struct {
	a  *Activity
	rt *Runtime
}

// Cancel sets the activity's cancellation latch. A cancelled timer stays in
// the heap until its turn and is skipped; repetition is suppressed. Safe to
// call from any goroutine, and idempotent.
func (h *TimerHandle) Cancel() {
	if h == nil || h.a == nil {
		return
	}
	if h.a.retire(h.rt) {
		h.rt.Notify()
	}
}

// Cancelled reports whether the underlying activity was cancelled or consumed.
func (h *TimerHandle) Cancelled() bool {
	return h != nil && h.a != nil && h.a.Cancelled()
}
