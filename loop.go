package nodert

import (
	"errors"
	"fmt"
	"time"
)

// dispatchOutcome classifies the result of one guarded script phase.
type dispatchOutcome int

const (
	// dispatchOK: the phase completed, or the activity was skipped.
	dispatchOK dispatchOutcome = iota
	// dispatchConsumed: an exception was raised and the fatal handler
	// accepted it; the loop continues.
	dispatchConsumed
	// dispatchFatal: the loop must return (deliberate exit, rejected
	// exception, or internal error).
	dispatchFatal
)

// boundary runs fn inside the script timing window and the exception
// boundary. The window is ended on every exit path before the fatal
// handler is consulted, so the handler itself is never timed out. A
// deliberate-exit sentinel (raised by process.exit) propagates as fatal
// with its code; any other failure is offered to the process fatal handler
// and consumed when the handler returns true.
func (rt *Runtime) boundary(fn func() error) (dispatchOutcome, error) {
	var err error
	func() {
		rt.window.start()
		defer func() {
			rt.window.end()
			if r := recover(); r != nil {
				if ee, ok := r.(*ExitError); ok {
					err = ee
					return
				}
				panic(r)
			}
		}()
		err = fn()
	}()
	if err == nil {
		return dispatchOK, nil
	}

	var ee *ExitError
	if errors.As(err, &ee) {
		return dispatchFatal, ee
	}
	if isInterrupt(err) {
		// The watchdog fired; reset the interpreter so the fatal handler
		// (and any continued execution) is not interrupted again.
		rt.vm.ClearInterrupt()
	}
	if rt.process.handleFatal(err) {
		return dispatchConsumed, nil
	}
	return dispatchFatal, err
}

// fatalStatus maps a boundary failure to the loop's terminal status.
func (rt *Runtime) fatalStatus(err error) ScriptStatus {
	var ee *ExitError
	if errors.As(err, &ee) {
		return ScriptStatus{ExitCode: ee.Code}
	}
	return ScriptStatus{ExitCode: 1, Err: err}
}

// dispatchActivity executes one activity inside the boundary. Cancelled
// activities are skipped without invoking the payload.
func (rt *Runtime) dispatchActivity(a *Activity) (dispatchOutcome, error) {
	if a.Cancelled() {
		return dispatchOK, nil
	}
	return rt.boundary(func() error { return rt.invoke(a) })
}

// invoke runs an activity's payload. Callback activities delegate domain
// handling to the process tick submitter; Task and RunnableTask activities
// apply the domain guard here: a disposed domain is cleared for this run
// only, enter precedes the payload, and exit runs only on a normal return.
func (rt *Runtime) invoke(a *Activity) error {
	switch a.kind {
	case activityCallback:
		return rt.process.submitTick(a.fn, a.this, a.domain, a.args...)
	case activityTask, activityRunnable:
		dom := a.domain
		if dom != nil && dom.IsDisposed() {
			dom = nil
		}
		if dom != nil {
			if err := dom.Enter(); err != nil {
				return err
			}
		}
		if a.kind == activityTask {
			if err := a.task(rt); err != nil {
				return err
			}
		} else {
			a.run()
		}
		if dom != nil {
			return dom.Exit()
		}
		return nil
	}
	return errInternal("unknown activity kind %d", a.kind)
}

// runLoop drives the phases in fixed order until the termination predicate
// holds: the tick queue is empty, the pin count is zero, and no next-tick
// or immediate is pending. Returns the script's terminal status.
func (rt *Runtime) runLoop() ScriptStatus {
	q := rt.ticks
	p := rt.process

	for q.pending() || rt.pins.Count() > 0 || p.isTickTaskPending() || p.isImmediateTaskPending() {
		// Phase 1: cancellation.
		if rt.cancelled.Load() {
			return ScriptStatus{Cancelled: true, ExitCode: 1}
		}

		// Phase 2: next-ticks, drained fully by the process.
		if out, err := rt.boundary(p.processTickTasks); out == dispatchFatal {
			return rt.fatalStatus(err)
		}

		// Phase 3: generic ticks. A consumed exception stops draining for
		// this iteration so an error storm cannot starve timers and I/O.
		for {
			a := q.poll()
			if a == nil {
				break
			}
			out, err := rt.dispatchActivity(a)
			if out == dispatchFatal {
				return rt.fatalStatus(err)
			}
			a.retire(rt)
			if out == dispatchConsumed {
				break
			}
		}

		// Phase 4: immediates.
		if out, err := rt.boundary(p.processImmediateTasks); out == dispatchFatal {
			return rt.fatalStatus(err)
		}

		// Phase 5: poll timeout.
		rt.now = time.Now().UnixMilli()
		var pollTimeout time.Duration
		switch {
		case q.pending() || p.isTickTaskPending() || p.isImmediateTaskPending() || rt.pins.Count() == 0:
			// Work is ready, or the loop may be done; re-evaluate promptly.
			pollTimeout = 0
		case rt.timers.len() == 0:
			pollTimeout = defaultDelay
		default:
			if d := rt.timers.top().timeout - rt.now; d > 0 {
				pollTimeout = time.Duration(d) * time.Millisecond
			}
		}

		// Phase 6: select.
		keys, err := rt.selector.Select(pollTimeout)
		if err != nil {
			return ScriptStatus{ExitCode: 1, Err: fmt.Errorf("selector: %w", err)}
		}

		// Phase 7: I/O dispatch. Each ready key's handler runs exactly once.
		for _, k := range keys {
			handler := k.handler
			key := k
			if out, herr := rt.boundary(func() error { return handler(key) }); out == dispatchFatal {
				return rt.fatalStatus(herr)
			}
		}

		// Phase 8: timers. Equal deadlines fire in insertion order; a
		// cancelled entry is skipped; a repeating timer is re-armed from
		// the current time so repeated misses collapse into one.
		rt.now = time.Now().UnixMilli()
		for rt.timers.len() > 0 && rt.timers.top().timeout <= rt.now {
			a := rt.timers.pop()
			if a.Cancelled() {
				continue
			}
			out, err := rt.dispatchActivity(a)
			if out == dispatchFatal {
				return rt.fatalStatus(err)
			}
			if a.repeating && !a.Cancelled() {
				a.timeout = rt.now + a.interval
				rt.timers.push(a)
			} else {
				a.retire(rt)
			}
		}
	}

	return ScriptStatus{ExitCode: p.exitCode}
}
