package nodert

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
)

// errScriptTimeout is the interrupt value injected when a script runs past
// the configured time limit. The boundary classifies the resulting
// interruption like any other script error.
var errScriptTimeout = errors.New("script execution timed out")

// timingWindow is the per-invocation watchdog deadline. start records the
// deadline before each script call; end clears it on every exit path,
// before the fatal handler runs so the handler itself is not timed out.
// A zero slot means no window is active.
type timingWindow struct {
	limit    time.Duration
	deadline atomic.Int64 // epoch milliseconds; 0 when inactive
}

func (w *timingWindow) start() {
	if w.limit <= 0 {
		return
	}
	w.deadline.Store(time.Now().Add(w.limit).UnixMilli())
}

func (w *timingWindow) end() {
	if w.limit <= 0 {
		return
	}
	w.deadline.Store(0)
}

// expired reports whether an active window has passed its deadline.
func (w *timingWindow) expired(nowMillis int64) bool {
	d := w.deadline.Load()
	return d != 0 && nowMillis > d
}

// watchdog polls the timing window and interrupts the interpreter when the
// window expires. It runs outside the loop goroutine and stops when the
// runtime's loop returns.
func watchdog(vm *goja.Runtime, w *timingWindow, stop <-chan struct{}) {
	tick := time.NewTicker(25 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-tick.C:
			if w.expired(now.UnixMilli()) {
				vm.Interrupt(errScriptTimeout)
			}
		}
	}
}
