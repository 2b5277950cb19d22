package nodert

import (
	"sync/atomic"

	"github.com/rs/zerolog"
)

// PinCounter tracks external reasons to keep the loop alive that are not
// represented by queued activities (a listening socket, an in-flight pool
// task, a live timer). The loop only terminates once the count is zero and
// all queues drain.
type PinCounter struct {
	n    atomic.Int64
	wake func()
	log  zerolog.Logger
}

func newPinCounter(wake func(), log zerolog.Logger) *PinCounter {
	return &PinCounter{wake: wake, log: log}
}

// Pin increments the counter. Safe from any goroutine.
func (p *PinCounter) Pin() {
	p.n.Add(1)
}

// Unpin decrements the counter. On the transition to zero it wakes the
// selector so the loop re-evaluates termination. Going negative is a
// programming error; it is logged and clamped, not fatal.
func (p *PinCounter) Unpin() {
	v := p.n.Add(-1)
	if v == 0 {
		p.wake()
		return
	}
	if v < 0 {
		p.log.Error().Int64("count", v).Msg("pin count went negative")
		p.n.CompareAndSwap(v, 0)
		p.wake()
	}
}

// Count returns the current pin count, clamped at zero.
func (p *PinCounter) Count() int64 {
	v := p.n.Load()
	if v < 0 {
		return 0
	}
	return v
}
