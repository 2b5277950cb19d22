package nodert

import (
	"errors"
	"sync"
	"time"
)

// ErrSelectorClosed is returned by Select once the selector has been closed.
// The loop treats it as fatal.
var ErrSelectorClosed = errors.New("selector closed")

// SelectorHandler is invoked by the loop goroutine, exactly once per
// selection, for each key that became ready.
type SelectorHandler func(k *SelectorKey) error

// SelectorKey is a registration on the Selector. Watcher goroutines (socket
// readers, pollers) call Ready when the handle has work for the loop; the
// loop collects ready keys from Select and runs their handlers.
type SelectorKey struct {
	sel     *Selector
	handler SelectorHandler

	// Data is an arbitrary attachment for the handler's use.
	Data any
}

// Selector is the loop's readiness multiplexer. Watcher goroutines post
// readiness from any goroutine; the loop goroutine is the only caller of
// Select/SelectNow. Wakeup unblocks a pending Select without marking any
// key ready, and is idempotent and safe from any goroutine.
type Selector struct {
	mu       sync.Mutex
	keys     map[*SelectorKey]struct{}
	ready    []*SelectorKey
	readySet map[*SelectorKey]struct{}
	closed   bool
	wake     chan struct{}
}

func newSelector() *Selector {
	return &Selector{
		keys:     make(map[*SelectorKey]struct{}),
		readySet: make(map[*SelectorKey]struct{}),
		wake:     make(chan struct{}, 1),
	}
}

// Attach registers a handler and returns its key.
func (s *Selector) Attach(data any, handler SelectorHandler) *SelectorKey {
	k := &SelectorKey{sel: s, handler: handler, Data: data}
	s.mu.Lock()
	if !s.closed {
		s.keys[k] = struct{}{}
	}
	s.mu.Unlock()
	return k
}

// Detach removes the key. A detached key is never returned from Select
// again, even if readiness was already posted.
func (k *SelectorKey) Detach() {
	s := k.sel
	s.mu.Lock()
	delete(s.keys, k)
	if _, ok := s.readySet[k]; ok {
		delete(s.readySet, k)
		for i, r := range s.ready {
			if r == k {
				s.ready = append(s.ready[:i], s.ready[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()
}

// Ready marks the key ready and wakes the selector. Duplicate posts before
// the next selection collapse into one. Safe from any goroutine.
func (k *SelectorKey) Ready() {
	s := k.sel
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, attached := s.keys[k]; !attached {
		s.mu.Unlock()
		return
	}
	if _, dup := s.readySet[k]; !dup {
		s.readySet[k] = struct{}{}
		s.ready = append(s.ready, k)
	}
	s.mu.Unlock()
	s.Wakeup()
}

// Wakeup guarantees the next (or current) Select returns promptly. It never
// blocks.
func (s *Selector) Wakeup() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// takeReady clears and returns the ready set.
func (s *Selector) takeReady() ([]*SelectorKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSelectorClosed
	}
	if len(s.ready) == 0 {
		return nil, nil
	}
	keys := s.ready
	s.ready = nil
	s.readySet = make(map[*SelectorKey]struct{})
	return keys, nil
}

// SelectNow returns whatever keys are ready without blocking.
func (s *Selector) SelectNow() ([]*SelectorKey, error) {
	// Drop a stale wakeup token so it cannot spuriously shorten the next
	// blocking Select.
	select {
	case <-s.wake:
	default:
	}
	return s.takeReady()
}

// Select blocks for at most timeout waiting for readiness or a wakeup, then
// returns the ready keys (possibly none, on timeout or bare wakeup).
// timeout <= 0 selects without blocking.
func (s *Selector) Select(timeout time.Duration) ([]*SelectorKey, error) {
	if timeout <= 0 {
		return s.SelectNow()
	}
	keys, err := s.takeReady()
	if err != nil || keys != nil {
		return keys, err
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-s.wake:
	case <-t.C:
	}
	return s.takeReady()
}

// Close shuts the selector down and unblocks any pending Select. Further
// Ready posts are dropped.
func (s *Selector) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.ready = nil
	s.readySet = make(map[*SelectorKey]struct{})
	s.keys = make(map[*SelectorKey]struct{})
	s.mu.Unlock()
	s.Wakeup()
	return nil
}
