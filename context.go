package nodert

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Runtime is the per-script runtime context. It owns the script scope, the
// process object, the module caches, the selector, the tick queue and timer
// heap, the pin counter, and the pools. Run holds exclusive write access to
// all single-threaded state on its goroutine; other goroutines interact
// only through the producer API (enqueue, timed tasks, pins, cancellation).
type Runtime struct {
	id    string
	cfg   RuntimeConfig
	flags execFlags
	log   zerolog.Logger

	vm       *goja.Runtime
	process  *Process
	selector *Selector
	ticks    *tickQueue
	timers   timerHeap
	pins     *PinCounter

	asyncPool *AsyncPool
	ownsAsync bool
	unbounded *UnboundedPool

	translator *PathTranslator

	moduleCache   map[string]goja.Value
	internalCache map[string]goja.Value

	handleMu    sync.Mutex
	openHandles map[io.Closer]struct{}

	// loop-goroutine state
	now      int64
	timerSeq uint64
	errno    string

	window timingWindow

	initialized chan struct{}
	initOnce    sync.Once

	cancelled atomic.Bool

	done   chan struct{}
	status ScriptStatus
}

// NewRuntime validates the configuration (including execution flags) and
// assembles a runtime. The script does not start until Run or Start.
func NewRuntime(cfg RuntimeConfig) (*Runtime, error) {
	flags, err := parseExecFlags(cfg.ExecArgs)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		id:            uuid.NewString(),
		cfg:           cfg,
		flags:         flags,
		ticks:         newTickQueue(),
		selector:      newSelector(),
		unbounded:     NewUnboundedPool(),
		translator:    newPathTranslator(cfg.Sandbox),
		moduleCache:   make(map[string]goja.Value),
		internalCache: make(map[string]goja.Value),
		openHandles:   make(map[io.Closer]struct{}),
		initialized:   make(chan struct{}),
		done:          make(chan struct{}),
	}
	if cfg.Logger != nil {
		rt.log = *cfg.Logger
	} else {
		rt.log = newRuntimeLogger(cfg.LogOutput, rt.id)
	}
	rt.pins = newPinCounter(rt.selector.Wakeup, rt.log.With().Str("component", "pins").Logger())
	rt.window.limit = cfg.TimeLimit

	if cfg.Sandbox != nil && cfg.Sandbox.AsyncPool != nil {
		rt.asyncPool = cfg.Sandbox.AsyncPool
	} else {
		workers, queue := cfg.AsyncPoolWorkers, cfg.AsyncPoolQueue
		if workers <= 0 {
			workers = defaultAsyncWorkers
		}
		if queue <= 0 {
			queue = defaultAsyncQueue
		}
		rt.asyncPool = NewAsyncPool(workers, queue)
		rt.ownsAsync = true
	}

	rt.process = newProcess(rt)
	return rt, nil
}

// ID returns the runtime's instance identifier.
func (rt *Runtime) ID() string { return rt.id }

// VM returns the script scope. Loop goroutine only.
func (rt *Runtime) VM() *goja.Runtime { return rt.vm }

// Process returns the process collaborator. Loop goroutine only.
func (rt *Runtime) Process() *Process { return rt.process }

// GetSelector returns the runtime's selector.
func (rt *Runtime) GetSelector() *Selector { return rt.selector }

// GetAsyncPool returns the bounded pool for promptly-finishing blocking work.
func (rt *Runtime) GetAsyncPool() *AsyncPool { return rt.asyncPool }

// GetUnboundedPool returns the pool for indefinitely blocking tasks.
func (rt *Runtime) GetUnboundedPool() *UnboundedPool { return rt.unbounded }

// Notify wakes the selector. Producers call it (via the Enqueue wrappers)
// after every cross-thread submission.
func (rt *Runtime) Notify() { rt.selector.Wakeup() }

// Pin marks one external reason to keep the loop alive.
func (rt *Runtime) Pin() { rt.pins.Pin() }

// Unpin releases a pin; on the transition to zero the loop re-evaluates
// termination.
func (rt *Runtime) Unpin() { rt.pins.Unpin() }

// EnqueueCallback submits a script function for execution on the loop
// goroutine via the process tick submitter. Safe from any goroutine.
func (rt *Runtime) EnqueueCallback(fn goja.Callable, this goja.Value, dom Domain, args ...goja.Value) {
	rt.ticks.push(newCallbackActivity(fn, this, dom, args))
	rt.Notify()
}

// EnqueueTask submits a host task that runs with the script scope. Safe
// from any goroutine.
func (rt *Runtime) EnqueueTask(task ScriptTask, dom Domain) {
	rt.ticks.push(newTaskActivity(task, dom))
	rt.Notify()
}

// ExecuteScriptTask submits a plain host callable that does not touch the
// scope. Safe from any goroutine.
func (rt *Runtime) ExecuteScriptTask(run func(), dom Domain) {
	rt.ticks.push(newRunnableActivity(run, dom))
	rt.Notify()
}

// nextTimerSeq hands out heap tiebreak sequence numbers. Loop goroutine only.
func (rt *Runtime) nextTimerSeq() uint64 {
	rt.timerSeq++
	return rt.timerSeq
}

// scheduleTimer pins and inserts an activity into the heap. Loop goroutine
// only; the sequence id is assigned here so equal deadlines fire FIFO.
func (rt *Runtime) scheduleTimer(a *Activity, delay time.Duration, repeating bool, interval time.Duration) *TimerHandle {
	a.repeating = repeating
	if repeating {
		a.interval = int64(interval / time.Millisecond)
		if a.interval <= 0 {
			a.interval = 1
		}
	}
	a.timeout = time.Now().UnixMilli() + int64(delay/time.Millisecond)
	a.pinned = true
	rt.pins.Pin()
	a.seq = rt.nextTimerSeq()
	rt.timers.push(a)
	return &TimerHandle{a: a, rt: rt}
}

// CreateTimer schedules a script callback after delay, repeating at
// interval when repeating is set. Loop goroutine only; producer goroutines
// use CreateTimedTask instead.
func (rt *Runtime) CreateTimer(delay time.Duration, repeating bool, interval time.Duration, fn goja.Callable, this goja.Value, args ...goja.Value) *TimerHandle {
	return rt.scheduleTimer(newCallbackActivity(fn, this, nil, args), delay, repeating, interval)
}

// CreateTimedTask schedules a host callable after delay, repeating at the
// same delay when repeating is set. Safe from any goroutine: the heap
// insertion is marshalled through the tick queue and performed on the loop
// goroutine, which also assigns the sequence id. The returned handle is
// valid immediately.
func (rt *Runtime) CreateTimedTask(run func(), delay time.Duration, repeating bool, dom Domain) *TimerHandle {
	a := newRunnableActivity(run, dom)
	a.repeating = repeating
	if repeating {
		a.interval = int64(delay / time.Millisecond)
		if a.interval <= 0 {
			a.interval = 1
		}
	}
	a.pinned = true
	rt.pins.Pin()
	h := &TimerHandle{a: a, rt: rt}
	rt.ExecuteScriptTask(func() {
		a.timeout = time.Now().UnixMilli() + int64(delay/time.Millisecond)
		a.seq = rt.nextTimerSeq()
		rt.timers.push(a)
	}, nil)
	return h
}

// RegisterCloseable records a closeable to be drained during shutdown.
func (rt *Runtime) RegisterCloseable(c io.Closer) {
	rt.handleMu.Lock()
	rt.openHandles[c] = struct{}{}
	rt.handleMu.Unlock()
}

// UnregisterCloseable removes a closeable from the shutdown set.
func (rt *Runtime) UnregisterCloseable(c io.Closer) {
	rt.handleMu.Lock()
	delete(rt.openHandles, c)
	rt.handleMu.Unlock()
}

// SetErrno records the script-visible errno. Loop goroutine only.
func (rt *Runtime) SetErrno(code string) { rt.errno = code }

// ClearErrno clears the script-visible errno.
func (rt *Runtime) ClearErrno() { rt.errno = "" }

// GetErrno returns the script-visible errno.
func (rt *Runtime) GetErrno() string { return rt.errno }

// TranslatePath maps a virtual script path to the physical path used for I/O.
func (rt *Runtime) TranslatePath(virtual string) (string, error) {
	return rt.translator.Translate(virtual)
}

// ReverseTranslatePath maps a physical path back into the script's view.
func (rt *Runtime) ReverseTranslatePath(physical string) (string, error) {
	return rt.translator.ReverseTranslate(physical)
}

// NetworkAllowed consults the sandbox network policy; everything is allowed
// without one.
func (rt *Runtime) NetworkAllowed(addr string) bool {
	if rt.cfg.Sandbox == nil || rt.cfg.Sandbox.NetworkPolicy == nil {
		return true
	}
	return rt.cfg.Sandbox.NetworkPolicy(addr)
}

// Stdout returns the process stdout stream.
func (rt *Runtime) Stdout() io.Writer {
	if rt.cfg.Sandbox != nil && rt.cfg.Sandbox.Stdout != nil {
		return rt.cfg.Sandbox.Stdout
	}
	return os.Stdout
}

// Stderr returns the process stderr stream.
func (rt *Runtime) Stderr() io.Writer {
	if rt.cfg.Sandbox != nil && rt.cfg.Sandbox.Stderr != nil {
		return rt.cfg.Sandbox.Stderr
	}
	return os.Stderr
}

// AwaitInitialized blocks until the script globals are ready. Producers
// that need the runtime ready wait here before their first message.
func (rt *Runtime) AwaitInitialized() { <-rt.initialized }

// Cancel requests cooperative termination; the loop returns the
// cancellation status at its next iteration.
func (rt *Runtime) Cancel() {
	rt.cancelled.Store(true)
	rt.Notify()
}

// Done is closed once Run returns.
func (rt *Runtime) Done() <-chan struct{} { return rt.done }

// Start hosts Run on the unbounded pool.
func (rt *Runtime) Start() {
	rt.unbounded.Go(func() { rt.Run() })
}

// Wait blocks until the runtime finishes and returns its status.
func (rt *Runtime) Wait() ScriptStatus {
	<-rt.done
	return rt.status
}

// Run executes the script to completion on the calling goroutine: bootstrap
// the scope, run the main script, drive the loop, then run the shutdown
// sequence. The goroutine calling Run owns all single-threaded state until
// it returns.
func (rt *Runtime) Run() ScriptStatus {
	defer close(rt.done)

	rt.vm = goja.New()

	st := func() ScriptStatus {
		if err := rt.bootstrap(); err != nil {
			return ScriptStatus{ExitCode: 1, Err: fmt.Errorf("bootstrap: %w", err)}
		}

		if rt.window.limit > 0 {
			stop := make(chan struct{})
			defer close(stop)
			go watchdog(rt.vm, &rt.window, stop)
		}

		rt.markInitialized()

		if out, err := rt.boundary(rt.runMain); out == dispatchFatal {
			return rt.fatalStatus(err)
		}
		return rt.runLoop()
	}()

	rt.shutdown(&st)
	rt.status = st
	return st
}

// bootstrap installs the process object and the scheduling globals.
func (rt *Runtime) bootstrap() error {
	if err := rt.process.install(rt.flags); err != nil {
		return err
	}
	return rt.installSchedulingGlobals()
}

func (rt *Runtime) markInitialized() {
	rt.initOnce.Do(func() { close(rt.initialized) })
}

// runMain compiles and evaluates the main script after passing it through
// prepareSource, which lowers ES module syntax and wraps every source that
// parses in a function expression.
func (rt *Runtime) runMain() error {
	source := rt.cfg.ScriptSource
	if source == "" && rt.cfg.Registry != nil {
		source = rt.cfg.Registry.MainScript()
	}
	if source == "" {
		return nil
	}
	name := rt.cfg.ScriptName
	if name == "" {
		name = "main.js"
	}
	prog, err := goja.Compile(name, prepareSource(source), false)
	if err != nil {
		return err
	}
	_, err = rt.vm.RunProgram(prog)
	return err
}

// installSchedulingGlobals wires setTimeout/setInterval/setImmediate and
// their clear counterparts to the timer heap and the process immediate
// queue. Timer handles are opaque tokens holding only cancellation.
func (rt *Runtime) installSchedulingGlobals() error {
	vm := rt.vm

	makeTimer := func(repeating bool) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			fn, ok := goja.AssertFunction(call.Argument(0))
			if !ok {
				panic(vm.NewTypeError("timer callback must be a function"))
			}
			delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
			interval := time.Duration(0)
			if repeating {
				interval = delay
			}
			h := rt.CreateTimer(delay, repeating, interval, fn, goja.Undefined(), restArgs(call, 2)...)
			return vm.ToValue(h)
		}
	}
	clearTimer := func(call goja.FunctionCall) goja.Value {
		if h, ok := call.Argument(0).Export().(*TimerHandle); ok {
			h.Cancel()
		}
		return goja.Undefined()
	}

	sets := []error{
		vm.Set("setTimeout", makeTimer(false)),
		vm.Set("setInterval", makeTimer(true)),
		vm.Set("clearTimeout", clearTimer),
		vm.Set("clearInterval", clearTimer),
		vm.Set("setImmediate", func(call goja.FunctionCall) goja.Value {
			fn, ok := goja.AssertFunction(call.Argument(0))
			if !ok {
				panic(vm.NewTypeError("setImmediate callback must be a function"))
			}
			im := rt.process.setImmediate(fn, goja.Undefined(), restArgs(call, 1)...)
			return vm.ToValue(im)
		}),
		vm.Set("clearImmediate", func(call goja.FunctionCall) goja.Value {
			if im, ok := call.Argument(0).Export().(*immediateTask); ok {
				im.cleared = true
			}
			return goja.Undefined()
		}),
		vm.Set("require", func(call goja.FunctionCall) goja.Value {
			v, err := rt.Require(call.Argument(0).String())
			if err != nil {
				panic(vm.NewGoError(err))
			}
			return v
		}),
	}
	for _, err := range sets {
		if err != nil {
			return err
		}
	}
	return nil
}

// shutdown runs the termination sequence: emit the exit event (honoring a
// re-entrant process.exit), invoke the cleanup hook, close every registered
// handle, and close non-standard stdio. Shutdown errors are logged and
// swallowed so the sequence always completes.
func (rt *Runtime) shutdown(st *ScriptStatus) {
	p := rt.process
	if st.Err == nil && !st.Cancelled && !p.exiting && rt.vm != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					if ee, ok := r.(*ExitError); ok {
						st.ExitCode = ee.Code
						return
					}
					panic(r)
				}
			}()
			if err := p.emitEvent("exit", rt.vm.ToValue(st.ExitCode)); err != nil {
				var ee *ExitError
				if errors.As(err, &ee) {
					st.ExitCode = ee.Code
					return
				}
				rt.log.Error().Err(err).Msg("exit event handler failed")
			}
		}()
	}

	if rt.cfg.CleanupHook != nil {
		rt.cfg.CleanupHook()
	}

	rt.closeOpenHandles()
	rt.closeStdio()

	_ = rt.selector.Close()
	if rt.ownsAsync {
		rt.asyncPool.Shutdown()
	}
}

func (rt *Runtime) closeOpenHandles() {
	rt.handleMu.Lock()
	handles := make([]io.Closer, 0, len(rt.openHandles))
	for c := range rt.openHandles {
		handles = append(handles, c)
	}
	rt.openHandles = make(map[io.Closer]struct{})
	rt.handleMu.Unlock()

	for _, c := range handles {
		if err := c.Close(); err != nil {
			rt.log.Warn().Err(err).Msg("closing handle during shutdown")
		}
	}
}

func (rt *Runtime) closeStdio() {
	sb := rt.cfg.Sandbox
	if sb == nil {
		return
	}
	for _, w := range []io.Writer{sb.Stdout, sb.Stderr} {
		if w == nil || w == io.Writer(os.Stdout) || w == io.Writer(os.Stderr) {
			continue
		}
		if c, ok := w.(io.Closer); ok {
			if err := c.Close(); err != nil {
				rt.log.Warn().Err(err).Msg("closing stdio stream during shutdown")
			}
		}
	}
}
