package nodert

import (
	"os"
	gort "runtime"

	"github.com/dop251/goja"
)

// tickTask is one queued next-tick callback with its captured domain.
type tickTask struct {
	fn     goja.Callable
	this   goja.Value
	args   []goja.Value
	domain Domain
}

// immediateTask is one queued setImmediate callback. Immediates carry a
// clear flag instead of the activity cancellation latch; they only ever
// live on the loop goroutine.
type immediateTask struct {
	tickTask
	cleared bool
}

// Process is the per-runtime process collaborator: it owns the next-tick
// and immediate microtask queues, the script-facing process object, event
// handlers, exit bookkeeping, and the fatal-exception hook. All state is
// loop-goroutine only.
type Process struct {
	rt *Runtime

	nextTicks  []*tickTask
	immediates []*immediateTask

	handlers map[string][]goja.Callable

	obj *goja.Object // script-facing process object

	exiting   bool
	exitCode  int
	connected bool

	throwDeprecation bool
	traceDeprecation bool
	noDeprecation    bool
}

func newProcess(rt *Runtime) *Process {
	return &Process{
		rt:        rt,
		handlers:  make(map[string][]goja.Callable),
		connected: true,
	}
}

// isTickTaskPending reports whether any next-tick callbacks are queued.
func (p *Process) isTickTaskPending() bool {
	return len(p.nextTicks) > 0
}

// isImmediateTaskPending reports whether any immediates are queued.
func (p *Process) isImmediateTaskPending() bool {
	for _, im := range p.immediates {
		if !im.cleared {
			return true
		}
	}
	return false
}

// nextTick queues a callback into the microtask queue, capturing the
// current domain.
func (p *Process) nextTick(fn goja.Callable, this goja.Value, args ...goja.Value) {
	p.nextTicks = append(p.nextTicks, &tickTask{
		fn: fn, this: this, args: args, domain: p.getDomain(),
	})
}

// setImmediate queues a callback for the immediate phase and returns the
// task so it can be cleared.
func (p *Process) setImmediate(fn goja.Callable, this goja.Value, args ...goja.Value) *immediateTask {
	im := &immediateTask{tickTask: tickTask{
		fn: fn, this: this, args: args, domain: p.getDomain(),
	}}
	p.immediates = append(p.immediates, im)
	return im
}

// processTickTasks drains the next-tick queue fully, including callbacks
// enqueued while draining. An error leaves the remainder queued for the
// next iteration.
func (p *Process) processTickTasks() error {
	for len(p.nextTicks) > 0 {
		t := p.nextTicks[0]
		p.nextTicks[0] = nil
		p.nextTicks = p.nextTicks[1:]
		if err := p.submitTick(t.fn, t.this, t.domain, t.args...); err != nil {
			return err
		}
	}
	return nil
}

// processImmediateTasks drains the immediate queue under the same contract
// as processTickTasks.
func (p *Process) processImmediateTasks() error {
	for len(p.immediates) > 0 {
		im := p.immediates[0]
		p.immediates[0] = nil
		p.immediates = p.immediates[1:]
		if im.cleared {
			continue
		}
		if err := p.submitTick(im.fn, im.this, im.domain, im.args...); err != nil {
			return err
		}
	}
	return nil
}

// submitTick invokes a script function inside the domain machinery: a
// disposed domain is cleared for the run, enter precedes the call, and exit
// runs only on a normal return so error handlers observe the active domain.
func (p *Process) submitTick(fn goja.Callable, this goja.Value, dom Domain, args ...goja.Value) error {
	if dom != nil && dom.IsDisposed() {
		dom = nil
	}
	if dom != nil {
		if err := dom.Enter(); err != nil {
			return err
		}
	}
	if this == nil {
		this = goja.Undefined()
	}
	if _, err := fn(this, args...); err != nil {
		return err
	}
	if dom != nil {
		return dom.Exit()
	}
	return nil
}

// getDomain adapts the script-level process.domain object, if any.
func (p *Process) getDomain() Domain {
	if p.obj == nil {
		return nil
	}
	v := p.obj.Get("domain")
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil
	}
	dom, err := NewJSDomain(obj)
	if err != nil {
		return nil
	}
	return dom
}

// handleFatal offers an uncaught error to the script's fatal handler. A
// true return consumes the exception and the loop continues.
func (p *Process) handleFatal(err error) bool {
	fatal := callableProp(p.obj, "_fatalException")
	if fatal == nil {
		return false
	}
	res, cerr := fatal(p.obj, errorValue(p.rt.vm, err))
	if cerr != nil {
		return false
	}
	return res.ToBoolean()
}

// on registers an event handler.
func (p *Process) on(name string, fn goja.Callable) {
	p.handlers[name] = append(p.handlers[name], fn)
}

// emitEvent calls every handler registered for the event, in registration
// order, with the process object as receiver.
func (p *Process) emitEvent(name string, args ...goja.Value) error {
	hs := p.handlers[name]
	if len(hs) == 0 {
		return nil
	}
	this := goja.Value(goja.Undefined())
	if p.obj != nil {
		this = p.obj
	}
	for _, h := range append([]goja.Callable(nil), hs...) {
		if _, err := h(this, args...); err != nil {
			return err
		}
	}
	return nil
}

// exit marks the process exiting and raises the deliberate-exit sentinel.
func (p *Process) exit(code int) {
	p.exiting = true
	p.exitCode = code
	panic(&ExitError{Code: code})
}

// emitDeprecation applies the deprecation flags: --no-deprecation silences,
// --throw-deprecation raises, otherwise the warning is logged
// (--trace-deprecation at a more verbose level).
func (p *Process) emitDeprecation(msg string) error {
	switch {
	case p.noDeprecation:
		return nil
	case p.throwDeprecation:
		return &deprecationError{msg: msg}
	case p.traceDeprecation:
		p.rt.log.Warn().Str("component", "process").Bool("trace", true).Msg(msg)
	default:
		p.rt.log.Warn().Str("component", "process").Msg(msg)
	}
	return nil
}

type deprecationError struct{ msg string }

func (e *deprecationError) Error() string { return e.msg }

// install builds the script-facing process object and sets it on the
// global scope.
func (p *Process) install(flags execFlags) error {
	rt := p.rt
	vm := rt.vm
	obj := vm.NewObject()
	p.obj = obj

	p.throwDeprecation = flags.throwDeprecation
	p.traceDeprecation = flags.traceDeprecation
	p.noDeprecation = flags.noDeprecation

	argv := append([]string{"node", rt.cfg.ScriptName}, rt.cfg.Args...)
	env := vm.NewObject()
	for k, v := range rt.cfg.Env {
		_ = env.Set(k, v)
	}
	version := rt.cfg.NodeVersion
	if version == "" {
		version = "v0.12.18"
	}

	sets := []error{
		obj.Set("argv", argv),
		obj.Set("env", env),
		obj.Set("pid", os.Getpid()),
		obj.Set("platform", gort.GOOS),
		obj.Set("arch", gort.GOARCH),
		obj.Set("version", version),
		obj.Set("execArgv", rt.cfg.ExecArgs),
		obj.Set("throwDeprecation", p.throwDeprecation),
		obj.Set("traceDeprecation", p.traceDeprecation),
		obj.Set("noDeprecation", p.noDeprecation),
		obj.Set("connected", p.connected),

		obj.Set("nextTick", func(call goja.FunctionCall) goja.Value {
			fn, ok := goja.AssertFunction(call.Argument(0))
			if !ok {
				panic(vm.NewTypeError("nextTick callback must be a function"))
			}
			p.nextTick(fn, goja.Undefined(), restArgs(call, 1)...)
			return goja.Undefined()
		}),
		obj.Set("exit", func(call goja.FunctionCall) goja.Value {
			code := 0
			if len(call.Arguments) > 0 && !goja.IsUndefined(call.Argument(0)) {
				code = int(call.Argument(0).ToInteger())
			}
			p.exit(code)
			return goja.Undefined()
		}),
		obj.Set("on", func(call goja.FunctionCall) goja.Value {
			name := call.Argument(0).String()
			fn, ok := goja.AssertFunction(call.Argument(1))
			if !ok {
				panic(vm.NewTypeError("listener must be a function"))
			}
			p.on(name, fn)
			return obj
		}),
		obj.Set("emit", func(call goja.FunctionCall) goja.Value {
			name := call.Argument(0).String()
			if err := p.emitEvent(name, restArgs(call, 1)...); err != nil {
				panic(vm.NewGoError(err))
			}
			return vm.ToValue(len(p.handlers[name]) > 0)
		}),
		obj.Set("removeAllListeners", func(call goja.FunctionCall) goja.Value {
			if len(call.Arguments) == 0 {
				p.handlers = make(map[string][]goja.Callable)
			} else {
				delete(p.handlers, call.Argument(0).String())
			}
			return obj
		}),
		obj.Set("emitWarning", func(call goja.FunctionCall) goja.Value {
			if err := p.emitDeprecation(call.Argument(0).String()); err != nil {
				panic(vm.NewGoError(err))
			}
			return goja.Undefined()
		}),
	}
	for _, err := range sets {
		if err != nil {
			return err
		}
	}

	if flags.exposeGC {
		if err := vm.Set("gc", func(goja.FunctionCall) goja.Value {
			gort.GC()
			return goja.Undefined()
		}); err != nil {
			return err
		}
	}

	return vm.Set("process", obj)
}
