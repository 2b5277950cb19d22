package nodert

import (
	"errors"

	"github.com/dop251/goja"
)

// errorValue converts a Go-side failure into the value handed to script
// error handlers: the original thrown value for script exceptions, an Error
// object wrapping the message otherwise.
func errorValue(vm *goja.Runtime, err error) goja.Value {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return ex.Value()
	}
	return vm.NewGoError(err)
}

// callableProp resolves a callable property on an object, or nil.
func callableProp(obj *goja.Object, name string) goja.Callable {
	if obj == nil {
		return nil
	}
	v := obj.Get(name)
	if v == nil {
		return nil
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil
	}
	return fn
}

// restArgs returns the call arguments from index from onward, or nil.
func restArgs(call goja.FunctionCall, from int) []goja.Value {
	if len(call.Arguments) <= from {
		return nil
	}
	return call.Arguments[from:]
}

// isInterrupt reports whether the error is an interpreter interruption
// (watchdog timeout or host-requested stop).
func isInterrupt(err error) bool {
	var ie *goja.InterruptedError
	return errors.As(err, &ie)
}
