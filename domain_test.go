package nodert

import (
	"errors"
	"testing"

	"github.com/dop251/goja"
)

type testDomain struct {
	rec      *recorder
	disposed bool
}

func (d *testDomain) Enter() error     { d.rec.add("enter"); return nil }
func (d *testDomain) Exit() error      { d.rec.add("exit"); return nil }
func (d *testDomain) IsDisposed() bool { return d.disposed }

func TestDomain_EnterRunExit(t *testing.T) {
	rec := &recorder{}
	rt, err := NewRuntime(RuntimeConfig{})
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	dom := &testDomain{rec: rec}
	rt.EnqueueTask(func(*Runtime) error {
		rec.add("task")
		return nil
	}, dom)

	if st := rt.Run(); !st.OK() {
		t.Fatalf("status = %v", st)
	}
	want := []string{"enter", "task", "exit"}
	if got := rec.snapshot(); !equalStrings(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

// On an exception the domain exit is skipped so the error handler observes
// the active domain.
func TestDomain_ExitSkippedOnError(t *testing.T) {
	rec := &recorder{}
	rt, err := NewRuntime(RuntimeConfig{})
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	dom := &testDomain{rec: rec}
	rt.EnqueueTask(func(*Runtime) error {
		rec.add("task")
		return errors.New("boom")
	}, dom)

	st := rt.Run()
	if st.Err == nil {
		t.Fatal("unhandled task error should be fatal")
	}
	want := []string{"enter", "task"}
	if got := rec.snapshot(); !equalStrings(got, want) {
		t.Errorf("order = %v, want %v (no exit after error)", got, want)
	}
}

// A domain disposed after scheduling is cleared for that run only: the
// payload still executes, without enter/exit.
func TestDomain_DisposedIsClearedForRun(t *testing.T) {
	rec := &recorder{}
	rt, err := NewRuntime(RuntimeConfig{})
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	dom := &testDomain{rec: rec, disposed: true}
	rt.ExecuteScriptTask(func() { rec.add("task") }, dom)

	if st := rt.Run(); !st.OK() {
		t.Fatalf("status = %v", st)
	}
	if got := rec.snapshot(); !equalStrings(got, []string{"task"}) {
		t.Errorf("order = %v, want [task] with no enter/exit", got)
	}
}

// Script-level domain objects adapt through the same capability; the
// callback path goes through the process tick submitter.
func TestDomain_ScriptObjectAdapter(t *testing.T) {
	rec := &recorder{}
	rt := recorderRuntime(t, `
		var rec = require('recorder');
		globalThis.dom = {
			enter: function() { rec('js-enter'); },
			exit: function() { rec('js-exit'); },
		};
		globalThis.cb = function() { rec('cb'); };
	`, rec)

	rt.EnqueueTask(func(r *Runtime) error {
		vm := r.VM()
		obj := vm.Get("dom").ToObject(vm)
		dom, derr := NewJSDomain(obj)
		if derr != nil {
			return derr
		}
		fn, ok := goja.AssertFunction(vm.Get("cb"))
		if !ok {
			return errors.New("cb is not a function")
		}
		r.EnqueueCallback(fn, goja.Undefined(), dom)
		return nil
	}, nil)

	if st := rt.Run(); !st.OK() {
		t.Fatalf("status = %v", st)
	}
	want := []string{"js-enter", "cb", "js-exit"}
	if got := rec.snapshot(); !equalStrings(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

// A disposed script domain raises no enter/exit.
func TestDomain_ScriptObjectDisposedFlag(t *testing.T) {
	rec := &recorder{}
	rt := recorderRuntime(t, `
		var rec = require('recorder');
		globalThis.dom = {
			_disposed: true,
			enter: function() { rec('js-enter'); },
			exit: function() { rec('js-exit'); },
		};
		globalThis.cb = function() { rec('cb'); };
	`, rec)

	rt.EnqueueTask(func(r *Runtime) error {
		vm := r.VM()
		dom, derr := NewJSDomain(vm.Get("dom").ToObject(vm))
		if derr != nil {
			return derr
		}
		fn, _ := goja.AssertFunction(vm.Get("cb"))
		r.EnqueueCallback(fn, goja.Undefined(), dom)
		return nil
	}, nil)

	if st := rt.Run(); !st.OK() {
		t.Fatalf("status = %v", st)
	}
	if got := rec.snapshot(); !equalStrings(got, []string{"cb"}) {
		t.Errorf("order = %v, want [cb]", got)
	}
}
