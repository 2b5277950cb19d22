package nodert

import (
	"strconv"
	"strings"

	"github.com/dop251/goja"
)

// ipcDisconnect is the sentinel delivered when the peer end of an
// in-process channel disconnects.
type ipcDisconnect struct{}

// IPCDisconnect is the disconnect sentinel accepted by SendRaw.
var IPCDisconnect any = ipcDisconnect{}

// ipcBuffer is a deep-copied byte-buffer message payload.
type ipcBuffer []byte

// copyForIPC snapshots a script value into an interpreter-neutral form.
// Strings pass by reference (immutable); byte buffers are deep-copied;
// objects are deep-copied recursively with function-valued fields dropped.
// Must run under the sender's interpreter context (its loop goroutine).
func copyForIPC(v goja.Value) (any, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	if _, ok := goja.AssertFunction(v); ok {
		return nil, errInternal("unsupported IPC payload type: function")
	}
	switch ev := v.Export().(type) {
	case string:
		return ev, nil
	case bool:
		return ev, nil
	case int64:
		return ev, nil
	case float64:
		return ev, nil
	case goja.ArrayBuffer:
		cp := make(ipcBuffer, len(ev.Bytes()))
		copy(cp, ev.Bytes())
		return cp, nil
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, errInternal("unsupported IPC payload type: %s", v.ExportType())
	}
	if obj.ClassName() == "Array" {
		n := int(obj.Get("length").ToInteger())
		items := make([]any, 0, n)
		for i := 0; i < n; i++ {
			c, err := copyForIPC(obj.Get(strconv.Itoa(i)))
			if err != nil {
				return nil, err
			}
			items = append(items, c)
		}
		return items, nil
	}
	m := make(map[string]any, len(obj.Keys()))
	for _, k := range obj.Keys() {
		fv := obj.Get(k)
		if fv != nil {
			if _, isFn := goja.AssertFunction(fv); isFn {
				// function fields become undefined on the far side
				continue
			}
		}
		c, err := copyForIPC(fv)
		if err != nil {
			return nil, err
		}
		m[k] = c
	}
	return m, nil
}

// materializeIPC rebuilds a copied message inside the recipient's
// interpreter. The result shares no mutable identity with the original.
func materializeIPC(vm *goja.Runtime, m any) goja.Value {
	switch mv := m.(type) {
	case nil:
		return goja.Null()
	case ipcBuffer:
		return vm.ToValue(vm.NewArrayBuffer(mv))
	case []any:
		items := make([]any, len(mv))
		for i, it := range mv {
			items[i] = materializeIPC(vm, it)
		}
		return vm.NewArray(items...)
	case map[string]any:
		obj := vm.NewObject()
		for k, it := range mv {
			_ = obj.Set(k, materializeIPC(vm, it))
		}
		return obj
	default:
		return vm.ToValue(m)
	}
}

// ipcEventName selects the event emitted for a delivered message:
// disconnect for the disconnect sentinel, internalMessage for objects whose
// cmd field starts with NODE_, message otherwise.
func ipcEventName(m any) string {
	if _, ok := m.(ipcDisconnect); ok {
		return "disconnect"
	}
	if obj, ok := m.(map[string]any); ok {
		if cmd, ok := obj["cmd"].(string); ok && strings.HasPrefix(cmd, "NODE_") {
			return "internalMessage"
		}
	}
	return "message"
}

// SendMessage copies a script value under this runtime's context and posts
// it to the target runtime's tick queue for delivery as a process event.
// Must be called on this runtime's loop goroutine; delivery happens on the
// target's.
func (rt *Runtime) SendMessage(target *Runtime, v goja.Value) error {
	m, err := copyForIPC(v)
	if err != nil {
		return err
	}
	target.SendRaw(m)
	return nil
}

// SendRaw posts an already-copied (or host-constructed) message to this
// runtime. Safe from any goroutine. Passing IPCDisconnect marks the process
// disconnected and emits the disconnect event.
func (rt *Runtime) SendRaw(m any) {
	event := ipcEventName(m)
	rt.EnqueueTask(func(trt *Runtime) error {
		if event == "disconnect" {
			trt.process.connected = false
			_ = trt.process.obj.Set("connected", false)
			return trt.process.emitEvent(event)
		}
		return trt.process.emitEvent(event, materializeIPC(trt.vm, m))
	}, nil)
}
