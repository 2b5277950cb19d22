package nodert

import (
	"reflect"
	"testing"

	"github.com/dop251/goja"
)

func TestCopyForIPC_StructuralEquality(t *testing.T) {
	vm := goja.New()
	v, err := vm.RunString(`({
		num: 42,
		str: "hello",
		flag: true,
		list: [1, "two", {nested: true}],
		child: {x: 1},
		fn: function() { return 1; }
	})`)
	if err != nil {
		t.Fatalf("RunString: %v", err)
	}

	m, err := copyForIPC(v)
	if err != nil {
		t.Fatalf("copyForIPC: %v", err)
	}
	obj, ok := m.(map[string]any)
	if !ok {
		t.Fatalf("copy type = %T, want map", m)
	}
	if _, has := obj["fn"]; has {
		t.Error("function field should be dropped")
	}
	if obj["num"] != int64(42) || obj["str"] != "hello" || obj["flag"] != true {
		t.Errorf("scalar fields wrong: %v", obj)
	}
	list, ok := obj["list"].([]any)
	if !ok || len(list) != 3 {
		t.Fatalf("list = %v", obj["list"])
	}
	nested, ok := list[2].(map[string]any)
	if !ok || nested["nested"] != true {
		t.Errorf("nested array element = %v", list[2])
	}
}

func TestCopyForIPC_ByteBufferIsDeepCopied(t *testing.T) {
	vm := goja.New()
	v, err := vm.RunString(`
		var buf = new ArrayBuffer(4);
		new Uint8Array(buf).set([1, 2, 3, 4]);
		buf`)
	if err != nil {
		t.Fatalf("RunString: %v", err)
	}
	m, err := copyForIPC(v)
	if err != nil {
		t.Fatalf("copyForIPC: %v", err)
	}
	b, ok := m.(ipcBuffer)
	if !ok {
		t.Fatalf("copy type = %T, want ipcBuffer", m)
	}
	if !reflect.DeepEqual([]byte(b), []byte{1, 2, 3, 4}) {
		t.Errorf("buffer contents = %v", []byte(b))
	}
	// Mutating the original must not affect the copy.
	if _, err := vm.RunString(`new Uint8Array(buf)[0] = 9`); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if b[0] != 1 {
		t.Error("copy shares backing storage with the original")
	}
}

func TestCopyForIPC_TopLevelFunctionRejected(t *testing.T) {
	vm := goja.New()
	v, err := vm.RunString(`(function(){})`)
	if err != nil {
		t.Fatalf("RunString: %v", err)
	}
	if _, err := copyForIPC(v); err == nil {
		t.Error("top-level function payload should be an internal error")
	}
}

func TestMaterializeIPC_NoSharedIdentity(t *testing.T) {
	sender := goja.New()
	v, err := sender.RunString(`({child: {n: 1}, list: [1]})`)
	if err != nil {
		t.Fatalf("RunString: %v", err)
	}
	m, err := copyForIPC(v)
	if err != nil {
		t.Fatalf("copyForIPC: %v", err)
	}

	recipient := goja.New()
	out := materializeIPC(recipient, m)
	if err := recipient.Set("msg", out); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := recipient.RunString(`msg.child.n = 99; msg.list[0] = 99`); err != nil {
		t.Fatalf("mutate copy: %v", err)
	}

	back, err := copyForIPC(v)
	if err != nil {
		t.Fatalf("re-copy original: %v", err)
	}
	child := back.(map[string]any)["child"].(map[string]any)
	if child["n"] != int64(1) {
		t.Error("mutating the delivered copy changed the sender's object")
	}

	// And the delivered value is structurally equal to the original copy.
	redelivered, err := copyForIPC(materializeIPC(goja.New(), m))
	if err != nil {
		t.Fatalf("copy of materialized: %v", err)
	}
	if !reflect.DeepEqual(redelivered, m) {
		t.Errorf("materialized copy differs: %v vs %v", redelivered, m)
	}
}

func TestIPCEventName(t *testing.T) {
	cases := []struct {
		m    any
		want string
	}{
		{ipcDisconnect{}, "disconnect"},
		{map[string]any{"cmd": "NODE_HANDLE"}, "internalMessage"},
		{map[string]any{"cmd": "other"}, "message"},
		{map[string]any{"x": int64(1)}, "message"},
		{"plain string", "message"},
		{nil, "message"},
	}
	for _, c := range cases {
		if got := ipcEventName(c.m); got != c.want {
			t.Errorf("ipcEventName(%v) = %q, want %q", c.m, got, c.want)
		}
	}
}
