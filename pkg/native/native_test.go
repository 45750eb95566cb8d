package native

import (
	"strings"
	"testing"

	"github.com/cafebabe-vm/cafebabe/pkg/vm"
)

func TestStringGetInternal(t *testing.T) {
	g := vm.NewGlobal()
	obj := vm.NewObject(vm.NoClass, nil, vm.StringInner{Value: "abc"})
	index, err := g.NewObject(obj)
	if err != nil {
		t.Fatalf("NewObject: %v", err)
	}

	env := vm.NewNativeEnv(g, []vm.Value{vm.RefValue(index)})
	ref, err := stringGetInternal(env)
	if err != nil {
		t.Fatalf("stringGetInternal: %v", err)
	}

	arrObj, err := g.GetRef(ref)
	if err != nil {
		t.Fatalf("GetRef: %v", err)
	}
	arr, err := arrObj.Array()
	if err != nil {
		t.Fatalf("Array: %v", err)
	}
	if len(arr.Elements) != 3 {
		t.Fatalf("array length: got %d, want 3", len(arr.Elements))
	}
	if arr.Elements[0] != vm.ByteValue('a') {
		t.Errorf("element 0: got %s", arr.Elements[0])
	}

	// The array is cached on the instance and reused.
	again, err := stringGetInternal(env)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if again != ref {
		t.Error("cached array was not reused")
	}
}

func TestStringSetInternal(t *testing.T) {
	g := vm.NewGlobal()
	strObj := vm.NewObject(vm.NoClass, nil, vm.StringInner{Value: ""})
	strIndex, err := g.NewObject(strObj)
	if err != nil {
		t.Fatalf("NewObject: %v", err)
	}

	raw := []byte("xyz")
	elements := make([]vm.Value, len(raw))
	for i, b := range raw {
		elements[i] = vm.ByteValue(int8(b))
	}
	arrIndex, err := g.NewObject(vm.NewArrayObject(byteArrayType, elements))
	if err != nil {
		t.Fatalf("NewObject: %v", err)
	}

	env := vm.NewNativeEnv(g, []vm.Value{vm.RefValue(strIndex), vm.RefValue(arrIndex)})
	if _, err := stringSetInternal(env); err != nil {
		t.Fatalf("stringSetInternal: %v", err)
	}

	value, err := g.StringValue(vm.RefValue(strIndex))
	if err != nil {
		t.Fatalf("StringValue: %v", err)
	}
	if value != "xyz" {
		t.Errorf("payload: got %q, want %q", value, "xyz")
	}
}

func TestStdioSysStream(t *testing.T) {
	g := vm.NewGlobal()

	pathObj := vm.NewObject(vm.NoClass, nil, vm.StringInner{Value: SysPath})
	pathIndex, err := g.NewObject(pathObj)
	if err != nil {
		t.Fatalf("NewObject: %v", err)
	}
	stream := vm.NewObject(vm.NoClass, []string{"path"}, vm.PlainInner{})
	stream.Fields["path"] = vm.RefValue(pathIndex)
	streamIndex, err := g.NewObject(stream)
	if err != nil {
		t.Fatalf("NewObject: %v", err)
	}

	var out strings.Builder
	stdio := NewStdio()
	stdio.In = strings.NewReader("hi")
	stdio.Out = &out
	stdio.streams = make(map[int]cursor)

	env := vm.NewNativeEnv(g, []vm.Value{vm.RefValue(streamIndex)})
	if _, err := stdio.bindRead(env); err != nil {
		t.Fatalf("bindRead: %v", err)
	}

	first, err := stdio.read(env)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if first != vm.IntValue('h') {
		t.Errorf("read: got %s, want 'h'", first)
	}

	writeEnv := vm.NewNativeEnv(g, []vm.Value{vm.RefValue(streamIndex), vm.IntValue('!')})
	if _, err := stdio.write(writeEnv); err != nil {
		t.Fatalf("write: %v", err)
	}
	if out.String() != "!" {
		t.Errorf("out: got %q, want %q", out.String(), "!")
	}
}

func TestStdioReadEOF(t *testing.T) {
	g := vm.NewGlobal()
	pathObj := vm.NewObject(vm.NoClass, nil, vm.StringInner{Value: SysPath})
	pathIndex, _ := g.NewObject(pathObj)
	stream := vm.NewObject(vm.NoClass, []string{"path"}, vm.PlainInner{})
	stream.Fields["path"] = vm.RefValue(pathIndex)
	streamIndex, _ := g.NewObject(stream)

	stdio := NewStdio()
	stdio.In = strings.NewReader("")
	stdio.Out = &strings.Builder{}
	stdio.streams = make(map[int]cursor)

	env := vm.NewNativeEnv(g, []vm.Value{vm.RefValue(streamIndex)})
	if _, err := stdio.bindRead(env); err != nil {
		t.Fatalf("bindRead: %v", err)
	}
	v, err := stdio.read(env)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if v != vm.IntValue(-1) {
		t.Errorf("EOF read: got %s, want Int(-1)", v)
	}
}

func TestRegisterBindsAll(t *testing.T) {
	registry := vm.NewNativeInterface()
	if err := Register(registry); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := NewStdio().Register(registry); err != nil {
		t.Fatalf("Stdio.Register: %v", err)
	}
	if err := RegisterRandom(registry); err != nil {
		t.Fatalf("RegisterRandom: %v", err)
	}
	// Double registration must fail.
	if err := Register(registry); err == nil {
		t.Error("second Register should fail")
	}
}
