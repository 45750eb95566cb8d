package vm

import (
	"errors"
	"testing"

	"github.com/cafebabe-vm/cafebabe/internal/classgen"
)

func emptyMain() map[string][]byte {
	b := classgen.New("Main", "java/lang/Object")
	b.DefaultInit()
	b.AddMethod(classgen.Method{
		Flags: classgen.AccPublic | classgen.AccStatic, Name: "main", Desc: "()V",
		MaxStack: 1, MaxLocals: 1,
		Code: []byte{0xB1},
	})
	return map[string][]byte{"Main": b.Bytes()}
}

func TestBootRegistersBootClasses(t *testing.T) {
	machine, err := bootedVM("Main", emptyMain())
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	g := machine.Global()

	// java/lang/Object is the first allocation and its own class — the
	// bootstrap fixed point.
	objectIndex, err := g.ClassIndex(JavaObject)
	if err != nil {
		t.Fatalf("ClassIndex(Object): %v", err)
	}
	if objectIndex != 0 {
		t.Errorf("Object index: got %d, want 0", objectIndex)
	}
	obj, err := g.Get(objectIndex)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if obj.Class != objectIndex {
		t.Errorf("Object.class: got %d, want itself (%d)", obj.Class, objectIndex)
	}

	for _, name := range []string{JavaClass, JavaLoader, JavaThread, JavaNative} {
		if _, err := g.ClassIndex(name); err != nil {
			t.Errorf("boot class %s not registered: %v", name, err)
		}
	}

	if _, err := g.Loader(); err != nil {
		t.Errorf("loader singleton: %v", err)
	}
	if _, err := g.Native(); err != nil {
		t.Errorf("native singleton: %v", err)
	}

	// The clinit and init threads exist and carry their priorities.
	loader, _ := g.Loader()
	clinitIndex, initIndex := loader.Threads()
	clinit, err := g.ThreadAt(clinitIndex)
	if err != nil {
		t.Fatalf("clinit thread: %v", err)
	}
	if clinit.Priority() != 2 {
		t.Errorf("clinit priority: got %d, want 2", clinit.Priority())
	}
	initThread, err := g.ThreadAt(initIndex)
	if err != nil {
		t.Fatalf("init thread: %v", err)
	}
	if initThread.Priority() != 1 {
		t.Errorf("init priority: got %d, want 1", initThread.Priority())
	}

	// Boot leaves the gate raised until the init threads drain.
	if g.Gate() == 0 {
		t.Error("gate should be raised after boot")
	}
}

func TestLoadSameClassTwice(t *testing.T) {
	machine, err := bootedVM("Main", emptyMain())
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}

	b := classgen.New("demo/Twice", "java/lang/Object")
	b.DefaultInit()
	data := b.Bytes()

	first, err := machine.LoadClassBytes(data)
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	if first <= 0 {
		t.Errorf("first load index: got %d", first)
	}
	if _, err := machine.LoadClassBytes(data); !errors.Is(err, ErrClassAlreadyLoaded) {
		t.Errorf("second load: got %v, want ErrClassAlreadyLoaded", err)
	}
}

func TestClassNotFound(t *testing.T) {
	machine, err := bootedVM("Main", emptyMain())
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	loader, err := machine.Global().Loader()
	if err != nil {
		t.Fatalf("Loader: %v", err)
	}
	if _, err := loader.LoadClassName("does/not/Exist"); !errors.Is(err, ErrClassNotFound) {
		t.Errorf("got %v, want ErrClassNotFound", err)
	}
}

func TestInstanceFieldsCoverSuperChain(t *testing.T) {
	machine, err := bootedVM("Main", emptyMain())
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	g := machine.Global()

	base := classgen.New("demo/Base", "java/lang/Object")
	base.AddField(classgen.AccPublic, "a", "I")
	base.DefaultInit()
	if _, err := machine.LoadClassBytes(base.Bytes()); err != nil {
		t.Fatalf("loading Base: %v", err)
	}

	derived := classgen.New("demo/Derived", "demo/Base")
	derived.AddField(classgen.AccPublic, "b", "I")
	derived.AddField(classgen.AccPublic|classgen.AccStatic, "shared", "I")
	derived.DefaultInit()
	if _, err := machine.LoadClassBytes(derived.Bytes()); err != nil {
		t.Fatalf("loading Derived: %v", err)
	}

	index, err := g.NewInstance("demo/Derived")
	if err != nil {
		t.Fatalf("NewInstance: %v", err)
	}
	obj, err := g.Get(index)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	// Fields cover the class and all superclasses; statics stay out.
	for _, name := range []string{"a", "b"} {
		if _, ok := obj.Fields[name]; !ok {
			t.Errorf("field %s missing from instance", name)
		}
	}
	if _, ok := obj.Fields["shared"]; ok {
		t.Error("static field leaked into instance fields")
	}
}

func TestFrameLocalsMatchMaxLocals(t *testing.T) {
	machine, err := bootedVM("Main", emptyMain())
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	g := machine.Global()

	b := classgen.New("demo/Locals", "java/lang/Object")
	b.DefaultInit()
	b.AddMethod(classgen.Method{
		Flags: classgen.AccPublic | classgen.AccStatic, Name: "calc", Desc: "(IJ)I",
		MaxStack: 2, MaxLocals: 5,
		Code: []byte{0x1A, 0xAC},
	})
	if _, err := machine.LoadClassBytes(b.Bytes()); err != nil {
		t.Fatalf("loading: %v", err)
	}

	thread := NewThread(g, 0)
	frame, err := thread.buildFrame(frameRequest{
		ref:  MethodRefFor("demo/Locals", "calc", "(IJ)I"),
		args: []Value{IntValue(1), LongValue(2)},
	})
	if err != nil {
		t.Fatalf("buildFrame: %v", err)
	}
	if len(frame.locals) != 5 {
		t.Errorf("locals: got %d, want max_locals 5", len(frame.locals))
	}
	if frame.locals[0] != IntValue(1) {
		t.Errorf("slot 0: got %s, want Int(1)", frame.locals[0])
	}
	if frame.locals[1] != LongValue(2) {
		t.Errorf("slot 1: got %s, want Long(2)", frame.locals[1])
	}
}

func TestBuildFrameNullReceiver(t *testing.T) {
	machine, err := bootedVM("Main", emptyMain())
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	thread := NewThread(machine.Global(), 0)
	null := NullValue()
	_, err = thread.buildFrame(frameRequest{
		ref:  MethodRefFor("java/lang/Object", "<init>", "()V"),
		this: &null,
	})
	if !errors.Is(err, ErrNullPointer) {
		t.Errorf("got %v, want ErrNullPointer", err)
	}
}
