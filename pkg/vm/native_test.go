package vm

import (
	"errors"
	"testing"
)

func TestNativeRegisterDuplicate(t *testing.T) {
	registry := NewNativeInterface()
	ref := MethodRefFor("Sys", "print", "(Ljava/lang/String;)V")

	fn := func(env *NativeEnv) (Value, error) { return VoidValue(), nil }
	if err := registry.Register(ref, fn); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := registry.Register(ref, fn); !errors.Is(err, ErrIllegalState) {
		t.Errorf("second Register: got %v, want ErrIllegalState", err)
	}
}

func TestNativeInvokeUnbound(t *testing.T) {
	registry := NewNativeInterface()
	env := NewNativeEnv(NewGlobal(), nil)
	_, err := registry.Invoke(MethodRefFor("X", "y", "()V"), env)
	if !errors.Is(err, ErrNoSuchMethod) {
		t.Errorf("got %v, want ErrNoSuchMethod", err)
	}
}

func TestNativeEnvHelpers(t *testing.T) {
	g := NewGlobal()
	index, err := g.NewObject(NewObject(NoClass, []string{"f"}, PlainInner{}))
	if err != nil {
		t.Fatalf("NewObject: %v", err)
	}

	env := NewNativeEnv(g, []Value{RefValue(index), IntValue(3)})
	if len(env.Variables()) != 2 {
		t.Fatalf("Variables: got %d", len(env.Variables()))
	}
	obj, err := env.Object(env.Variables()[0])
	if err != nil {
		t.Fatalf("Object: %v", err)
	}
	if _, ok := obj.Fields["f"]; !ok {
		t.Error("dereferenced wrong object")
	}

	if _, err := env.Object(NullValue()); !errors.Is(err, ErrNullPointer) {
		t.Errorf("Object(null): got %v, want ErrNullPointer", err)
	}
}

func TestNativeReturnCoercion(t *testing.T) {
	// The handler returns an Int for a method declared to return long.
	// NativeInvoke hands back that raw Int, which reads as the long 42; the
	// widening done by the invoking tick is not exercised here.
	machine, err := bootedVM("Main", emptyMain(), func(n *NativeInterface) error {
		return n.Register(MethodRefFor("Host", "time", "()J"),
			func(env *NativeEnv) (Value, error) {
				return IntValue(42), nil
			})
	})
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}

	result, err := machine.Global().NativeInvoke(
		MethodRefFor("Host", "time", "()J"), nil)
	if err != nil {
		t.Fatalf("NativeInvoke: %v", err)
	}
	long, err := result.AsLong()
	if err != nil {
		t.Fatalf("AsLong: %v", err)
	}
	if long.Long != 42 {
		t.Errorf("got %d, want 42", long.Long)
	}
}
