package vm

import (
	"fmt"

	"github.com/cafebabe-vm/cafebabe/pkg/classfile"
)

// NativeFn is a host callback bound to a native method. It receives the
// invocation environment and returns a single value, which the interpreter
// coerces to the method's declared return type.
type NativeFn func(env *NativeEnv) (Value, error)

// RegisterFn populates a native interface with handlers.
type RegisterFn func(n *NativeInterface) error

// NativeInterface maps fully-qualified method signatures to host handlers.
// It is append-only after boot.
type NativeInterface struct {
	methods map[classfile.MethodRef]NativeFn
}

// NewNativeInterface creates an empty registry.
func NewNativeInterface() *NativeInterface {
	return &NativeInterface{methods: make(map[classfile.MethodRef]NativeFn)}
}

// Register binds a handler to a method signature. Binding the same
// signature twice is an error.
func (n *NativeInterface) Register(ref classfile.MethodRef, fn NativeFn) error {
	if _, ok := n.methods[ref]; ok {
		return fmt.Errorf("native %s already registered: %w", ref, ErrIllegalState)
	}
	n.methods[ref] = fn
	return nil
}

// Invoke calls the handler bound to ref.
func (n *NativeInterface) Invoke(ref classfile.MethodRef, env *NativeEnv) (Value, error) {
	fn, ok := n.methods[ref]
	if !ok {
		return Value{}, fmt.Errorf("native %s not bound: %w", ref, ErrNoSuchMethod)
	}
	return fn(env)
}

// NativeEnv is the environment a native handler runs in: the global heap,
// the argument vector (receiver first for instance methods), and helpers
// to allocate and dereference values.
type NativeEnv struct {
	global    *Global
	variables []Value
}

// NewNativeEnv builds an environment for one invocation.
func NewNativeEnv(global *Global, variables []Value) *NativeEnv {
	return &NativeEnv{global: global, variables: variables}
}

// Variables returns the argument vector.
func (e *NativeEnv) Variables() []Value {
	return e.variables
}

// Global returns the shared VM state.
func (e *NativeEnv) Global() *Global {
	return e.global
}

// Object dereferences a reference value.
func (e *NativeEnv) Object(v Value) (*Object, error) {
	return e.global.GetRef(v)
}

// Alloc places an object on the heap.
func (e *NativeEnv) Alloc(obj *Object) (int, error) {
	return e.global.NewObject(obj)
}

// NewString materializes a java/lang/String instance and returns its heap
// index.
func (e *NativeEnv) NewString(value string) (int, error) {
	return e.global.NewJavaString(value)
}

// StringValue reads the raw payload of a string reference.
func (e *NativeEnv) StringValue(v Value) (string, error) {
	return e.global.StringValue(v)
}
