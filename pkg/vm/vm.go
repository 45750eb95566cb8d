package vm

import (
	"fmt"
	"strings"

	"github.com/cafebabe-vm/cafebabe/pkg/classfile"
)

// DefaultMainClass is used when the embedder does not name a main class.
const DefaultMainClass = "Main"

// VM drives a single virtual machine: global state, native registration,
// the boot sequence and the cooperative tick loop.
type VM struct {
	// MainClass is the internal name of the class whose main method the
	// run loop enters.
	MainClass string

	global    *Global
	providers []Provider
	natives   []RegisterFn
	booted    bool
}

// New creates an empty VM.
func New() *VM {
	return &VM{MainClass: DefaultMainClass, global: NewGlobal()}
}

// Global exposes the shared state, mainly for natives and tests.
func (v *VM) Global() *Global {
	return v.global
}

// RegisterNative queues a native registration function. Registrations run
// during Boot, once the native interface object exists.
func (v *VM) RegisterNative(fn RegisterFn) {
	v.natives = append(v.natives, fn)
}

// LoadProvider registers a class provider. Providers added before Boot
// serve the boot classes; later ones only serve on-demand loads.
func (v *VM) LoadProvider(p Provider) {
	v.providers = append(v.providers, p)
	if v.booted {
		if loader, err := v.global.Loader(); err == nil {
			loader.AddProvider(p)
		}
	}
}

// LoadClassBytes loads one class from raw bytes. Only valid after Boot.
func (v *VM) LoadClassBytes(data []byte) (int, error) {
	loader, err := v.global.Loader()
	if err != nil {
		return 0, err
	}
	return loader.LoadClassBytes(data)
}

// Boot materializes the boot classes, places the loader and native
// interface on the heap, runs the queued native registrations, and loads
// the main class.
func (v *VM) Boot() error {
	if v.booted {
		return fmt.Errorf("vm already booted: %w", ErrIllegalState)
	}

	loader := NewLoader(v.global)
	for _, p := range v.providers {
		loader.AddProvider(p)
	}
	if err := loader.BootClasses(); err != nil {
		return err
	}

	if _, err := v.global.NewInnerInstance(JavaLoader, &LoaderInner{Loader: loader}); err != nil {
		return fmt.Errorf("allocating loader: %w", err)
	}

	registry := NewNativeInterface()
	if _, err := v.global.NewInnerInstance(JavaNative, &NativeInner{Registry: registry}); err != nil {
		return fmt.Errorf("allocating native interface: %w", err)
	}
	for _, fn := range v.natives {
		if err := fn(registry); err != nil {
			return fmt.Errorf("registering natives: %w", err)
		}
	}
	v.natives = nil

	if _, err := loader.LoadMainClass(v.MainClass); err != nil {
		return err
	}

	v.booted = true
	return nil
}

// Run creates the main thread and rotates across all threads, one opcode
// or native call per tick, until every thread has stopped. It returns the
// value the main thread's bottom frame produced.
//
// The rotation follows the thread list in insertion order; that ordering
// is observable and part of the contract.
func (v *VM) Run() (Value, error) {
	if !v.booted {
		return Value{}, fmt.Errorf("vm not booted: %w", ErrIllegalState)
	}

	mainThread, err := NewMainThread(v.global)
	if err != nil {
		return Value{}, err
	}
	threadClassIndex, err := v.global.ClassIndex(JavaThread)
	if err != nil {
		return Value{}, err
	}
	threadFields, err := v.global.ResolveFields(threadClassIndex)
	if err != nil {
		return Value{}, err
	}
	if _, err := v.global.NewObject(NewObject(threadClassIndex, threadFields, &ThreadInner{Thread: mainThread})); err != nil {
		return Value{}, err
	}

	result := VoidValue()
	for {
		stop := true
		for _, threadIndex := range v.global.Threads() {
			thread, err := v.global.ThreadAt(threadIndex)
			if err != nil {
				return Value{}, err
			}
			state, value, err := thread.Tick()
			if err != nil {
				// Errors are fatal for the whole machine.
				return Value{}, err
			}
			switch state {
			case TickContinue:
				stop = false
			case TickResult:
				result = value
				stop = false
			}
		}
		if stop {
			break
		}
	}
	return result, nil
}

// StackTrace renders every thread's stack.
func (v *VM) StackTrace() string {
	var b strings.Builder
	for _, threadIndex := range v.global.Threads() {
		thread, err := v.global.ThreadAt(threadIndex)
		if err != nil {
			continue
		}
		b.WriteString(thread.StackTrace())
		b.WriteString("\n")
	}
	return b.String()
}

// HeapTrace renders the heap contents.
func (v *VM) HeapTrace() string {
	return v.global.HeapTrace()
}

// MethodRefFor is a convenience for embedders registering natives.
func MethodRefFor(class, name, descriptor string) classfile.MethodRef {
	return classfile.MethodRef{Class: class, Name: name, Descriptor: descriptor}
}
