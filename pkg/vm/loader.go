package vm

import (
	"fmt"

	"github.com/cafebabe-vm/cafebabe/pkg/classfile"
)

// Provider supplies class bytes for a fully-qualified internal class name.
// Providers are consulted in registration order.
type Provider interface {
	Load(name string) ([]byte, error)
}

// Loader loads classes through its providers and drives class and instance
// initialization through two dedicated threads: the clinit thread
// (priority 2) runs <clinit> frames, the init thread (priority 1) runs
// default <init> frames. While either has work, lower-priority threads are
// paused by the global gate.
type Loader struct {
	global       *Global
	clinitThread int
	initThread   int
	providers    []Provider
}

// NewLoader creates a loader bound to the global state.
func NewLoader(global *Global) *Loader {
	return &Loader{global: global, clinitThread: NoClass, initThread: NoClass}
}

// AddProvider appends a class provider.
func (l *Loader) AddProvider(p Provider) {
	l.providers = append(l.providers, p)
}

// Threads returns the heap indices of the clinit and init threads.
func (l *Loader) Threads() (int, int) {
	return l.clinitThread, l.initThread
}

// Clinit queues the <clinit> of the class object at classIndex on the
// clinit thread and raises the gate.
func (l *Loader) Clinit(classIndex int) error {
	l.global.Lock(2)
	thread, err := l.global.ThreadAt(l.clinitThread)
	if err != nil {
		return err
	}
	return thread.NewClinitFrame(classIndex)
}

// DefaultInit queues the default <init> declared by the class at
// classIndex for the object at this, on the init thread, and raises the
// gate.
func (l *Loader) DefaultInit(classIndex, this int) error {
	l.global.Lock(1)
	thread, err := l.global.ThreadAt(l.initThread)
	if err != nil {
		return err
	}
	return thread.NewDefaultInitFrame(classIndex, this)
}

// LoadClass places an already-parsed class on the heap, registers it in
// the name map, and schedules its <clinit> and default <init>.
func (l *Loader) LoadClass(metadata *classfile.Class) (int, error) {
	classIndex, err := l.global.ClassIndex(JavaClass)
	if err != nil {
		return 0, fmt.Errorf("loading %s before boot: %w", metadata.ThisClass, err)
	}

	fields, err := l.global.ResolveFields(classIndex)
	if err != nil {
		return 0, err
	}
	obj := NewObject(classIndex, fields, NewClassInner(metadata))
	objectIndex, err := l.global.NewObject(obj)
	if err != nil {
		return 0, err
	}

	if err := l.Clinit(objectIndex); err != nil {
		return 0, err
	}
	if err := l.DefaultInit(classIndex, objectIndex); err != nil {
		return 0, err
	}
	return objectIndex, nil
}

// LoadClassName loads a class through the providers.
func (l *Loader) LoadClassName(name string) (int, error) {
	class, err := l.extract(name)
	if err != nil {
		return 0, err
	}
	return l.LoadClass(class)
}

// LoadClassBytes parses raw class bytes and loads the result.
func (l *Loader) LoadClassBytes(data []byte) (int, error) {
	class, err := classfile.Parse(data)
	if err != nil {
		return 0, err
	}
	return l.LoadClass(class)
}

// LoadMainClass loads the named class if needed and records it as the main
// class.
func (l *Loader) LoadMainClass(name string) (int, error) {
	index, err := l.global.ClassIndex(name)
	if err != nil {
		index, err = l.LoadClassName(name)
		if err != nil {
			return 0, err
		}
	}
	if err := l.global.SetMainClass(name); err != nil {
		return 0, err
	}
	return index, nil
}

func (l *Loader) extract(name string) (*classfile.Class, error) {
	for _, p := range l.providers {
		data, err := p.Load(name)
		if err != nil {
			continue
		}
		class, err := classfile.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", name, err)
		}
		return class, nil
	}
	return nil, fmt.Errorf("could not load class %s: %w", name, ErrClassNotFound)
}

// bootClasses are materialized, in order, before anything else can be
// allocated.
var bootClasses = []string{JavaObject, JavaClass, JavaLoader, JavaThread}

// BootClasses loads the boot classes and creates the clinit and init
// threads, preloaded so java/lang/Object initializes first. The Object
// class object points at itself — the bootstrap fixed point.
func (l *Loader) BootClasses() error {
	objectClass, err := l.extract(JavaObject)
	if err != nil {
		return fmt.Errorf("boot: %w", err)
	}
	objectFields := objectClass.InstanceFieldNames()

	var clinits []int
	var inits [][2]int // (class object to take <init> from, receiver)

	// java/lang/Object is its own class.
	objectIndex, err := l.global.NewObject(NewObject(
		l.global.Heap().Cursor(), objectFields, NewClassInner(objectClass)))
	if err != nil {
		return fmt.Errorf("boot: %w", err)
	}
	clinits = append(clinits, objectIndex)
	inits = append(inits, [2]int{objectIndex, objectIndex})

	classClass, err := l.extract(JavaClass)
	if err != nil {
		return fmt.Errorf("boot: %w", err)
	}
	classFields := append(classClass.InstanceFieldNames(), objectFields...)

	// java/lang/Class is likewise an instance of itself.
	classIndex, err := l.global.NewObject(NewObject(
		l.global.Heap().Cursor(), classFields, NewClassInner(classClass)))
	if err != nil {
		return fmt.Errorf("boot: %w", err)
	}
	clinits = append(clinits, classIndex)
	inits = append(inits, [2]int{classIndex, classIndex})

	for _, name := range bootClasses[2:] {
		class, err := l.extract(name)
		if err != nil {
			return fmt.Errorf("boot: %w", err)
		}
		index, err := l.global.NewObject(NewObject(classIndex, classFields, NewClassInner(class)))
		if err != nil {
			return fmt.Errorf("boot: %w", err)
		}
		clinits = append(clinits, index)
		inits = append(inits, [2]int{classIndex, index})
	}

	threadClassIndex, err := l.global.ClassIndex(JavaThread)
	if err != nil {
		return fmt.Errorf("boot: %w", err)
	}
	threadFields, err := l.global.ResolveFields(threadClassIndex)
	if err != nil {
		return fmt.Errorf("boot: %w", err)
	}

	clinitThread := NewThread(l.global, 2)
	for i := len(clinits) - 1; i >= 0; i-- {
		if err := clinitThread.NewClinitFrame(clinits[i]); err != nil {
			return fmt.Errorf("boot: %w", err)
		}
	}
	l.clinitThread, err = l.global.NewObject(NewObject(
		threadClassIndex, threadFields, &ThreadInner{Thread: clinitThread}))
	if err != nil {
		return fmt.Errorf("boot: %w", err)
	}

	initThread := NewThread(l.global, 1)
	inits = append(inits,
		[2]int{threadClassIndex, l.clinitThread},
		[2]int{threadClassIndex, l.global.Heap().Cursor()})
	for i := len(inits) - 1; i >= 0; i-- {
		if err := initThread.NewDefaultInitFrame(inits[i][0], inits[i][1]); err != nil {
			return fmt.Errorf("boot: %w", err)
		}
	}
	l.initThread, err = l.global.NewObject(NewObject(
		threadClassIndex, threadFields, &ThreadInner{Thread: initThread}))
	if err != nil {
		return fmt.Errorf("boot: %w", err)
	}

	if len(clinits) > 0 {
		l.global.Lock(2)
	}
	l.global.Lock(1)
	return nil
}
