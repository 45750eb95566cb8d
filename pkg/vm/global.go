package vm

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cafebabe-vm/cafebabe/pkg/classfile"
)

// Runtime classes that must exist before anything else can be allocated.
const (
	JavaObject = "java/lang/Object"
	JavaString = "java/lang/String"
	JavaClass  = "java/lang/Class"
	JavaNative = "java/lang/Native"
	JavaLoader = "java/lang/Loader"
	JavaThread = "java/lang/Thread"
)

// Global is the shared process state: the heap, the class name map, the
// loader and native singletons, the thread list and the priority gate.
type Global struct {
	heap *Heap

	mu          sync.Mutex
	mainClass   int
	loaderIndex int
	nativeIndex int
	classes     map[string]int
	threads     []int
	gate        int
}

// NewGlobal creates an empty global with a default-sized heap.
func NewGlobal() *Global {
	return &Global{
		heap:        NewHeap(DefaultHeapSize),
		mainClass:   NoClass,
		loaderIndex: NoClass,
		nativeIndex: NoClass,
		classes:     make(map[string]int),
	}
}

// Heap returns the object heap.
func (g *Global) Heap() *Heap {
	return g.heap
}

// Get dereferences a heap index.
func (g *Global) Get(index int) (*Object, error) {
	return g.heap.Get(index)
}

// GetRef dereferences a reference value. Null fails with null-pointer.
func (g *Global) GetRef(v Value) (*Object, error) {
	if v.IsNull() {
		return nil, fmt.Errorf("dereferencing null: %w", ErrNullPointer)
	}
	if v.Kind != KindReference {
		return nil, fmt.Errorf("dereferencing %s: %w", v, ErrIllegalArgument)
	}
	return g.heap.Get(v.Ref)
}

// ClassIndex returns the heap index of a loaded class by name.
func (g *Global) ClassIndex(name string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if index, ok := g.classes[name]; ok {
		return index, nil
	}
	return 0, fmt.Errorf("class %s was not loaded: %w", name, ErrClassNotFound)
}

// ClassAt returns the class payload of the object at index.
func (g *Global) ClassAt(index int) (*ClassInner, error) {
	obj, err := g.heap.Get(index)
	if err != nil {
		return nil, err
	}
	class, ok := obj.Inner.(*ClassInner)
	if !ok {
		return nil, fmt.Errorf("expected class at heap index %d: %w", index, ErrClassNotFound)
	}
	return class, nil
}

// Loader returns the loader singleton.
func (g *Global) Loader() (*Loader, error) {
	g.mu.Lock()
	index := g.loaderIndex
	g.mu.Unlock()
	if index == NoClass {
		return nil, fmt.Errorf("loader not booted: %w", ErrIllegalState)
	}
	obj, err := g.heap.Get(index)
	if err != nil {
		return nil, err
	}
	inner, ok := obj.Inner.(*LoaderInner)
	if !ok {
		return nil, fmt.Errorf("heap index %d is not the loader: %w", index, ErrIllegalState)
	}
	return inner.Loader, nil
}

// Native returns the native-interface singleton.
func (g *Global) Native() (*NativeInterface, error) {
	g.mu.Lock()
	index := g.nativeIndex
	g.mu.Unlock()
	if index == NoClass {
		return nil, fmt.Errorf("native interface not booted: %w", ErrIllegalState)
	}
	obj, err := g.heap.Get(index)
	if err != nil {
		return nil, err
	}
	inner, ok := obj.Inner.(*NativeInner)
	if !ok {
		return nil, fmt.Errorf("heap index %d is not the native interface: %w", index, ErrIllegalState)
	}
	return inner.Registry, nil
}

// ThreadAt returns the thread stored at a heap index.
func (g *Global) ThreadAt(index int) (*Thread, error) {
	obj, err := g.heap.Get(index)
	if err != nil {
		return nil, err
	}
	inner, ok := obj.Inner.(*ThreadInner)
	if !ok {
		return nil, fmt.Errorf("heap index %d is not a thread: %w", index, ErrIllegalState)
	}
	return inner.Thread, nil
}

// Threads snapshots the thread heap indices in insertion order.
func (g *Global) Threads() []int {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]int, len(g.threads))
	copy(out, g.threads)
	return out
}

// Lock raises the priority gate to priority if it is higher than the
// current gate.
func (g *Global) Lock(priority int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if priority > g.gate {
		g.gate = priority
	}
}

// Unlock decrements the gate when released at its current level.
func (g *Global) Unlock(priority int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if priority == g.gate && g.gate > 0 {
		g.gate--
	}
}

// Gate returns the current priority gate.
func (g *Global) Gate() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.gate
}

// NewObject allocates an object, registering classes in the name map and
// tracking the loader, native and thread singletons. Registering a class
// name twice fails with class-already-loaded.
func (g *Global) NewObject(obj *Object) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch inner := obj.Inner.(type) {
	case *ClassInner:
		name := inner.Class.ThisClass
		if _, ok := g.classes[name]; ok {
			return 0, fmt.Errorf("class %s: %w", name, ErrClassAlreadyLoaded)
		}
		index, err := g.heap.Alloc(obj)
		if err != nil {
			return 0, err
		}
		g.classes[name] = index
		return index, nil
	case *LoaderInner:
		if g.loaderIndex != NoClass {
			return 0, fmt.Errorf("loader already allocated: %w", ErrIllegalState)
		}
		index, err := g.heap.Alloc(obj)
		if err != nil {
			return 0, err
		}
		g.loaderIndex = index
		return index, nil
	case *NativeInner:
		if g.nativeIndex != NoClass {
			return 0, fmt.Errorf("native interface already allocated: %w", ErrIllegalState)
		}
		index, err := g.heap.Alloc(obj)
		if err != nil {
			return 0, err
		}
		g.nativeIndex = index
		return index, nil
	case *ThreadInner:
		index, err := g.heap.Alloc(obj)
		if err != nil {
			return 0, err
		}
		g.threads = append(g.threads, index)
		return index, nil
	default:
		return g.heap.Alloc(obj)
	}
}

// EnsureClass returns the heap index for a class, loading it on demand.
func (g *Global) EnsureClass(name string) (int, error) {
	if index, err := g.ClassIndex(name); err == nil {
		return index, nil
	}
	loader, err := g.Loader()
	if err != nil {
		return 0, err
	}
	return loader.LoadClassName(name)
}

// ResolveFields collects the instance field names of the class at
// classIndex and all its superclasses, loading missing supers on demand.
func (g *Global) ResolveFields(classIndex int) ([]string, error) {
	var fields []string
	for classIndex != NoClass {
		class, err := g.ClassAt(classIndex)
		if err != nil {
			return nil, err
		}
		fields = append(fields, class.Class.InstanceFieldNames()...)

		super := class.Class.SuperClass
		if super == "" {
			break
		}
		classIndex, err = g.EnsureClass(super)
		if err != nil {
			return nil, err
		}
	}
	return fields, nil
}

// NewInnerInstance allocates an instance of the named class with the given
// payload, loading the class on demand. The fields map covers the class
// and all superclasses.
func (g *Global) NewInnerInstance(className string, inner Inner) (int, error) {
	classIndex, err := g.EnsureClass(className)
	if err != nil {
		return 0, err
	}
	fields, err := g.ResolveFields(classIndex)
	if err != nil {
		return 0, err
	}
	return g.NewObject(NewObject(classIndex, fields, inner))
}

// NewInstance allocates a plain instance of the named class.
func (g *Global) NewInstance(className string) (int, error) {
	return g.NewInnerInstance(className, PlainInner{})
}

// NewJavaString materializes a java/lang/String instance carrying the raw
// string and queues its default <init> on the init thread.
func (g *Global) NewJavaString(value string) (int, error) {
	index, err := g.NewInnerInstance(JavaString, StringInner{Value: value})
	if err != nil {
		return 0, err
	}
	if err := g.DefaultInit(index); err != nil {
		return 0, err
	}
	return index, nil
}

// DefaultInit queues the default <init> for the object at index on the
// init thread.
func (g *Global) DefaultInit(index int) error {
	obj, err := g.heap.Get(index)
	if err != nil {
		return err
	}
	if obj.Class == NoClass {
		return fmt.Errorf("object %d has no class: %w", index, ErrIllegalState)
	}
	loader, err := g.Loader()
	if err != nil {
		return err
	}
	return loader.DefaultInit(obj.Class, index)
}

// StringValue reads the raw payload of a string reference.
func (g *Global) StringValue(v Value) (string, error) {
	obj, err := g.GetRef(v)
	if err != nil {
		return "", err
	}
	inner, ok := obj.Inner.(StringInner)
	if !ok {
		return "", fmt.Errorf("object is not a string: %w", ErrIllegalState)
	}
	return inner.Value, nil
}

// StaticField reads a static field. When the owning class is not loaded
// yet, the class is scheduled for loading and the access fails with
// linkage-error; the caller retries once initialization has run.
func (g *Global) StaticField(ref classfile.FieldRef) (Value, error) {
	classIndex, err := g.ClassIndex(ref.Class)
	if err != nil {
		loader, lerr := g.Loader()
		if lerr != nil {
			return Value{}, lerr
		}
		if _, lerr := loader.LoadClassName(ref.Class); lerr != nil {
			return Value{}, lerr
		}
		return Value{}, fmt.Errorf("class %s not linked: %w", ref.Class, ErrLinkage)
	}
	class, err := g.ClassAt(classIndex)
	if err != nil {
		return Value{}, err
	}
	value, ok := class.Statics[ref.Name]
	if !ok {
		return Value{}, fmt.Errorf("static %s.%s: %w", ref.Class, ref.Name, ErrNoSuchField)
	}
	return value, nil
}

// SetStaticField writes a static field, with the same load-and-retry
// contract as StaticField.
func (g *Global) SetStaticField(ref classfile.FieldRef, value Value) error {
	classIndex, err := g.ClassIndex(ref.Class)
	if err != nil {
		loader, lerr := g.Loader()
		if lerr != nil {
			return lerr
		}
		if _, lerr := loader.LoadClassName(ref.Class); lerr != nil {
			return lerr
		}
		return fmt.Errorf("class %s not linked: %w", ref.Class, ErrLinkage)
	}
	class, err := g.ClassAt(classIndex)
	if err != nil {
		return err
	}
	class.Statics[ref.Name] = value
	return nil
}

// SetField writes an instance field through a reference.
func (g *Global) SetField(objRef Value, name string, value Value) error {
	obj, err := g.GetRef(objRef)
	if err != nil {
		return err
	}
	obj.Fields[name] = value
	return nil
}

// ArraySet stores a value into an array element with bounds checking.
func (g *Global) ArraySet(arrRef Value, index int32, value Value) error {
	obj, err := g.GetRef(arrRef)
	if err != nil {
		return err
	}
	arr, err := obj.Array()
	if err != nil {
		return err
	}
	if index < 0 || int(index) >= len(arr.Elements) {
		return fmt.Errorf("index %d of %d: %w", index, len(arr.Elements), ErrArrayIndexOutOfBound)
	}
	arr.Elements[index] = value
	return nil
}

// NewDeepArray recursively allocates the nested arrays of a
// multi-dimension allocation and returns a reference to the outermost one.
func (g *Global) NewDeepArray(t classfile.Type, counts []int) (Value, error) {
	if len(counts) == 0 {
		return Value{}, fmt.Errorf("multianewarray with no dimensions: %w", ErrIllegalArgument)
	}
	if counts[0] < 0 {
		return Value{}, fmt.Errorf("array length %d: %w", counts[0], ErrNegativeArraySize)
	}

	var obj *Object
	if len(counts) == 1 {
		var err error
		obj, err = NewEmptyArray(t, counts[0])
		if err != nil {
			return Value{}, err
		}
	} else {
		elem := t
		elem.Dims--
		elements := make([]Value, counts[0])
		for i := range elements {
			ref, err := g.NewDeepArray(elem, counts[1:])
			if err != nil {
				return Value{}, err
			}
			elements[i] = ref
		}
		obj = NewArrayObject(t, elements)
	}

	index, err := g.NewObject(obj)
	if err != nil {
		return Value{}, err
	}
	return RefValue(index), nil
}

// SetMainClass records the main class by name; the class must be loaded.
func (g *Global) SetMainClass(name string) error {
	index, err := g.ClassIndex(name)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.mainClass = index
	g.mu.Unlock()
	return nil
}

// MainClassIndex returns the heap index of the main class.
func (g *Global) MainClassIndex() (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.mainClass == NoClass {
		return 0, fmt.Errorf("no main class set: %w", ErrClassNotFound)
	}
	return g.mainClass, nil
}

// Method looks the method up in its declared class only.
func (g *Global) Method(ref classfile.MethodRef) (int, *classfile.Method, error) {
	classIndex, err := g.ClassIndex(ref.Class)
	if err != nil {
		return 0, nil, err
	}
	class, err := g.ClassAt(classIndex)
	if err != nil {
		return 0, nil, err
	}
	method := class.Class.FindMethod(ref.Name, ref.Descriptor)
	if method == nil {
		return 0, nil, fmt.Errorf("%s: %w", ref, ErrNoSuchMethod)
	}
	return classIndex, method, nil
}

// NativeInvoke calls the registered handler for a native method.
func (g *Global) NativeInvoke(ref classfile.MethodRef, args []Value) (Value, error) {
	native, err := g.Native()
	if err != nil {
		return Value{}, err
	}
	env := NewNativeEnv(g, args)
	return native.Invoke(ref, env)
}

// IsSubclassOf walks the super chain (and declared interfaces) of class
// name and reports whether target is reached.
func (g *Global) IsSubclassOf(name, target string) bool {
	seen := make(map[string]bool)
	queue := []string{name}
	for len(queue) > 0 {
		current := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		if current == target {
			return true
		}
		if seen[current] {
			continue
		}
		seen[current] = true

		index, err := g.ClassIndex(current)
		if err != nil {
			continue
		}
		class, err := g.ClassAt(index)
		if err != nil {
			continue
		}
		queue = append(queue, class.Class.Interfaces...)
		if class.Class.SuperClass != "" {
			queue = append(queue, class.Class.SuperClass)
		}
	}
	return false
}

// HeapTrace renders the allocated heap entries for debugging.
func (g *Global) HeapTrace() string {
	var b strings.Builder
	b.WriteString("===== Heap =====\n")
	cursor := g.heap.Cursor()
	for i := 0; i < cursor; i++ {
		obj, err := g.heap.Get(i)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "%d: ", i)
		if obj.Class != NoClass {
			if class, err := g.ClassAt(obj.Class); err == nil {
				fmt.Fprintf(&b, "%s ", class.Class.ThisClass)
			}
		}
		switch inner := obj.Inner.(type) {
		case PlainInner:
			names := make([]string, 0, len(obj.Fields))
			for name := range obj.Fields {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(&b, "%s=%s ", name, obj.Fields[name])
			}
		case StringInner:
			fmt.Fprintf(&b, "%q", inner.Value)
		case *ArrayInner:
			fmt.Fprintf(&b, "%s%v", inner.Type, inner.Elements)
		case *ClassInner:
			fmt.Fprintf(&b, "class %s", inner.Class.ThisClass)
		case *ThreadInner:
			fmt.Fprintf(&b, "thread priority=%d frames=%d", inner.Thread.Priority(), inner.Thread.FrameCount())
		case *LoaderInner:
			b.WriteString("loader")
		case *NativeInner:
			b.WriteString("native interface")
		}
		b.WriteString("\n")
	}
	b.WriteString("================\n")
	return b.String()
}
