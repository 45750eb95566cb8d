package vm

import (
	"fmt"

	"github.com/cafebabe-vm/cafebabe/pkg/classfile"
)

// NoClass marks an object without a class pointer (arrays and raw internal
// objects).
const NoClass = -1

// Inner is the runtime payload of a heap object.
type Inner interface {
	isInner()
}

// PlainInner marks an ordinary instance whose state lives entirely in its
// fields map.
type PlainInner struct{}

func (PlainInner) isInner() {}

// StringInner carries the raw payload of a java/lang/String instance.
type StringInner struct {
	Value string
}

func (StringInner) isInner() {}

// ArrayInner is a dense value sequence. Type is the array's own descriptor
// type (element kind plus dimension count), kept so instanceof can check
// array shapes.
type ArrayInner struct {
	Type     classfile.Type
	Elements []Value
}

func (*ArrayInner) isInner() {}

// ThreadInner wraps an execution thread.
type ThreadInner struct {
	Thread *Thread
}

func (*ThreadInner) isInner() {}

// LoaderInner wraps the class loader. Only one exists per VM.
type LoaderInner struct {
	Loader *Loader
}

func (*LoaderInner) isInner() {}

// NativeInner wraps the native method registry. Only one exists per VM.
type NativeInner struct {
	Registry *NativeInterface
}

func (*NativeInner) isInner() {}

// ClassInner carries class metadata and the class's static field map.
type ClassInner struct {
	Class   *classfile.Class
	Statics map[string]Value
}

func (*ClassInner) isInner() {}

// NewClassInner wraps metadata, pre-populating the statics map with an
// entry per declared static field.
func NewClassInner(class *classfile.Class) *ClassInner {
	statics := make(map[string]Value)
	for _, name := range class.StaticFieldNames() {
		statics[name] = NullValue()
	}
	return &ClassInner{Class: class, Statics: statics}
}

// Object is a heap entry: an optional class pointer, the instance field
// map, and the inner payload.
type Object struct {
	Class  int
	Fields map[string]Value
	Inner  Inner
}

// NewObject builds an instance of the class at classIndex. The fields map
// is pre-populated with one entry per name, covering the class and all its
// superclasses.
func NewObject(classIndex int, fieldNames []string, inner Inner) *Object {
	fields := make(map[string]Value, len(fieldNames))
	for _, name := range fieldNames {
		fields[name] = NullValue()
	}
	return &Object{Class: classIndex, Fields: fields, Inner: inner}
}

// NewArrayObject wraps an existing element slice as a classless array.
func NewArrayObject(t classfile.Type, elements []Value) *Object {
	return &Object{
		Class:  NoClass,
		Fields: make(map[string]Value),
		Inner:  &ArrayInner{Type: t, Elements: elements},
	}
}

// NewEmptyArray builds a classless array of the given length, filled with
// the element type's default value. A negative length fails with
// negative-array-size.
func NewEmptyArray(t classfile.Type, length int) (*Object, error) {
	if length < 0 {
		return nil, fmt.Errorf("array length %d: %w", length, ErrNegativeArraySize)
	}
	elem := t
	elem.Dims--
	elements := make([]Value, length)
	for i := range elements {
		elements[i] = defaultValue(elem)
	}
	return NewArrayObject(t, elements), nil
}

// defaultValue returns the zero value for a descriptor type.
func defaultValue(t classfile.Type) Value {
	if t.Dims > 0 {
		return NullValue()
	}
	switch t.Kind {
	case classfile.KindBoolean:
		return BoolValue(false)
	case classfile.KindByte:
		return ByteValue(0)
	case classfile.KindChar:
		return CharValue(0)
	case classfile.KindShort:
		return ShortValue(0)
	case classfile.KindInt:
		return IntValue(0)
	case classfile.KindLong:
		return LongValue(0)
	case classfile.KindFloat:
		return FloatValue(0)
	case classfile.KindDouble:
		return DoubleValue(0)
	default:
		return NullValue()
	}
}

// Array returns the object's array payload, or an error when the object is
// not an array.
func (o *Object) Array() (*ArrayInner, error) {
	arr, ok := o.Inner.(*ArrayInner)
	if !ok {
		return nil, fmt.Errorf("object is not an array: %w", ErrIllegalState)
	}
	return arr, nil
}
