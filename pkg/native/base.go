// Package native provides the host-side implementations of the runtime's
// native methods: the string byte-array bridge, class introspection,
// stream I/O and randomness.
package native

import (
	"fmt"

	"github.com/cafebabe-vm/cafebabe/pkg/classfile"
	"github.com/cafebabe-vm/cafebabe/pkg/vm"
)

// rawField caches the byte-array form of a string on the instance.
const rawField = "<raw>"

var byteArrayType = classfile.Type{Kind: classfile.KindByte, Dims: 1}

// Register binds the base runtime natives: the java/lang/String byte
// bridge, Object.getClass and Class.getName.
func Register(n *vm.NativeInterface) error {
	bindings := []struct {
		ref classfile.MethodRef
		fn  vm.NativeFn
	}{
		{vm.MethodRefFor("java/lang/String", "getInternal", "()[B"), stringGetInternal},
		{vm.MethodRefFor("java/lang/String", "setInternal", "([B)V"), stringSetInternal},
		{vm.MethodRefFor("java/lang/Object", "getClass", "()Ljava/lang/Class;"), objectGetClass},
		{vm.MethodRefFor("java/lang/Class", "getName", "()Ljava/lang/String;"), classGetName},
	}
	for _, b := range bindings {
		if err := n.Register(b.ref, b.fn); err != nil {
			return err
		}
	}
	return nil
}

// stringGetInternal returns the receiver's payload as a byte array,
// caching the array on the instance.
func stringGetInternal(env *vm.NativeEnv) (vm.Value, error) {
	this := env.Variables()[0]
	obj, err := env.Object(this)
	if err != nil {
		return vm.Value{}, err
	}

	if cached, ok := obj.Fields[rawField]; ok && cached.Kind == vm.KindReference {
		return cached, nil
	}

	inner, ok := obj.Inner.(vm.StringInner)
	if !ok {
		return vm.Value{}, fmt.Errorf("String.getInternal on non-string receiver: %w", vm.ErrIllegalState)
	}

	raw := []byte(inner.Value)
	elements := make([]vm.Value, len(raw))
	for i, b := range raw {
		elements[i] = vm.ByteValue(int8(b))
	}
	index, err := env.Alloc(vm.NewArrayObject(byteArrayType, elements))
	if err != nil {
		return vm.Value{}, err
	}

	ref := vm.RefValue(index)
	obj.Fields[rawField] = ref
	return ref, nil
}

// stringSetInternal replaces the receiver's payload from a byte array.
func stringSetInternal(env *vm.NativeEnv) (vm.Value, error) {
	vars := env.Variables()
	if len(vars) < 2 {
		return vm.Value{}, fmt.Errorf("String.setInternal: missing argument: %w", vm.ErrIllegalArgument)
	}
	this := vars[0]

	arrObj, err := env.Object(vars[1])
	if err != nil {
		return vm.Value{}, err
	}
	arr, err := arrObj.Array()
	if err != nil {
		return vm.Value{}, err
	}

	raw := make([]byte, 0, len(arr.Elements))
	for _, elem := range arr.Elements {
		b, err := elem.AsByte()
		if err != nil {
			return vm.Value{}, err
		}
		raw = append(raw, byte(b.Byte))
	}

	obj, err := env.Object(this)
	if err != nil {
		return vm.Value{}, err
	}
	obj.Inner = vm.StringInner{Value: string(raw)}
	delete(obj.Fields, rawField)
	return vm.VoidValue(), nil
}

// objectGetClass returns the receiver's class object.
func objectGetClass(env *vm.NativeEnv) (vm.Value, error) {
	this := env.Variables()[0]
	obj, err := env.Object(this)
	if err != nil {
		return vm.Value{}, err
	}
	if obj.Class == vm.NoClass {
		return vm.NullValue(), nil
	}
	return vm.RefValue(obj.Class), nil
}

// classGetName returns the class's internal name as a fresh string.
func classGetName(env *vm.NativeEnv) (vm.Value, error) {
	this := env.Variables()[0]
	class, err := env.Global().ClassAt(this.Ref)
	if err != nil {
		return vm.Value{}, err
	}
	index, err := env.NewString(class.Class.ThisClass)
	if err != nil {
		return vm.Value{}, err
	}
	return vm.RefValue(index), nil
}
