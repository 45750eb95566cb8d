package classfile

import (
	"fmt"
	"strings"
)

// BaseKind identifies one of the eight JVM primitives, void, or an object
// reference by internal class name.
type BaseKind int

const (
	KindByte BaseKind = iota
	KindChar
	KindDouble
	KindFloat
	KindInt
	KindLong
	KindShort
	KindBoolean
	KindVoid
	KindObject
)

var baseKindChars = map[BaseKind]byte{
	KindByte:    'B',
	KindChar:    'C',
	KindDouble:  'D',
	KindFloat:   'F',
	KindInt:     'I',
	KindLong:    'J',
	KindShort:   'S',
	KindBoolean: 'Z',
	KindVoid:    'V',
}

// Type is a descriptor element: a single type, or an array of a single type
// with a dimension count. Dims == 0 means a plain single type.
type Type struct {
	Kind BaseKind
	Name string // internal class name, set only for KindObject
	Dims int
}

// ObjectType builds a plain object reference type.
func ObjectType(name string) Type {
	return Type{Kind: KindObject, Name: name}
}

// SingleType builds a plain primitive or void type.
func SingleType(kind BaseKind) Type {
	return Type{Kind: kind}
}

// IsWide reports whether the type occupies two constant-pool or stack slots.
func (t Type) IsWide() bool {
	return t.Dims == 0 && (t.Kind == KindLong || t.Kind == KindDouble)
}

// String renders the type back into descriptor syntax.
func (t Type) String() string {
	var b strings.Builder
	for i := 0; i < t.Dims; i++ {
		b.WriteByte('[')
	}
	if t.Kind == KindObject {
		b.WriteByte('L')
		b.WriteString(t.Name)
		b.WriteByte(';')
	} else {
		b.WriteByte(baseKindChars[t.Kind])
	}
	return b.String()
}

// Descriptor is the parsed form of a JVM field or method signature: an
// ordered parameter list plus one return type. Field descriptors parse to a
// descriptor with no parameters whose Return is the field type.
type Descriptor struct {
	Parameters []Type
	Return     Type
}

// VoidDescriptor is the parsed form of "()V", used for <clinit> and the
// default <init>.
func VoidDescriptor() *Descriptor {
	return &Descriptor{Return: SingleType(KindVoid)}
}

// ParseDescriptor parses a field or method descriptor.
func ParseDescriptor(raw string) (*Descriptor, error) {
	data := []byte(raw)
	d := &Descriptor{}
	offset := 0

	if len(data) == 0 {
		return nil, fmt.Errorf("empty descriptor")
	}

	if data[0] == '(' {
		offset = 1
		for {
			if offset >= len(data) {
				return nil, fmt.Errorf("descriptor %q: missing ')'", raw)
			}
			if data[offset] == ')' {
				offset++
				break
			}
			t, next, err := parseType(data, offset)
			if err != nil {
				return nil, fmt.Errorf("descriptor %q: %w", raw, err)
			}
			d.Parameters = append(d.Parameters, t)
			offset = next
		}
	}

	ret, next, err := parseType(data, offset)
	if err != nil {
		return nil, fmt.Errorf("descriptor %q: %w", raw, err)
	}
	if next != len(data) {
		return nil, fmt.Errorf("descriptor %q: trailing bytes", raw)
	}
	d.Return = ret
	return d, nil
}

func parseType(data []byte, offset int) (Type, int, error) {
	if offset >= len(data) {
		return Type{}, 0, ErrOutOfBound
	}
	tag := data[offset]
	offset++

	switch tag {
	case 'B':
		return SingleType(KindByte), offset, nil
	case 'C':
		return SingleType(KindChar), offset, nil
	case 'D':
		return SingleType(KindDouble), offset, nil
	case 'F':
		return SingleType(KindFloat), offset, nil
	case 'I':
		return SingleType(KindInt), offset, nil
	case 'J':
		return SingleType(KindLong), offset, nil
	case 'S':
		return SingleType(KindShort), offset, nil
	case 'Z':
		return SingleType(KindBoolean), offset, nil
	case 'V':
		return SingleType(KindVoid), offset, nil
	case 'L':
		start := offset
		for offset < len(data) && data[offset] != ';' {
			offset++
		}
		if offset >= len(data) {
			return Type{}, 0, fmt.Errorf("object type missing ';'")
		}
		name := string(data[start:offset])
		return ObjectType(name), offset + 1, nil
	case '[':
		dims := 1
		for offset < len(data) && data[offset] == '[' {
			dims++
			offset++
		}
		elem, next, err := parseType(data, offset)
		if err != nil {
			return Type{}, 0, err
		}
		if elem.Dims != 0 {
			return Type{}, 0, fmt.Errorf("nested array element")
		}
		elem.Dims = dims
		return elem, next, nil
	default:
		return Type{}, 0, fmt.Errorf("unknown type tag %q", tag)
	}
}

// String renders the descriptor back into its textual form.
func (d *Descriptor) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for _, p := range d.Parameters {
		b.WriteString(p.String())
	}
	b.WriteByte(')')
	b.WriteString(d.Return.String())
	return b.String()
}

// IsVoid reports whether the descriptor returns void.
func (d *Descriptor) IsVoid() bool {
	return d.Return.Dims == 0 && d.Return.Kind == KindVoid
}
