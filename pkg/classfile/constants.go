package classfile

import (
	"fmt"
	"math"
	"unicode/utf8"
)

// Constant pool tags.
const (
	TagUtf8               = 1
	TagInteger            = 3
	TagFloat              = 4
	TagLong               = 5
	TagDouble             = 6
	TagClass              = 7
	TagString             = 8
	TagFieldRef           = 9
	TagMethodRef          = 10
	TagInterfaceMethodRef = 11
	TagNameAndType        = 12
	TagMethodHandle       = 15
	TagMethodType         = 16
	TagInvokeDynamic      = 18
)

var (
	// ErrConstantInvalid is returned for malformed or mistyped constant
	// pool references.
	ErrConstantInvalid = fmt.Errorf("constant invalid")
	// ErrStringInvalid is returned for Utf8 entries that do not decode.
	ErrStringInvalid = fmt.Errorf("string invalid")
)

// Constant is a resolved constant pool entry. Name and descriptor indices
// have been dereferenced, so entries are self-contained.
type Constant interface {
	Tag() uint8
}

// EmptyConst fills the slot after a Long or Double entry and slot zero.
// It is never referenced by bytecode.
type EmptyConst struct{}

func (EmptyConst) Tag() uint8 { return 0 }

type Utf8Const struct {
	Value string
}

func (Utf8Const) Tag() uint8 { return TagUtf8 }

type IntegerConst struct {
	Value int32
}

func (IntegerConst) Tag() uint8 { return TagInteger }

type FloatConst struct {
	Value float32
}

func (FloatConst) Tag() uint8 { return TagFloat }

type LongConst struct {
	Value int64
}

func (LongConst) Tag() uint8 { return TagLong }

type DoubleConst struct {
	Value float64
}

func (DoubleConst) Tag() uint8 { return TagDouble }

type ClassConst struct {
	Name string
}

func (ClassConst) Tag() uint8 { return TagClass }

type StringConst struct {
	Value string
}

func (StringConst) Tag() uint8 { return TagString }

// FieldRef names a field by owning class, name and descriptor.
type FieldRef struct {
	Class      string
	Name       string
	Descriptor string
}

// MethodRef names a method by owning class, name and descriptor. The three
// strings together form its identity; MethodRef is comparable and used as a
// map key in the native registry.
type MethodRef struct {
	Class      string
	Name       string
	Descriptor string
}

func (r MethodRef) String() string {
	return r.Class + "." + r.Name + ":" + r.Descriptor
}

type FieldRefConst struct {
	Ref FieldRef
}

func (FieldRefConst) Tag() uint8 { return TagFieldRef }

type MethodRefConst struct {
	Ref MethodRef
	// Desc is the parsed descriptor, cached at resolution time.
	Desc *Descriptor
}

func (MethodRefConst) Tag() uint8 { return TagMethodRef }

type InterfaceMethodRefConst struct {
	Ref  MethodRef
	Desc *Descriptor
}

func (InterfaceMethodRefConst) Tag() uint8 { return TagInterfaceMethodRef }

type NameAndTypeConst struct {
	Name       string
	Descriptor string
}

func (NameAndTypeConst) Tag() uint8 { return TagNameAndType }

type MethodHandleConst struct {
	Kind  uint8
	Index uint16
}

func (MethodHandleConst) Tag() uint8 { return TagMethodHandle }

type MethodTypeConst struct {
	Descriptor string
}

func (MethodTypeConst) Tag() uint8 { return TagMethodType }

type InvokeDynamicConst struct {
	BootstrapIndex uint16
	Name           string
	Descriptor     string
}

func (InvokeDynamicConst) Tag() uint8 { return TagInvokeDynamic }

// rawConst is a constant pool entry as read from the stream, before name
// and descriptor indices are dereferenced.
type rawConst struct {
	tag   uint8
	utf8  string
	i32   int32
	f32   float32
	i64   int64
	f64   float64
	kind  uint8
	left  uint16 // name / class / string / bootstrap / reference index
	right uint16 // name-and-type / descriptor index
}

// parseConstantPool reads count-1 logical entries. The returned slice is
// 1-indexed: slot 0 is an empty filler, and the slot after each Long or
// Double entry is an empty filler too.
func parseConstantPool(s *Stream, count uint16) ([]rawConst, error) {
	pool := make([]rawConst, count)

	for i := uint16(1); i < count; i++ {
		tag, err := s.ReadU8()
		if err != nil {
			return nil, fmt.Errorf("reading tag at index %d: %w", i, err)
		}
		raw := rawConst{tag: tag}

		switch tag {
		case TagUtf8:
			length, err := s.ReadU16()
			if err != nil {
				return nil, fmt.Errorf("reading Utf8 length at index %d: %w", i, err)
			}
			data, err := s.ReadBytes(int(length))
			if err != nil {
				return nil, fmt.Errorf("reading Utf8 bytes at index %d: %w", i, err)
			}
			if !utf8.Valid(data) {
				return nil, fmt.Errorf("Utf8 at index %d: %w", i, ErrStringInvalid)
			}
			raw.utf8 = string(data)

		case TagInteger:
			bits, err := s.ReadU32()
			if err != nil {
				return nil, fmt.Errorf("reading Integer at index %d: %w", i, err)
			}
			raw.i32 = int32(bits)

		case TagFloat:
			bits, err := s.ReadU32()
			if err != nil {
				return nil, fmt.Errorf("reading Float at index %d: %w", i, err)
			}
			raw.f32 = math.Float32frombits(bits)

		case TagLong:
			hi, err := s.ReadU32()
			if err != nil {
				return nil, fmt.Errorf("reading Long at index %d: %w", i, err)
			}
			lo, err := s.ReadU32()
			if err != nil {
				return nil, fmt.Errorf("reading Long at index %d: %w", i, err)
			}
			raw.i64 = int64(uint64(hi)<<32 | uint64(lo))

		case TagDouble:
			hi, err := s.ReadU32()
			if err != nil {
				return nil, fmt.Errorf("reading Double at index %d: %w", i, err)
			}
			lo, err := s.ReadU32()
			if err != nil {
				return nil, fmt.Errorf("reading Double at index %d: %w", i, err)
			}
			raw.f64 = math.Float64frombits(uint64(hi)<<32 | uint64(lo))

		case TagClass, TagString:
			idx, err := s.ReadU16()
			if err != nil {
				return nil, fmt.Errorf("reading tag %d at index %d: %w", tag, i, err)
			}
			raw.left = idx

		case TagFieldRef, TagMethodRef, TagInterfaceMethodRef, TagNameAndType, TagInvokeDynamic:
			left, err := s.ReadU16()
			if err != nil {
				return nil, fmt.Errorf("reading tag %d at index %d: %w", tag, i, err)
			}
			right, err := s.ReadU16()
			if err != nil {
				return nil, fmt.Errorf("reading tag %d at index %d: %w", tag, i, err)
			}
			raw.left = left
			raw.right = right

		case TagMethodHandle:
			kind, err := s.ReadU8()
			if err != nil {
				return nil, fmt.Errorf("reading MethodHandle at index %d: %w", i, err)
			}
			idx, err := s.ReadU16()
			if err != nil {
				return nil, fmt.Errorf("reading MethodHandle at index %d: %w", i, err)
			}
			raw.kind = kind
			raw.left = idx

		case TagMethodType:
			idx, err := s.ReadU16()
			if err != nil {
				return nil, fmt.Errorf("reading MethodType at index %d: %w", i, err)
			}
			raw.left = idx

		default:
			return nil, fmt.Errorf("tag %d at index %d: %w", tag, i, ErrConstantInvalid)
		}

		pool[i] = raw

		// Long and Double occupy two slots; the second stays empty.
		if tag == TagLong || tag == TagDouble {
			i++
		}
	}

	return pool, nil
}

// utf8At dereferences a Utf8 entry in the raw pool.
func utf8At(pool []rawConst, index uint16) (string, error) {
	if int(index) >= len(pool) || pool[index].tag != TagUtf8 {
		return "", fmt.Errorf("index %d is not Utf8: %w", index, ErrConstantInvalid)
	}
	return pool[index].utf8, nil
}

// classNameAt dereferences a Class entry in the raw pool.
func classNameAt(pool []rawConst, index uint16) (string, error) {
	if int(index) >= len(pool) || pool[index].tag != TagClass {
		return "", fmt.Errorf("index %d is not Class: %w", index, ErrConstantInvalid)
	}
	return utf8At(pool, pool[index].left)
}

// nameAndTypeAt dereferences a NameAndType entry in the raw pool.
func nameAndTypeAt(pool []rawConst, index uint16) (string, string, error) {
	if int(index) >= len(pool) || pool[index].tag != TagNameAndType {
		return "", "", fmt.Errorf("index %d is not NameAndType: %w", index, ErrConstantInvalid)
	}
	name, err := utf8At(pool, pool[index].left)
	if err != nil {
		return "", "", err
	}
	desc, err := utf8At(pool, pool[index].right)
	if err != nil {
		return "", "", err
	}
	return name, desc, nil
}

// resolveConstantPool turns the raw pool into self-contained constants.
func resolveConstantPool(pool []rawConst) ([]Constant, error) {
	out := make([]Constant, len(pool))
	out[0] = EmptyConst{}

	for i := 1; i < len(pool); i++ {
		raw := pool[i]
		switch raw.tag {
		case 0:
			out[i] = EmptyConst{}
		case TagUtf8:
			out[i] = Utf8Const{Value: raw.utf8}
		case TagInteger:
			out[i] = IntegerConst{Value: raw.i32}
		case TagFloat:
			out[i] = FloatConst{Value: raw.f32}
		case TagLong:
			out[i] = LongConst{Value: raw.i64}
		case TagDouble:
			out[i] = DoubleConst{Value: raw.f64}
		case TagClass:
			name, err := utf8At(pool, raw.left)
			if err != nil {
				return nil, fmt.Errorf("resolving Class at index %d: %w", i, err)
			}
			out[i] = ClassConst{Name: name}
		case TagString:
			value, err := utf8At(pool, raw.left)
			if err != nil {
				return nil, fmt.Errorf("resolving String at index %d: %w", i, err)
			}
			out[i] = StringConst{Value: value}
		case TagFieldRef:
			class, err := classNameAt(pool, raw.left)
			if err != nil {
				return nil, fmt.Errorf("resolving FieldRef at index %d: %w", i, err)
			}
			name, desc, err := nameAndTypeAt(pool, raw.right)
			if err != nil {
				return nil, fmt.Errorf("resolving FieldRef at index %d: %w", i, err)
			}
			out[i] = FieldRefConst{Ref: FieldRef{Class: class, Name: name, Descriptor: desc}}
		case TagMethodRef, TagInterfaceMethodRef:
			class, err := classNameAt(pool, raw.left)
			if err != nil {
				return nil, fmt.Errorf("resolving method ref at index %d: %w", i, err)
			}
			name, desc, err := nameAndTypeAt(pool, raw.right)
			if err != nil {
				return nil, fmt.Errorf("resolving method ref at index %d: %w", i, err)
			}
			parsed, err := ParseDescriptor(desc)
			if err != nil {
				return nil, fmt.Errorf("resolving method ref at index %d: %w", i, err)
			}
			ref := MethodRef{Class: class, Name: name, Descriptor: desc}
			if raw.tag == TagMethodRef {
				out[i] = MethodRefConst{Ref: ref, Desc: parsed}
			} else {
				out[i] = InterfaceMethodRefConst{Ref: ref, Desc: parsed}
			}
		case TagNameAndType:
			name, err := utf8At(pool, raw.left)
			if err != nil {
				return nil, fmt.Errorf("resolving NameAndType at index %d: %w", i, err)
			}
			desc, err := utf8At(pool, raw.right)
			if err != nil {
				return nil, fmt.Errorf("resolving NameAndType at index %d: %w", i, err)
			}
			out[i] = NameAndTypeConst{Name: name, Descriptor: desc}
		case TagMethodHandle:
			out[i] = MethodHandleConst{Kind: raw.kind, Index: raw.left}
		case TagMethodType:
			desc, err := utf8At(pool, raw.left)
			if err != nil {
				return nil, fmt.Errorf("resolving MethodType at index %d: %w", i, err)
			}
			out[i] = MethodTypeConst{Descriptor: desc}
		case TagInvokeDynamic:
			name, desc, err := nameAndTypeAt(pool, raw.right)
			if err != nil {
				return nil, fmt.Errorf("resolving InvokeDynamic at index %d: %w", i, err)
			}
			out[i] = InvokeDynamicConst{BootstrapIndex: raw.left, Name: name, Descriptor: desc}
		default:
			return nil, fmt.Errorf("tag %d at index %d: %w", raw.tag, i, ErrConstantInvalid)
		}
	}

	return out, nil
}
