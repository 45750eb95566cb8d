// Package classgen builds small, valid class files in memory. It exists
// for tests: loader and interpreter tests need real class bytes without
// shipping compiled .class binaries.
package classgen

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Handler is one exception-table row. CatchClass empty means catch-all.
type Handler struct {
	Start      uint16
	End        uint16
	Handler    uint16
	CatchClass string
}

// Method is a method under construction.
type Method struct {
	Flags     uint16
	Name      string
	Desc      string
	MaxStack  uint16
	MaxLocals uint16
	Code      []byte
	Handlers  []Handler
}

type field struct {
	flags uint16
	name  string
	desc  string
}

type cpEntry struct {
	data []byte // serialized entry, tag included
	wide bool
}

// Builder assembles a class file. Constants are interned on demand, so
// code can embed pool indices obtained from the Ref helpers before the
// final bytes are produced.
type Builder struct {
	name       string
	super      string
	flags      uint16
	interfaces []string
	fields     []field
	methods    []Method

	entries []cpEntry
	interned map[string]uint16
	nextSlot uint16
}

// AccPublic and friends mirror the class file access bits tests need.
const (
	AccPublic = 0x0001
	AccStatic = 0x0008
	AccSuper  = 0x0020
	AccNative = 0x0100
)

// New starts a class with the given internal name and superclass. An
// empty super produces a zero super index (only java/lang/Object).
func New(name, super string) *Builder {
	b := &Builder{
		name:     name,
		super:    super,
		flags:    AccPublic | AccSuper,
		interned: make(map[string]uint16),
		nextSlot: 1,
	}
	return b
}

// Flags overrides the class access flags.
func (b *Builder) Flags(flags uint16) *Builder {
	b.flags = flags
	return b
}

// AddInterface declares a direct interface.
func (b *Builder) AddInterface(name string) *Builder {
	b.interfaces = append(b.interfaces, name)
	return b
}

// AddField declares a field.
func (b *Builder) AddField(flags uint16, name, desc string) *Builder {
	b.fields = append(b.fields, field{flags: flags, name: name, desc: desc})
	return b
}

// AddMethod declares a method. Native methods and methods with nil Code
// get no Code attribute.
func (b *Builder) AddMethod(m Method) *Builder {
	b.methods = append(b.methods, m)
	return b
}

// DefaultInit appends the canonical default constructor: either a bare
// return (for java/lang/Object) or super.<init>() then return.
func (b *Builder) DefaultInit() *Builder {
	if b.super == "" {
		return b.AddMethod(Method{
			Flags: AccPublic, Name: "<init>", Desc: "()V",
			MaxStack: 1, MaxLocals: 1,
			Code: []byte{0xB1}, // return
		})
	}
	superInit := b.MethodRef(b.super, "<init>", "()V")
	return b.AddMethod(Method{
		Flags: AccPublic, Name: "<init>", Desc: "()V",
		MaxStack: 1, MaxLocals: 1,
		Code: []byte{
			0x2A,                                     // aload_0
			0xB7, byte(superInit >> 8), byte(superInit), // invokespecial super.<init>
			0xB1, // return
		},
	})
}

func (b *Builder) intern(key string, wide bool, data []byte) uint16 {
	if index, ok := b.interned[key]; ok {
		return index
	}
	index := b.nextSlot
	b.entries = append(b.entries, cpEntry{data: data, wide: wide})
	b.interned[key] = index
	if wide {
		b.nextSlot += 2
	} else {
		b.nextSlot++
	}
	return index
}

// Utf8 interns a Utf8 constant and returns its index.
func (b *Builder) Utf8(value string) uint16 {
	data := make([]byte, 3+len(value))
	data[0] = 1
	binary.BigEndian.PutUint16(data[1:], uint16(len(value)))
	copy(data[3:], value)
	return b.intern("u:"+value, false, data)
}

// Class interns a Class constant and returns its index.
func (b *Builder) Class(name string) uint16 {
	utf8 := b.Utf8(name)
	data := []byte{7, byte(utf8 >> 8), byte(utf8)}
	return b.intern("c:"+name, false, data)
}

// StringConst interns a String constant.
func (b *Builder) StringConst(value string) uint16 {
	utf8 := b.Utf8(value)
	data := []byte{8, byte(utf8 >> 8), byte(utf8)}
	return b.intern("s:"+value, false, data)
}

// Integer interns an Integer constant.
func (b *Builder) Integer(value int32) uint16 {
	data := make([]byte, 5)
	data[0] = 3
	binary.BigEndian.PutUint32(data[1:], uint32(value))
	return b.intern(fmt.Sprintf("i:%d", value), false, data)
}

// Long interns a Long constant (two pool slots).
func (b *Builder) Long(value int64) uint16 {
	data := make([]byte, 9)
	data[0] = 5
	binary.BigEndian.PutUint64(data[1:], uint64(value))
	return b.intern(fmt.Sprintf("j:%d", value), true, data)
}

// Double interns a Double constant (two pool slots).
func (b *Builder) Double(value float64) uint16 {
	data := make([]byte, 9)
	data[0] = 6
	binary.BigEndian.PutUint64(data[1:], math.Float64bits(value))
	return b.intern(fmt.Sprintf("d:%g", value), true, data)
}

func (b *Builder) nameAndType(name, desc string) uint16 {
	nameIdx := b.Utf8(name)
	descIdx := b.Utf8(desc)
	data := []byte{12, byte(nameIdx >> 8), byte(nameIdx), byte(descIdx >> 8), byte(descIdx)}
	return b.intern("nt:"+name+":"+desc, false, data)
}

// MethodRef interns a MethodRef constant.
func (b *Builder) MethodRef(class, name, desc string) uint16 {
	classIdx := b.Class(class)
	natIdx := b.nameAndType(name, desc)
	data := []byte{10, byte(classIdx >> 8), byte(classIdx), byte(natIdx >> 8), byte(natIdx)}
	return b.intern("m:"+class+"."+name+":"+desc, false, data)
}

// InterfaceMethodRef interns an InterfaceMethodRef constant.
func (b *Builder) InterfaceMethodRef(class, name, desc string) uint16 {
	classIdx := b.Class(class)
	natIdx := b.nameAndType(name, desc)
	data := []byte{11, byte(classIdx >> 8), byte(classIdx), byte(natIdx >> 8), byte(natIdx)}
	return b.intern("im:"+class+"."+name+":"+desc, false, data)
}

// FieldRef interns a FieldRef constant.
func (b *Builder) FieldRef(class, name, desc string) uint16 {
	classIdx := b.Class(class)
	natIdx := b.nameAndType(name, desc)
	data := []byte{9, byte(classIdx >> 8), byte(classIdx), byte(natIdx >> 8), byte(natIdx)}
	return b.intern("f:"+class+"."+name+":"+desc, false, data)
}

// Bytes serializes the class file.
func (b *Builder) Bytes() []byte {
	// Intern everything the tables reference before freezing the pool.
	thisIdx := b.Class(b.name)
	superIdx := uint16(0)
	if b.super != "" {
		superIdx = b.Class(b.super)
	}
	ifaceIdx := make([]uint16, len(b.interfaces))
	for i, name := range b.interfaces {
		ifaceIdx[i] = b.Class(name)
	}
	codeAttr := b.Utf8("Code")
	for _, f := range b.fields {
		b.Utf8(f.name)
		b.Utf8(f.desc)
	}
	for _, m := range b.methods {
		b.Utf8(m.Name)
		b.Utf8(m.Desc)
		for _, h := range m.Handlers {
			if h.CatchClass != "" {
				b.Class(h.CatchClass)
			}
		}
	}

	var out []byte
	u16 := func(v uint16) { out = binary.BigEndian.AppendUint16(out, v) }
	u32 := func(v uint32) { out = binary.BigEndian.AppendUint32(out, v) }

	u32(0xCAFEBABE)
	u16(0)  // minor
	u16(52) // major (Java 8)

	u16(b.nextSlot)
	for _, entry := range b.entries {
		out = append(out, entry.data...)
	}

	u16(b.flags)
	u16(thisIdx)
	u16(superIdx)

	u16(uint16(len(ifaceIdx)))
	for _, idx := range ifaceIdx {
		u16(idx)
	}

	u16(uint16(len(b.fields)))
	for _, f := range b.fields {
		u16(f.flags)
		u16(b.Utf8(f.name))
		u16(b.Utf8(f.desc))
		u16(0) // no attributes
	}

	u16(uint16(len(b.methods)))
	for _, m := range b.methods {
		u16(m.Flags)
		u16(b.Utf8(m.Name))
		u16(b.Utf8(m.Desc))
		if m.Flags&AccNative != 0 || m.Code == nil {
			u16(0)
			continue
		}
		u16(1) // one attribute: Code

		body := make([]byte, 0, 12+len(m.Code)+8*len(m.Handlers))
		body = binary.BigEndian.AppendUint16(body, m.MaxStack)
		body = binary.BigEndian.AppendUint16(body, m.MaxLocals)
		body = binary.BigEndian.AppendUint32(body, uint32(len(m.Code)))
		body = append(body, m.Code...)
		body = binary.BigEndian.AppendUint16(body, uint16(len(m.Handlers)))
		for _, h := range m.Handlers {
			body = binary.BigEndian.AppendUint16(body, h.Start)
			body = binary.BigEndian.AppendUint16(body, h.End)
			body = binary.BigEndian.AppendUint16(body, h.Handler)
			catch := uint16(0)
			if h.CatchClass != "" {
				catch = b.Class(h.CatchClass)
			}
			body = binary.BigEndian.AppendUint16(body, catch)
		}
		body = binary.BigEndian.AppendUint16(body, 0) // no nested attributes

		u16(codeAttr)
		u32(uint32(len(body)))
		out = append(out, body...)
	}

	u16(0) // no class attributes
	return out
}
