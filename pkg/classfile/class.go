package classfile

import "fmt"

const classMagic = 0xCAFEBABE

var (
	// ErrBadMagic is returned when the stream does not start with 0xCAFEBABE.
	ErrBadMagic = fmt.Errorf("bad magic")
	// ErrClassFormat is returned for structurally broken class files.
	ErrClassFormat = fmt.Errorf("class format error")
)

// Field is a resolved field declaration.
type Field struct {
	AccessFlags AccessFlags
	Name        string
	Descriptor  string
	Desc        *Descriptor
	Attributes  []Attribute
}

// Method is a resolved method declaration.
type Method struct {
	AccessFlags AccessFlags
	Name        string
	Descriptor  string
	Desc        *Descriptor
	Attributes  []Attribute
}

// Code returns the method's Code attribute, or nil for native and abstract
// methods.
func (m *Method) Code() *CodeAttr {
	for i := range m.Attributes {
		if code, ok := m.Attributes[i].Body.(*CodeAttr); ok {
			return code
		}
	}
	return nil
}

// Ref returns the method's own reference.
func (m *Method) Ref(class string) MethodRef {
	return MethodRef{Class: class, Name: m.Name, Descriptor: m.Descriptor}
}

// Class is the resolved, fully dereferenced form of a class file.
type Class struct {
	MinorVersion uint16
	MajorVersion uint16
	ConstantPool []Constant
	AccessFlags  AccessFlags
	ThisClass    string
	SuperClass   string // empty only for java/lang/Object
	Interfaces   []string
	Fields       []Field
	Methods      []Method
	Attributes   []Attribute
}

// Parse decodes a class file from its raw bytes.
func Parse(data []byte) (*Class, error) {
	s := NewStream(data)

	magic, err := s.ReadU32()
	if err != nil {
		return nil, fmt.Errorf("reading magic: %w", err)
	}
	if magic != classMagic {
		return nil, fmt.Errorf("magic 0x%08X: %w", magic, ErrBadMagic)
	}

	c := &Class{}
	if c.MinorVersion, err = s.ReadU16(); err != nil {
		return nil, fmt.Errorf("reading minor version: %w", err)
	}
	if c.MajorVersion, err = s.ReadU16(); err != nil {
		return nil, fmt.Errorf("reading major version: %w", err)
	}

	cpCount, err := s.ReadU16()
	if err != nil {
		return nil, fmt.Errorf("reading constant pool count: %w", err)
	}
	if cpCount == 0 {
		return nil, fmt.Errorf("constant pool count zero: %w", ErrClassFormat)
	}
	rawPool, err := parseConstantPool(s, cpCount)
	if err != nil {
		return nil, fmt.Errorf("parsing constant pool: %w", err)
	}
	if c.ConstantPool, err = resolveConstantPool(rawPool); err != nil {
		return nil, fmt.Errorf("resolving constant pool: %w", err)
	}

	flags, err := s.ReadU16()
	if err != nil {
		return nil, fmt.Errorf("reading access flags: %w", err)
	}
	c.AccessFlags = AccessFlags(flags)

	thisIndex, err := s.ReadU16()
	if err != nil {
		return nil, fmt.Errorf("reading this_class: %w", err)
	}
	if c.ThisClass, err = classNameAt(rawPool, thisIndex); err != nil {
		return nil, fmt.Errorf("resolving this_class: %w", err)
	}

	superIndex, err := s.ReadU16()
	if err != nil {
		return nil, fmt.Errorf("reading super_class: %w", err)
	}
	// A zero super index means no superclass; only java/lang/Object may
	// carry it.
	if superIndex != 0 {
		if c.SuperClass, err = classNameAt(rawPool, superIndex); err != nil {
			return nil, fmt.Errorf("resolving super_class: %w", err)
		}
	}

	ifaceCount, err := s.ReadU16()
	if err != nil {
		return nil, fmt.Errorf("reading interfaces count: %w", err)
	}
	c.Interfaces = make([]string, ifaceCount)
	for i := uint16(0); i < ifaceCount; i++ {
		idx, err := s.ReadU16()
		if err != nil {
			return nil, fmt.Errorf("reading interface %d: %w", i, err)
		}
		if c.Interfaces[i], err = classNameAt(rawPool, idx); err != nil {
			return nil, fmt.Errorf("resolving interface %d: %w", i, err)
		}
	}

	fieldCount, err := s.ReadU16()
	if err != nil {
		return nil, fmt.Errorf("reading fields count: %w", err)
	}
	if c.Fields, err = parseFields(s, rawPool, fieldCount); err != nil {
		return nil, fmt.Errorf("parsing fields: %w", err)
	}

	methodCount, err := s.ReadU16()
	if err != nil {
		return nil, fmt.Errorf("reading methods count: %w", err)
	}
	if c.Methods, err = parseMethods(s, rawPool, methodCount); err != nil {
		return nil, fmt.Errorf("parsing methods: %w", err)
	}

	attrCount, err := s.ReadU16()
	if err != nil {
		return nil, fmt.Errorf("reading attributes count: %w", err)
	}
	if c.Attributes, err = parseAttributes(s, rawPool, attrCount); err != nil {
		return nil, fmt.Errorf("parsing class attributes: %w", err)
	}

	return c, nil
}

func parseFields(s *Stream, pool []rawConst, count uint16) ([]Field, error) {
	fields := make([]Field, count)
	for i := uint16(0); i < count; i++ {
		flags, name, desc, attrs, err := parseMember(s, pool)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
		parsed, err := ParseDescriptor(desc)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
		fields[i] = Field{
			AccessFlags: flags,
			Name:        name,
			Descriptor:  desc,
			Desc:        parsed,
			Attributes:  attrs,
		}
	}
	return fields, nil
}

func parseMethods(s *Stream, pool []rawConst, count uint16) ([]Method, error) {
	methods := make([]Method, count)
	for i := uint16(0); i < count; i++ {
		flags, name, desc, attrs, err := parseMember(s, pool)
		if err != nil {
			return nil, fmt.Errorf("method %d: %w", i, err)
		}
		parsed, err := ParseDescriptor(desc)
		if err != nil {
			return nil, fmt.Errorf("method %d: %w", i, err)
		}
		methods[i] = Method{
			AccessFlags: flags,
			Name:        name,
			Descriptor:  desc,
			Desc:        parsed,
			Attributes:  attrs,
		}
	}
	return methods, nil
}

func parseMember(s *Stream, pool []rawConst) (AccessFlags, string, string, []Attribute, error) {
	flags, err := s.ReadU16()
	if err != nil {
		return 0, "", "", nil, fmt.Errorf("reading access flags: %w", err)
	}
	nameIndex, err := s.ReadU16()
	if err != nil {
		return 0, "", "", nil, fmt.Errorf("reading name index: %w", err)
	}
	descIndex, err := s.ReadU16()
	if err != nil {
		return 0, "", "", nil, fmt.Errorf("reading descriptor index: %w", err)
	}
	attrCount, err := s.ReadU16()
	if err != nil {
		return 0, "", "", nil, fmt.Errorf("reading attribute count: %w", err)
	}

	name, err := utf8At(pool, nameIndex)
	if err != nil {
		return 0, "", "", nil, fmt.Errorf("resolving name: %w", err)
	}
	desc, err := utf8At(pool, descIndex)
	if err != nil {
		return 0, "", "", nil, fmt.Errorf("resolving descriptor: %w", err)
	}
	attrs, err := parseAttributes(s, pool, attrCount)
	if err != nil {
		return 0, "", "", nil, err
	}
	return AccessFlags(flags), name, desc, attrs, nil
}

// Constant returns the constant pool entry at a 1-based index.
func (c *Class) Constant(index int) (Constant, error) {
	if index <= 0 || index >= len(c.ConstantPool) {
		return nil, fmt.Errorf("constant index %d out of range: %w", index, ErrConstantInvalid)
	}
	return c.ConstantPool[index], nil
}

// FindMethod returns the method with the given name and descriptor, or nil.
func (c *Class) FindMethod(name, descriptor string) *Method {
	for i := range c.Methods {
		if c.Methods[i].Name == name && c.Methods[i].Descriptor == descriptor {
			return &c.Methods[i]
		}
	}
	return nil
}

// MethodsNamed returns every method with the given name, in declaration
// order.
func (c *Class) MethodsNamed(name string) []*Method {
	var out []*Method
	for i := range c.Methods {
		if c.Methods[i].Name == name {
			out = append(out, &c.Methods[i])
		}
	}
	return out
}

// InstanceFieldNames returns the names of the non-static fields this class
// declares.
func (c *Class) InstanceFieldNames() []string {
	var names []string
	for i := range c.Fields {
		if !c.Fields[i].AccessFlags.Has(AccStatic) {
			names = append(names, c.Fields[i].Name)
		}
	}
	return names
}

// StaticFieldNames returns the names of the static fields this class
// declares.
func (c *Class) StaticFieldNames() []string {
	var names []string
	for i := range c.Fields {
		if c.Fields[i].AccessFlags.Has(AccStatic) {
			names = append(names, c.Fields[i].Name)
		}
	}
	return names
}

// HasInterface reports whether this class directly declares the named
// interface.
func (c *Class) HasInterface(name string) bool {
	for _, iface := range c.Interfaces {
		if iface == name {
			return true
		}
	}
	return false
}
