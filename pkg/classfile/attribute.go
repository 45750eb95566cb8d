package classfile

import "fmt"

// Attribute is a decoded attribute. Code, LineNumberTable, SourceFile and
// Signature get structured bodies; everything else is preserved verbatim.
type Attribute struct {
	Name string
	Body AttrBody
}

// AttrBody is the decoded payload of an attribute.
type AttrBody interface {
	attrBody()
}

// RawAttr holds the bytes of an attribute this decoder does not interpret.
type RawAttr struct {
	Data []byte
}

func (RawAttr) attrBody() {}

// ExceptionEntry is one row of a Code attribute's exception table. The
// covered range is [StartPC, EndPC); CatchType zero catches everything.
type ExceptionEntry struct {
	StartPC   uint16
	EndPC     uint16
	HandlerPC uint16
	CatchType uint16
}

// CodeAttr is the Code attribute of a method.
type CodeAttr struct {
	MaxStack       uint16
	MaxLocals      uint16
	Code           []byte
	ExceptionTable []ExceptionEntry
	Attributes     []Attribute
}

func (*CodeAttr) attrBody() {}

// LineNumberEntry maps a bytecode offset to a source line.
type LineNumberEntry struct {
	StartPC uint16
	Line    uint16
}

// LineNumberTableAttr is the LineNumberTable attribute of a Code attribute.
type LineNumberTableAttr struct {
	Entries []LineNumberEntry
}

func (*LineNumberTableAttr) attrBody() {}

// SourceFileAttr names the source file the class was compiled from.
type SourceFileAttr struct {
	Name string
}

func (SourceFileAttr) attrBody() {}

// SignatureAttr carries the generic signature string.
type SignatureAttr struct {
	Signature string
}

func (SignatureAttr) attrBody() {}

func parseAttributes(s *Stream, pool []rawConst, count uint16) ([]Attribute, error) {
	attrs := make([]Attribute, count)
	for i := uint16(0); i < count; i++ {
		nameIndex, err := s.ReadU16()
		if err != nil {
			return nil, fmt.Errorf("reading attribute %d name index: %w", i, err)
		}
		length, err := s.ReadU32()
		if err != nil {
			return nil, fmt.Errorf("reading attribute %d length: %w", i, err)
		}
		data, err := s.ReadBytes(int(length))
		if err != nil {
			return nil, fmt.Errorf("reading attribute %d data: %w", i, err)
		}

		name, err := utf8At(pool, nameIndex)
		if err != nil {
			return nil, fmt.Errorf("resolving attribute %d name: %w", i, err)
		}

		body, err := parseAttrBody(name, data, pool)
		if err != nil {
			return nil, fmt.Errorf("parsing %s attribute: %w", name, err)
		}
		attrs[i] = Attribute{Name: name, Body: body}
	}
	return attrs, nil
}

func parseAttrBody(name string, data []byte, pool []rawConst) (AttrBody, error) {
	switch name {
	case "Code":
		return parseCodeAttr(data, pool)
	case "LineNumberTable":
		return parseLineNumberTable(data)
	case "SourceFile":
		s := NewStream(data)
		index, err := s.ReadU16()
		if err != nil {
			return nil, err
		}
		file, err := utf8At(pool, index)
		if err != nil {
			return nil, err
		}
		return SourceFileAttr{Name: file}, nil
	case "Signature":
		s := NewStream(data)
		index, err := s.ReadU16()
		if err != nil {
			return nil, err
		}
		sig, err := utf8At(pool, index)
		if err != nil {
			return nil, err
		}
		return SignatureAttr{Signature: sig}, nil
	default:
		return RawAttr{Data: data}, nil
	}
}

func parseCodeAttr(data []byte, pool []rawConst) (*CodeAttr, error) {
	s := NewStream(data)

	maxStack, err := s.ReadU16()
	if err != nil {
		return nil, fmt.Errorf("reading max_stack: %w", err)
	}
	maxLocals, err := s.ReadU16()
	if err != nil {
		return nil, fmt.Errorf("reading max_locals: %w", err)
	}
	codeLength, err := s.ReadU32()
	if err != nil {
		return nil, fmt.Errorf("reading code_length: %w", err)
	}
	code, err := s.ReadBytes(int(codeLength))
	if err != nil {
		return nil, fmt.Errorf("reading code: %w", err)
	}

	tableLen, err := s.ReadU16()
	if err != nil {
		return nil, fmt.Errorf("reading exception_table_length: %w", err)
	}
	table := make([]ExceptionEntry, tableLen)
	for i := uint16(0); i < tableLen; i++ {
		startPC, err := s.ReadU16()
		if err != nil {
			return nil, fmt.Errorf("reading exception entry %d: %w", i, err)
		}
		endPC, err := s.ReadU16()
		if err != nil {
			return nil, fmt.Errorf("reading exception entry %d: %w", i, err)
		}
		handlerPC, err := s.ReadU16()
		if err != nil {
			return nil, fmt.Errorf("reading exception entry %d: %w", i, err)
		}
		catchType, err := s.ReadU16()
		if err != nil {
			return nil, fmt.Errorf("reading exception entry %d: %w", i, err)
		}
		table[i] = ExceptionEntry{StartPC: startPC, EndPC: endPC, HandlerPC: handlerPC, CatchType: catchType}
	}

	attrCount, err := s.ReadU16()
	if err != nil {
		return nil, fmt.Errorf("reading nested attribute count: %w", err)
	}
	attrs, err := parseAttributes(s, pool, attrCount)
	if err != nil {
		return nil, err
	}

	return &CodeAttr{
		MaxStack:       maxStack,
		MaxLocals:      maxLocals,
		Code:           code,
		ExceptionTable: table,
		Attributes:     attrs,
	}, nil
}

func parseLineNumberTable(data []byte) (*LineNumberTableAttr, error) {
	s := NewStream(data)
	count, err := s.ReadU16()
	if err != nil {
		return nil, err
	}
	entries := make([]LineNumberEntry, count)
	for i := uint16(0); i < count; i++ {
		startPC, err := s.ReadU16()
		if err != nil {
			return nil, err
		}
		line, err := s.ReadU16()
		if err != nil {
			return nil, err
		}
		entries[i] = LineNumberEntry{StartPC: startPC, Line: line}
	}
	return &LineNumberTableAttr{Entries: entries}, nil
}
