package classfile

import (
	"errors"
	"testing"
)

func TestStreamReads(t *testing.T) {
	s := NewStream([]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07})

	u8, err := s.ReadU8()
	if err != nil {
		t.Fatalf("ReadU8: %v", err)
	}
	if u8 != 0x01 {
		t.Errorf("ReadU8: got 0x%02X, want 0x01", u8)
	}

	u16, err := s.ReadU16()
	if err != nil {
		t.Fatalf("ReadU16: %v", err)
	}
	if u16 != 0x0203 {
		t.Errorf("ReadU16: got 0x%04X, want 0x0203", u16)
	}

	u32, err := s.ReadU32()
	if err != nil {
		t.Fatalf("ReadU32: %v", err)
	}
	if u32 != 0x04050607 {
		t.Errorf("ReadU32: got 0x%08X, want 0x04050607", u32)
	}

	if s.Remaining() != 0 {
		t.Errorf("Remaining: got %d, want 0", s.Remaining())
	}
}

func TestStreamOutOfBound(t *testing.T) {
	tests := []struct {
		name string
		read func(s *Stream) error
	}{
		{"u8", func(s *Stream) error { _, err := s.ReadU8(); return err }},
		{"u16", func(s *Stream) error { _, err := s.ReadU16(); return err }},
		{"u32", func(s *Stream) error { _, err := s.ReadU32(); return err }},
		{"bytes", func(s *Stream) error { _, err := s.ReadBytes(2); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStream([]byte{0x01})
			if _, err := s.ReadU8(); err != nil {
				t.Fatalf("priming read: %v", err)
			}
			if err := tt.read(s); !errors.Is(err, ErrOutOfBound) {
				t.Errorf("got %v, want ErrOutOfBound", err)
			}
		})
	}
}

func TestStreamReadBytesCopies(t *testing.T) {
	backing := []byte{0x0A, 0x0B}
	s := NewStream(backing)
	data, err := s.ReadBytes(2)
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	backing[0] = 0xFF
	if data[0] != 0x0A {
		t.Error("ReadBytes must return a copy")
	}
}
