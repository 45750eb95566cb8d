package native

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/cafebabe-vm/cafebabe/pkg/vm"
)

// SysPath is the magic stream path bound to the host's stdio.
const SysPath = "<sys>"

// cursor is a byte-at-a-time stream endpoint.
type cursor interface {
	read() (int32, error)
	write(value int32) error
}

// sysStream couples the host's stdin and stdout.
type sysStream struct {
	in  *bufio.Reader
	out io.Writer
}

func (s *sysStream) read() (int32, error) {
	b, err := s.in.ReadByte()
	if err != nil {
		return -1, err
	}
	return int32(b), nil
}

func (s *sysStream) write(value int32) error {
	_, err := s.out.Write([]byte{byte(value)})
	return err
}

// fileStream reads or writes one host file.
type fileStream struct {
	file *os.File
}

func (s *fileStream) read() (int32, error) {
	var buf [1]byte
	if _, err := s.file.Read(buf[:]); err != nil {
		return -1, err
	}
	return int32(buf[0]), nil
}

func (s *fileStream) write(value int32) error {
	_, err := s.file.Write([]byte{byte(value)})
	return err
}

// Stdio implements the FileInputStream and FileOutputStream natives. One
// registry instance holds the open streams, keyed by the owning object's
// heap index.
type Stdio struct {
	In  io.Reader
	Out io.Writer

	streams map[int]cursor
}

// NewStdio creates a registry bound to the host's stdio.
func NewStdio() *Stdio {
	return &Stdio{In: os.Stdin, Out: os.Stdout}
}

// Register binds the stream natives.
func (s *Stdio) Register(n *vm.NativeInterface) error {
	s.streams = make(map[int]cursor)

	bindings := []struct {
		class, name, desc string
		fn                vm.NativeFn
	}{
		{"java/io/FileInputStream", "nativeBind", "()V", s.bindRead},
		{"java/io/FileInputStream", "nativeRead", "()I", s.read},
		{"java/io/FileOutputStream", "nativeBind", "()V", s.bindWrite},
		{"java/io/FileOutputStream", "nativeWrite", "(I)V", s.write},
	}
	for _, b := range bindings {
		if err := n.Register(vm.MethodRefFor(b.class, b.name, b.desc), b.fn); err != nil {
			return err
		}
	}
	return nil
}

// bind opens the stream named by the receiver's path field.
func (s *Stdio) bind(env *vm.NativeEnv, forRead bool) (vm.Value, error) {
	this := env.Variables()[0]
	obj, err := env.Object(this)
	if err != nil {
		return vm.Value{}, err
	}

	pathRef, ok := obj.Fields["path"]
	if !ok {
		return vm.Value{}, fmt.Errorf("stream has no path: %w", vm.ErrIllegalState)
	}
	path, err := env.StringValue(pathRef)
	if err != nil {
		return vm.Value{}, err
	}

	if _, ok := s.streams[this.Ref]; ok {
		return vm.VoidValue(), nil
	}

	if path == SysPath {
		s.streams[this.Ref] = &sysStream{in: bufio.NewReader(s.In), out: s.Out}
		return vm.VoidValue(), nil
	}

	var file *os.File
	if forRead {
		file, err = os.Open(path)
	} else {
		file, err = os.Create(path)
	}
	if err != nil {
		return vm.Value{}, fmt.Errorf("binding stream to %s: %w", path, err)
	}
	s.streams[this.Ref] = &fileStream{file: file}
	return vm.VoidValue(), nil
}

func (s *Stdio) bindRead(env *vm.NativeEnv) (vm.Value, error) {
	return s.bind(env, true)
}

func (s *Stdio) bindWrite(env *vm.NativeEnv) (vm.Value, error) {
	return s.bind(env, false)
}

func (s *Stdio) read(env *vm.NativeEnv) (vm.Value, error) {
	this := env.Variables()[0]
	stream, ok := s.streams[this.Ref]
	if !ok {
		return vm.Value{}, fmt.Errorf("stream not bound: %w", vm.ErrIllegalState)
	}
	value, err := stream.read()
	if err == io.EOF {
		return vm.IntValue(-1), nil
	}
	if err != nil {
		return vm.Value{}, err
	}
	return vm.IntValue(value), nil
}

func (s *Stdio) write(env *vm.NativeEnv) (vm.Value, error) {
	vars := env.Variables()
	if len(vars) < 2 {
		return vm.Value{}, fmt.Errorf("nativeWrite: missing argument: %w", vm.ErrIllegalArgument)
	}
	stream, ok := s.streams[vars[0].Ref]
	if !ok {
		return vm.Value{}, fmt.Errorf("stream not bound: %w", vm.ErrIllegalState)
	}
	value, err := vars[1].AsInt()
	if err != nil {
		return vm.Value{}, err
	}
	if err := stream.write(value.Int); err != nil {
		return vm.Value{}, err
	}
	return vm.VoidValue(), nil
}
