// Package classpath provides class providers: byte sources that map a
// fully-qualified internal class name to class-file bytes.
package classpath

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/edsrzf/mmap-go"
)

// ErrNotFound is returned when a provider does not carry the named class.
var ErrNotFound = errors.New("class not found")

// MapProvider serves classes from an in-memory map, keyed by internal
// class name. It is the natural provider for embedders and tests.
type MapProvider map[string][]byte

// Load returns the bytes registered for name.
func (p MapProvider) Load(name string) ([]byte, error) {
	data, ok := p[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return data, nil
}

// DirProvider serves .class files from a directory tree rooted at Root.
// Files are read through a memory mapping.
type DirProvider struct {
	Root string
}

// NewDirProvider creates a provider rooted at dir.
func NewDirProvider(dir string) *DirProvider {
	return &DirProvider{Root: dir}
}

// Load memory-maps Root/<name>.class and returns a copy of its bytes.
func (p *DirProvider) Load(name string) ([]byte, error) {
	path := filepath.Join(p.Root, filepath.FromSlash(name)+".class")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if stat.Size() == 0 {
		return []byte{}, nil
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	defer m.Unmap()

	data := make([]byte, len(m))
	copy(data, m)
	return data, nil
}

// JarProvider serves classes out of a jar archive.
type JarProvider struct {
	Path string

	reader *zip.ReadCloser
}

// NewJarProvider opens a jar file.
func NewJarProvider(path string) (*JarProvider, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening jar %s: %w", path, err)
	}
	return &JarProvider{Path: path, reader: reader}, nil
}

// Load reads <name>.class out of the archive.
func (p *JarProvider) Load(name string) ([]byte, error) {
	target := name + ".class"
	for _, file := range p.reader.File {
		if file.Name != target {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s in %s: %w", target, p.Path, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("reading %s in %s: %w", target, p.Path, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("%s in %s: %w", name, p.Path, ErrNotFound)
}

// Close releases the archive handle.
func (p *JarProvider) Close() error {
	return p.reader.Close()
}
