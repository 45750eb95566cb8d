package classpath

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cafebabe-vm/cafebabe/internal/classgen"
)

func sampleClass(name string) []byte {
	b := classgen.New(name, "java/lang/Object")
	b.DefaultInit()
	return b.Bytes()
}

func TestMapProvider(t *testing.T) {
	data := sampleClass("demo/Mapped")
	p := MapProvider{"demo/Mapped": data}

	got, err := p.Load("demo/Mapped")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("bytes differ")
	}

	if _, err := p.Load("demo/Missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing class: got %v, want ErrNotFound", err)
	}
}

func TestDirProvider(t *testing.T) {
	dir := t.TempDir()
	data := sampleClass("demo/OnDisk")
	path := filepath.Join(dir, "demo", "OnDisk.class")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	p := NewDirProvider(dir)
	got, err := p.Load("demo/OnDisk")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("bytes differ")
	}

	if _, err := p.Load("demo/Missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing class: got %v, want ErrNotFound", err)
	}
}

func TestJarProvider(t *testing.T) {
	dir := t.TempDir()
	jarPath := filepath.Join(dir, "app.jar")
	data := sampleClass("demo/Jarred")

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	entry, err := w.Create("demo/Jarred.class")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := entry.Write(data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := os.WriteFile(jarPath, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	p, err := NewJarProvider(jarPath)
	if err != nil {
		t.Fatalf("NewJarProvider: %v", err)
	}
	defer p.Close()

	got, err := p.Load("demo/Jarred")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("bytes differ")
	}

	if _, err := p.Load("demo/Missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing class: got %v, want ErrNotFound", err)
	}
}
