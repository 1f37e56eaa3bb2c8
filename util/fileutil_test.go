package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/smartystreets/assertions"
)

func TestWriteFileBySeekStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seek.dat")
	if err := CreateFileBySize(path, 128); err != nil {
		t.Fatal(err)
	}

	buff := []byte{'A', 'B'}
	if err := WriteFileBySeekStart(path, 38, buff); err != nil {
		t.Fatal(err)
	}
	result, err := ReadFileBySeekStartWithSize(path, 38, 2)
	if err != nil {
		t.Fatal(err)
	}
	if msg := assertions.ShouldResemble(result, buff); msg != "" {
		t.Error(msg)
	}
}

func TestPathExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exists.dat")

	ok, err := PathExists(path)
	if err != nil || ok {
		t.Fatalf("expected missing path, got ok=%v err=%v", ok, err)
	}

	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	ok, err = PathExists(path)
	if err != nil || !ok {
		t.Fatalf("expected existing path, got ok=%v err=%v", ok, err)
	}
}

func TestCreateFileBySize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "sized.dat")
	if err := CreateFileBySize(path, 4096); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if msg := assertions.ShouldEqual(info.Size(), int64(4096)); msg != "" {
		t.Error(msg)
	}
}
