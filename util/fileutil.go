package util

import (
	"os"
	"path/filepath"
)

// PathExists reports whether path exists.
func PathExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// CreateFileBySize creates a file of the given size filled with zeros. The
// parent directory is created if needed.
func CreateFileBySize(filePath string, size int64) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return err
	}
	f, err := os.Create(filePath)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Truncate(size); err != nil {
		return err
	}
	return nil
}

// WriteFileBySeekStart writes buff at the given offset from the start of the
// file.
func WriteFileBySeekStart(filePath string, offset int64, buff []byte) error {
	f, err := os.OpenFile(filePath, os.O_RDWR, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteAt(buff, offset)
	return err
}

// ReadFileBySeekStartWithSize reads size bytes at the given offset from the
// start of the file.
func ReadFileBySeekStartWithSize(filePath string, offset int64, size int64) ([]byte, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buff := make([]byte, size)
	if _, err := f.ReadAt(buff, offset); err != nil {
		return nil, err
	}
	return buff, nil
}
