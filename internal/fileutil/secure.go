// Package fileutil writes audit artifacts with owner-only permissions so
// exported violation logs and the audit database never leak through loose
// file modes.
package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// SecureWriteFile writes data to path with 0600 permissions, creating
// parent directories as needed.
func SecureWriteFile(path string, data []byte) error {
	if err := SecureMkdirAll(filepath.Dir(path)); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// SecureMkdirAll creates a directory tree with 0700 permissions.
func SecureMkdirAll(path string) error {
	if path == "" || path == "." {
		return nil
	}
	if err := os.MkdirAll(path, 0o700); err != nil {
		return fmt.Errorf("mkdir %s: %w", path, err)
	}
	return nil
}

// SecureCreate opens a new file for writing with 0600 permissions.
func SecureCreate(path string) (*os.File, error) {
	if err := SecureMkdirAll(filepath.Dir(path)); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}
