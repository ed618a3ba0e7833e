package agent

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ConfigFile is the on-disk wg-quick file the agent converges.
type ConfigFile struct {
	Path string
}

// NewConfigFile returns the file <dir>/<iface>.conf.
func NewConfigFile(dir, iface string) ConfigFile {
	return ConfigFile{Path: filepath.Join(dir, iface+".conf")}
}

// Read returns the current content. A missing file is not an error.
func (f ConfigFile) Read() (string, bool, error) {
	b, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", f.Path, err)
	}
	return string(b), true, nil
}

// Write replaces the file atomically with owner-only permissions; it holds a
// private key.
func (f ConfigFile) Write(content string) error {
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.Path)+".*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp: %w", err)
	}
	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, f.Path); err != nil {
		return fmt.Errorf("rename into %s: %w", f.Path, err)
	}
	return nil
}

// Restore puts back content read before a failed apply, or removes the file
// when there was none.
func (f ConfigFile) Restore(content string, existed bool) error {
	if existed {
		return f.Write(content)
	}
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", f.Path, err)
	}
	return nil
}
