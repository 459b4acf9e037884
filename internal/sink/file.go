package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// fileWriter writes next to the destination and renames on commit, so an
// interrupted download never leaves a truncated file under the final name.
type fileWriter struct {
	path string
	tmp  *os.File
}

func newFileWriter(path string) (Writer, error) {
	if path == "" {
		return nil, fmt.Errorf("empty file destination")
	}
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+base+".*.part")
	if err != nil {
		return nil, fmt.Errorf("create temp file for %q: %w", path, err)
	}
	return &fileWriter{path: path, tmp: tmp}, nil
}

func (w *fileWriter) Write(p []byte) (int, error) {
	return w.tmp.Write(p)
}

func (w *fileWriter) Commit(_ context.Context) error {
	if err := w.tmp.Sync(); err != nil {
		_ = w.Abort()
		return fmt.Errorf("sync %q: %w", w.tmp.Name(), err)
	}
	if err := w.tmp.Close(); err != nil {
		_ = os.Remove(w.tmp.Name())
		return fmt.Errorf("close %q: %w", w.tmp.Name(), err)
	}
	if err := os.Chmod(w.tmp.Name(), 0o644); err != nil {
		_ = os.Remove(w.tmp.Name())
		return fmt.Errorf("chmod %q: %w", w.tmp.Name(), err)
	}
	if err := os.Rename(w.tmp.Name(), w.path); err != nil {
		_ = os.Remove(w.tmp.Name())
		return fmt.Errorf("rename to %q: %w", w.path, err)
	}
	return nil
}

func (w *fileWriter) Abort() error {
	_ = w.tmp.Close()
	if err := os.Remove(w.tmp.Name()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %q: %w", w.tmp.Name(), err)
	}
	return nil
}

func (w *fileWriter) Location() string { return w.path }
