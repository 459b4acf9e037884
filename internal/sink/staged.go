package sink

import (
	"context"
	"fmt"
	"io"
	"os"
)

// stagedWriter spools the payload to a local temp file and hands the
// rewound file to upload on commit. Memory use stays bounded regardless
// of result size.
type stagedWriter struct {
	location string
	tmp      *os.File
	upload   func(ctx context.Context, f *os.File) error
}

func newStagedWriter(location, tempDir string, upload func(ctx context.Context, f *os.File) error) (Writer, error) {
	tmp, err := os.CreateTemp(tempDir, "millq-upload-*")
	if err != nil {
		return nil, fmt.Errorf("create staging file: %w", err)
	}
	return &stagedWriter{location: location, tmp: tmp, upload: upload}, nil
}

func (w *stagedWriter) Write(p []byte) (int, error) {
	return w.tmp.Write(p)
}

func (w *stagedWriter) Commit(ctx context.Context) error {
	defer w.cleanup()
	if _, err := w.tmp.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind staging file: %w", err)
	}
	if err := w.upload(ctx, w.tmp); err != nil {
		return fmt.Errorf("upload to %s: %w", w.location, err)
	}
	return nil
}

func (w *stagedWriter) Abort() error {
	w.cleanup()
	return nil
}

func (w *stagedWriter) cleanup() {
	_ = w.tmp.Close()
	_ = os.Remove(w.tmp.Name())
}

func (w *stagedWriter) Location() string { return w.location }
