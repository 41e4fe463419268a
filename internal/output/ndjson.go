// internal/output/ndjson.go
package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/valpere/MediaScrapexter/internal/progress"
)

// NDJSONWriter writes one JSON event per line
type NDJSONWriter struct {
	mu      sync.Mutex
	buf     *bufio.Writer
	encoder *json.Encoder
	closer  io.Closer
}

// NewNDJSONWriter writes events to w. Close flushes but does not close w.
func NewNDJSONWriter(w io.Writer) *NDJSONWriter {
	buf := bufio.NewWriter(w)
	return &NDJSONWriter{buf: buf, encoder: json.NewEncoder(buf)}
}

// NewNDJSONFile appends events to filename on fs, creating parent dirs.
// "-" writes to stdout.
func NewNDJSONFile(fs afero.Fs, filename string) (*NDJSONWriter, error) {
	if filename == "-" {
		return NewNDJSONWriter(os.Stdout), nil
	}
	if dir := filepath.Dir(filename); dir != "." {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create events directory: %w", err)
		}
	}
	file, err := fs.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open events file: %w", err)
	}
	w := NewNDJSONWriter(file)
	w.closer = file
	return w, nil
}

// WriteEvent encodes ev as a single line. Terminal job events are flushed
// immediately.
func (w *NDJSONWriter) WriteEvent(ev progress.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.encoder == nil {
		return fmt.Errorf("events writer is closed")
	}
	if err := w.encoder.Encode(ev); err != nil {
		return fmt.Errorf("failed to encode %s event: %w", ev.Type, err)
	}
	if ev.Type == progress.JobFinished {
		return w.buf.Flush()
	}
	return nil
}

// Flush flushes any buffered events
func (w *NDJSONWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf == nil {
		return nil
	}
	return w.buf.Flush()
}

// Close flushes and closes the underlying file, if this writer opened it
func (w *NDJSONWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.encoder == nil {
		return nil
	}
	err := w.buf.Flush()
	w.encoder = nil
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
