package pipeline

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Stream files are append-only, one JSON record per line, one file per stage.
// They are the authoritative record of "ever produced", separate from the
// state store's "ever attempted" index.

// StreamPath returns the stream file location for a stage output.
func StreamPath(dataDir, name string) string {
	return filepath.Join(dataDir, "streams", name+".jsonl")
}

// StreamReader reads a stage's output stream lazily; the full stream is never
// held in memory.
type StreamReader struct {
	f       *os.File
	scanner *bufio.Scanner
}

// OpenStreamReader opens a stream file for sequential reading.
func OpenStreamReader(path string) (*StreamReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open stream %s: %w", path, err)
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 10*1024*1024) // 10MB line buffer
	return &StreamReader{f: f, scanner: scanner}, nil
}

// Next returns the next record's raw bytes, or io.EOF when the stream is
// exhausted. Blank lines are skipped.
func (r *StreamReader) Next() (json.RawMessage, error) {
	for r.scanner.Scan() {
		line := bytes.TrimSpace(r.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		out := make([]byte, len(line))
		copy(out, line)
		return out, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan stream: %w", err)
	}
	return nil, io.EOF
}

// Close releases the underlying file.
func (r *StreamReader) Close() error { return r.f.Close() }

// StreamWriter appends records to a stage's output stream.
type StreamWriter struct {
	f    *os.File
	buf  *bufio.Writer
	path string
}

// OpenStreamWriter opens (creating if absent) a stream file for appending.
func OpenStreamWriter(path string) (*StreamWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir stream dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open stream %s: %w", path, err)
	}
	return &StreamWriter{f: f, buf: bufio.NewWriter(f), path: path}, nil
}

// Append writes one record as a JSON line.
func (w *StreamWriter) Append(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if _, err := w.buf.Write(data); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	if err := w.buf.WriteByte('\n'); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// Flush pushes buffered records to durable storage.
func (w *StreamWriter) Flush() error {
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flush stream: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("sync stream: %w", err)
	}
	return nil
}

// Path returns the stream file location.
func (w *StreamWriter) Path() string { return w.path }

// Close flushes and closes the stream.
func (w *StreamWriter) Close() error {
	if err := w.Flush(); err != nil {
		_ = w.f.Close()
		return err
	}
	return w.f.Close()
}

// ReadStream decodes every record of a stream file into T and passes it to
// fn. A missing file is not an error: it reads as an empty stream.
func ReadStream[T any](path string, fn func(T) error) error {
	r, err := OpenStreamReader(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer r.Close()

	for {
		raw, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("decode stream record: %w", err)
		}
		if err := fn(v); err != nil {
			return err
		}
	}
}
