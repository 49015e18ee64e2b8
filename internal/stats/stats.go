// Package stats serializes fetched result rows into the worker's output
// artifact.
package stats

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"tally/internal/store"
	"tally/internal/util"

	"github.com/klauspost/compress/zstd"
)

// CompressedSuffix is appended to the artifact path for the zstd sidecar.
const CompressedSuffix = ".zst"

// WriteError reports an artifact that could not be serialized or written.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("stats artifact %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Writer materializes result rows as an indented JSON artifact at a fixed
// path. Every write replaces the previous artifact wholesale.
type Writer struct {
	Path string
}

// New creates a writer for the given artifact path.
func New(path string) *Writer {
	return &Writer{Path: path}
}

// Marshal renders rows as a JSON list with four-space indentation and no
// HTML escaping. Zero rows render as the bare empty list so that consumers
// can tell a completed-but-empty pass from a missing artifact.
func Marshal(rows []store.Row) ([]byte, error) {
	if len(rows) == 0 {
		return []byte("[]"), nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "    ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rows); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Write serializes rows to the artifact path, creating parent directories
// as needed. It runs for every completed pass, including passes that found
// no rows.
func (w *Writer) Write(rows []store.Row) error {
	data, err := Marshal(rows)
	if err != nil {
		return &WriteError{Path: w.Path, Err: err}
	}
	dir := filepath.Dir(w.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &WriteError{Path: w.Path, Err: err}
		}
	}
	if err := os.WriteFile(w.Path, data, 0o644); err != nil {
		return &WriteError{Path: w.Path, Err: err}
	}
	return nil
}

// WriteCompressed compresses the artifact already on disk into a zstd
// sidecar next to it and returns the sidecar path.
func (w *Writer) WriteCompressed() (string, error) {
	data, err := os.ReadFile(w.Path)
	if err != nil {
		return "", &WriteError{Path: w.Path, Err: err}
	}
	sidecar := w.Path + CompressedSuffix
	f, err := os.Create(sidecar)
	if err != nil {
		return "", &WriteError{Path: sidecar, Err: err}
	}
	defer util.CloseWithErr(f, "compressed artifact")
	zw, err := zstd.NewWriter(f)
	if err != nil {
		return "", &WriteError{Path: sidecar, Err: err}
	}
	if _, err := zw.Write(data); err != nil {
		_ = zw.Close()
		return "", &WriteError{Path: sidecar, Err: err}
	}
	if err := zw.Close(); err != nil {
		return "", &WriteError{Path: sidecar, Err: err}
	}
	return sidecar, nil
}

// Load reads an artifact back into rows, preserving the key order of each
// object. Numbers come back as json.Number. A path ending in the compressed
// suffix is decompressed on the fly.
func Load(path string) ([]store.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer util.CloseWithErr(f, "stats artifact")

	var r io.Reader = f
	if strings.HasSuffix(path, CompressedSuffix) {
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("read artifact %s: %w", path, err)
		}
		defer zr.Close()
		r = zr
	}

	dec := json.NewDecoder(r)
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", path, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return nil, fmt.Errorf("artifact %s: expected list, got %v", path, tok)
	}
	var rows []store.Row
	for dec.More() {
		row, err := decodeRow(dec)
		if err != nil {
			return nil, fmt.Errorf("artifact %s row %d: %w", path, len(rows), err)
		}
		rows = append(rows, row)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", path, err)
	}
	return rows, nil
}

func decodeRow(dec *json.Decoder) (store.Row, error) {
	tok, err := dec.Token()
	if err != nil {
		return store.Row{}, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return store.Row{}, fmt.Errorf("expected object, got %v", tok)
	}
	var row store.Row
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return store.Row{}, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return store.Row{}, fmt.Errorf("expected key, got %v", keyTok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return store.Row{}, err
		}
		row.Columns = append(row.Columns, key)
		row.Values = append(row.Values, value)
	}
	if _, err := dec.Token(); err != nil {
		return store.Row{}, err
	}
	return row, nil
}
