package stats

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"tally/internal/store"

	"github.com/klauspost/compress/zstd"
)

func sampleRows() []store.Row {
	return []store.Row{
		{Columns: []string{"id", "label"}, Values: []any{int64(1), "a<b>&c"}},
		{Columns: []string{"id", "label"}, Values: []any{int64(2), nil}},
	}
}

func TestMarshalEmpty(t *testing.T) {
	for _, rows := range [][]store.Row{nil, {}} {
		data, err := Marshal(rows)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if string(data) != "[]" {
			t.Fatalf("empty artifact = %q, want %q", data, "[]")
		}
	}
}

func TestMarshalIndentedWithColumnOrder(t *testing.T) {
	data, err := Marshal(sampleRows())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `[
    {
        "id": 1,
        "label": "a<b>&c"
    },
    {
        "id": 2,
        "label": null
    }
]`
	if string(data) != want {
		t.Fatalf("artifact = %s, want %s", data, want)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	first, err := Marshal(sampleRows())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	second, err := Marshal(sampleRows())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("marshal not deterministic: %s vs %s", first, second)
	}
}

func TestWriteCreatesParents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "nested", "stats.json")
	w := New(path)
	if err := w.Write(sampleRows()); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	want, _ := Marshal(sampleRows())
	if !bytes.Equal(data, want) {
		t.Fatalf("artifact content mismatch: %s", data)
	}
}

func TestWriteReplacesPreviousArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	w := New(path)
	if err := w.Write(sampleRows()); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	if err := w.Write(nil); err != nil {
		t.Fatalf("write empty artifact: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(data) != "[]" {
		t.Fatalf("artifact = %q, want %q", data, "[]")
	}
}

func TestWriteCompressedRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	w := New(path)
	if err := w.Write(sampleRows()); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	sidecar, err := w.WriteCompressed()
	if err != nil {
		t.Fatalf("write compressed: %v", err)
	}
	if sidecar != path+CompressedSuffix {
		t.Fatalf("unexpected sidecar path: %q", sidecar)
	}
	compressed, err := os.ReadFile(sidecar)
	if err != nil {
		t.Fatalf("read sidecar: %v", err)
	}
	zr, err := zstd.NewReader(bytes.NewReader(compressed))
	if err != nil {
		t.Fatalf("open zstd reader: %v", err)
	}
	defer zr.Close()
	var decoded bytes.Buffer
	if _, err := decoded.ReadFrom(zr); err != nil {
		t.Fatalf("decompress sidecar: %v", err)
	}
	original, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if !bytes.Equal(decoded.Bytes(), original) {
		t.Fatalf("sidecar does not round-trip to artifact content")
	}
}

func TestLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	w := New(path)
	rows := []store.Row{
		{Columns: []string{"zeta", "alpha"}, Values: []any{int64(7), "x"}},
		{Columns: []string{"zeta", "alpha"}, Values: []any{nil, []byte{0x01, 0x02}}},
	}
	if err := w.Write(rows); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load artifact: %v", err)
	}
	if len(loaded) != len(rows) {
		t.Fatalf("unexpected row count: %d", len(loaded))
	}
	if loaded[0].Columns[0] != "zeta" || loaded[0].Columns[1] != "alpha" {
		t.Fatalf("unexpected column order: %v", loaded[0].Columns)
	}
	if n, ok := loaded[0].Values[0].(json.Number); !ok || n.String() != "7" {
		t.Fatalf("unexpected numeric value: %v", loaded[0].Values[0])
	}
	if loaded[1].Values[0] != nil {
		t.Fatalf("unexpected null value: %v", loaded[1].Values[0])
	}
	if s, ok := loaded[1].Values[1].(string); !ok || s != "AQI=" {
		t.Fatalf("unexpected blob value: %v", loaded[1].Values[1])
	}
}

func TestLoadCompressedSidecar(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	w := New(path)
	if err := w.Write(sampleRows()); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	sidecar, err := w.WriteCompressed()
	if err != nil {
		t.Fatalf("write compressed: %v", err)
	}
	fromSidecar, err := Load(sidecar)
	if err != nil {
		t.Fatalf("load sidecar: %v", err)
	}
	fromArtifact, err := Load(path)
	if err != nil {
		t.Fatalf("load artifact: %v", err)
	}
	if len(fromSidecar) != len(fromArtifact) {
		t.Fatalf("row count = %d, want %d", len(fromSidecar), len(fromArtifact))
	}
	for i := range fromSidecar {
		if fromSidecar[i].Columns[0] != fromArtifact[i].Columns[0] {
			t.Fatalf("row %d columns differ: %v vs %v", i, fromSidecar[i].Columns, fromArtifact[i].Columns)
		}
	}
}

func TestLoadRejectsNonList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	if err := os.WriteFile(path, []byte(`{"not":"a list"}`), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for non-list artifact")
	}
}
