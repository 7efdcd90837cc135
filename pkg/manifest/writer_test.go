package manifest

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func sampleSources(n int) []Source {
	var out []Source
	for i := 0; i < n; i++ {
		out = append(out, Source{
			Type:         TypeFile,
			URL:          "https://example.test/pkg-" + strings.Repeat("x", i%7) + ".tgz",
			Dest:         "cache",
			DestFilename: string(rune('a'+i%26)) + ".tgz",
		})
	}
	return out
}

func TestWriteJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "generated-sources.json")

	files, err := Writer{}.Write(path, sampleSources(3))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0] != path {
		t.Fatalf("files = %v", files)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var entries []map[string]any
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, data)
	}
	if len(entries) != 3 {
		t.Errorf("wrote %d entries, want 3", len(entries))
	}
	if !bytes.HasSuffix(data, []byte("]\n")) {
		t.Error("output missing trailing newline")
	}
	if !bytes.Contains(data, []byte("\n    {")) {
		t.Error("output not indented with four spaces")
	}
}

func TestWriteIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")
	src := sampleSources(5)

	if _, err := (Writer{}).Write(path, src); err != nil {
		t.Fatal(err)
	}
	first, _ := os.ReadFile(path)
	if _, err := (Writer{}).Write(path, src); err != nil {
		t.Fatal(err)
	}
	second, _ := os.ReadFile(path)
	if !bytes.Equal(first, second) {
		t.Error("repeated writes of the same sources differ")
	}
}

func TestWriteYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.yaml")
	if _, err := (Writer{Format: FormatYAML}).Write(path, sampleSources(2)); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "type: file") {
		t.Errorf("yaml output missing entries:\n%s", data)
	}
}

func TestWriteEmptyList(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")
	if _, err := (Writer{}).Write(path, nil); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if strings.TrimSpace(string(data)) != "[]" {
		t.Errorf("empty manifest = %q, want []", data)
	}
}

func TestWriteSplit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sources.json")
	src := sampleSources(20)

	files, err := (Writer{SplitSize: 600}).Write(path, src)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) < 2 {
		t.Fatalf("expected split output, got %v", files)
	}
	if files[0] != path {
		t.Errorf("first chunk = %q, want %q", files[0], path)
	}
	if files[1] != filepath.Join(dir, "sources.1.json") {
		t.Errorf("second chunk = %q", files[1])
	}

	// All entries survive, in order, across the chunks.
	var total []map[string]any
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			t.Fatal(err)
		}
		var part []map[string]any
		if err := json.Unmarshal(data, &part); err != nil {
			t.Fatalf("chunk %s invalid: %v", f, err)
		}
		if len(data) >= 1200 {
			t.Errorf("chunk %s is %d bytes, far over the limit", f, len(data))
		}
		total = append(total, part...)
	}
	if len(total) != len(src) {
		t.Errorf("split lost entries: %d != %d", len(total), len(src))
	}
	for i, e := range total {
		if e["dest-filename"] != src[i].DestFilename {
			t.Errorf("entry %d out of order", i)
			break
		}
	}
}

func TestWriteUnwritableDestination(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing-dir", "out.json")
	if _, err := (Writer{}).Write(path, sampleSources(1)); err == nil {
		t.Error("expected error for unwritable destination")
	}
}
