package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Format selects the output serialization.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// jsonIndent matches the four-space indent the sandbox tooling expects.
const jsonIndent = "    "

// Writer serializes an ordered source list to disk.
//
// All output is rendered in memory before any file is touched, and each file
// is written to a temporary sibling and renamed into place, so a failing run
// never leaves partial output behind.
type Writer struct {
	Format Format

	// SplitSize, when positive, caps each output file at roughly this many
	// bytes and spreads the entries across numbered siblings
	// (name.json, name.1.json, ...). Entry order is preserved across the
	// split. Zero disables splitting.
	SplitSize int
}

// Write serializes sources to path and returns the files written.
func (w Writer) Write(path string, sources []Source) ([]string, error) {
	format := w.Format
	if format == "" {
		format = FormatJSON
	}

	chunks := [][]Source{sources}
	if w.SplitSize > 0 {
		var err error
		chunks, err = w.split(sources)
		if err != nil {
			return nil, err
		}
	}

	// Render everything first so a marshal failure aborts before output.
	rendered := make([][]byte, len(chunks))
	for i, chunk := range chunks {
		data, err := w.render(chunk, format)
		if err != nil {
			return nil, err
		}
		rendered[i] = data
	}

	var written []string
	for i, data := range rendered {
		name := path
		if i > 0 {
			name = numberedName(path, i)
		}
		if err := atomicWrite(name, data); err != nil {
			return written, err
		}
		written = append(written, name)
	}
	return written, nil
}

func (w Writer) render(sources []Source, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		data, err := marshalJSONList(sources)
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(sources); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
}

// split groups entries into chunks whose serialized size stays under
// SplitSize. A single oversized entry still gets its own chunk.
func (w Writer) split(sources []Source) ([][]Source, error) {
	base := len("[\n]")
	var chunks [][]Source
	var current []Source
	size := base

	for _, s := range sources {
		data, err := marshalJSONList([]Source{s})
		if err != nil {
			return nil, err
		}
		// Size of the entry without the enclosing brackets.
		lines := bytes.Split(data, []byte("\n"))
		entry := 0
		for _, l := range lines[1 : len(lines)-1] {
			entry += len(l) + 1
		}
		if len(current) > 0 && size+entry >= w.SplitSize {
			chunks = append(chunks, current)
			current = nil
			size = base
		}
		current = append(current, s)
		size += entry
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	if len(chunks) == 0 {
		chunks = [][]Source{nil}
	}
	return chunks, nil
}

// marshalJSONList pretty-prints with the fixed indent, keeping the per-entry
// key order produced by Source.MarshalJSON.
func marshalJSONList(sources []Source) ([]byte, error) {
	if len(sources) == 0 {
		return []byte("[]"), nil
	}
	var buf bytes.Buffer
	buf.WriteString("[\n")
	for i, s := range sources {
		compact, err := s.MarshalJSON()
		if err != nil {
			return nil, err
		}
		var entry bytes.Buffer
		if err := json.Indent(&entry, compact, jsonIndent, jsonIndent); err != nil {
			return nil, err
		}
		buf.WriteString(jsonIndent)
		buf.Write(entry.Bytes())
		if i < len(sources)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func numberedName(path string, n int) string {
	ext := filepath.Ext(path)
	return fmt.Sprintf("%s.%d%s", strings.TrimSuffix(path, ext), n, ext)
}

// atomicWrite lands data at path via a uniquely named temporary sibling.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(path), uuid.NewString()))
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
