// Package manifest models the declarative source list consumed by the
// offline sandboxed build tool.
//
// A manifest is an ordered sequence of entries, each describing one artifact
// to download (or inline) and where to place it before the network-isolated
// build starts. Serialization keeps a fixed key order per entry so that
// re-running a converter on unchanged inputs produces byte-identical output.
package manifest

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/offgrid-build/srcgen/pkg/integrity"
)

// Entry kinds.
const (
	TypeFile    = "file"
	TypeArchive = "archive"
	TypeInline  = "inline"
	TypeGit     = "git"
)

// Source is one manifest entry.
//
// Exactly one of URL, Contents, or (URL, Commit/Tag) is meaningful depending
// on Type. Zero-valued optional fields are omitted from output.
type Source struct {
	Type string

	// URL is the download location for file, archive, and git entries.
	URL string
	// Contents holds literal data for inline entries.
	Contents string
	// Base64 marks Contents as base64-encoded binary data.
	Base64 bool

	// Commit and Tag pin git entries.
	Commit string
	Tag    string

	// Checksum verifies downloaded data. The manifest field is named after
	// the algorithm (e.g. "sha256", "sha512").
	Checksum integrity.Integrity

	// ArchiveType and StripComponents apply to archive entries only.
	ArchiveType     string
	StripComponents int

	// Dest is the destination directory, DestFilename the leaf name.
	Dest         string
	DestFilename string

	// OnlyArches restricts the entry to specific CPU architectures.
	OnlyArches []string
}

type pair struct {
	key string
	val any
}

// pairs lists the entry's populated fields in output order.
func (s Source) pairs() []pair {
	p := []pair{{"type", s.Type}}
	if s.URL != "" {
		p = append(p, pair{"url", s.URL})
	}
	if s.Contents != "" {
		p = append(p, pair{"contents", s.Contents})
		if s.Base64 {
			p = append(p, pair{"base64", true})
		}
	}
	if s.Commit != "" {
		p = append(p, pair{"commit", s.Commit})
	}
	if s.Tag != "" {
		p = append(p, pair{"tag", s.Tag})
	}
	if !s.Checksum.IsZero() {
		p = append(p, pair{s.Checksum.Algorithm, s.Checksum.Hex})
	}
	if s.ArchiveType != "" {
		p = append(p, pair{"archive-type", s.ArchiveType})
	}
	if s.StripComponents > 0 {
		p = append(p, pair{"strip-components", s.StripComponents})
	}
	if s.Dest != "" {
		p = append(p, pair{"dest", s.Dest})
	}
	if s.DestFilename != "" {
		p = append(p, pair{"dest-filename", s.DestFilename})
	}
	if len(s.OnlyArches) > 0 {
		p = append(p, pair{"only-arches", s.OnlyArches})
	}
	return p
}

// MarshalJSON emits the entry as an object with a fixed key order and the
// checksum field named after its algorithm.
func (s Source) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, p := range s.pairs() {
		if i > 0 {
			buf = append(buf, ',')
		}
		k, err := json.Marshal(p.key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(p.val)
		if err != nil {
			return nil, fmt.Errorf("marshal manifest field %s: %w", p.key, err)
		}
		buf = append(buf, k...)
		buf = append(buf, ':')
		buf = append(buf, v...)
	}
	return append(buf, '}'), nil
}

// MarshalYAML emits the entry as a mapping node preserving field order.
func (s Source) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, p := range s.pairs() {
		var k, v yaml.Node
		k.SetString(p.key)
		if err := v.Encode(p.val); err != nil {
			return nil, fmt.Errorf("encode manifest field %s: %w", p.key, err)
		}
		node.Content = append(node.Content, &k, &v)
	}
	return node, nil
}

// key identifies a source for deduplication. Two entries that would fetch the
// same data to the same destination are the same entry.
func (s Source) key() string {
	b, _ := s.MarshalJSON()
	return string(b)
}

// Dedupe removes duplicate entries, keeping the first occurrence and
// preserving order. Lockfile trees routinely declare the same artifact many
// times (hoisted npm dependencies, shared transitive crates).
func Dedupe(sources []Source) []Source {
	seen := make(map[string]bool, len(sources))
	out := sources[:0:0]
	for _, s := range sources {
		k := s.key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, s)
	}
	return out
}
