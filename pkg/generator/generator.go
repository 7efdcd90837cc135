// Package generator defines the interface lockfile converters implement and
// the options shared across ecosystems.
package generator

import (
	"context"
	"path/filepath"

	"github.com/offgrid-build/srcgen/pkg/fetchmap"
	"github.com/offgrid-build/srcgen/pkg/manifest"
)

// CompatPaths selects how entries for compatibility-registry dependencies are
// laid out. Downstream caches have probed two different base paths over time;
// emitting both tolerates either resolver.
type CompatPaths string

const (
	CompatBoth    CompatPaths = "both"
	CompatPrimary CompatPaths = "primary"
)

// DefaultArches are the CPU architectures arch-split artifacts are emitted
// for when the user does not narrow the set.
var DefaultArches = []string{"x86_64", "aarch64"}

// Options control a single conversion run.
type Options struct {
	// Production skips development dependencies.
	Production bool

	// Recursive walks the input's directory tree for nested lockfiles.
	Recursive bool

	// Jobs caps concurrent registry fetches.
	Jobs int

	// Arches lists CPU architectures for artifacts that ship per-arch
	// binaries.
	Arches []string

	// CompatPaths selects single or dual base-path emission for
	// compatibility-registry dependencies.
	CompatPaths CompatPaths

	// DestDir overrides the destination directory for converters whose
	// inputs carry no layout of their own.
	DestDir string

	// Repos lists artifact repositories to resolve against, first match
	// wins.
	Repos []string

	// Logf receives human-readable progress lines. Never nil after
	// WithDefaults.
	Logf func(format string, args ...any)
}

// WithDefaults fills unset fields.
func (o Options) WithDefaults() Options {
	if o.Jobs <= 0 {
		o.Jobs = fetchmap.DefaultLimit
	}
	if len(o.Arches) == 0 {
		o.Arches = DefaultArches
	}
	if o.CompatPaths == "" {
		o.CompatPaths = CompatBoth
	}
	if o.Logf == nil {
		o.Logf = func(string, ...any) {}
	}
	return o
}

// Generator converts one lockfile format into manifest sources.
type Generator interface {
	// Name is the ecosystem identifier, also the CLI subcommand.
	Name() string

	// Supports reports whether the base filename is this ecosystem's
	// lockfile.
	Supports(filename string) bool

	// Generate parses the lockfile at path and returns its manifest
	// sources in input declaration order.
	Generate(ctx context.Context, path string, opts Options) ([]manifest.Source, error)
}

// Detect returns the first generator whose Supports matches the base name of
// path, or nil.
func Detect(path string, generators ...Generator) Generator {
	base := filepath.Base(path)
	for _, g := range generators {
		if g.Supports(base) {
			return g
		}
	}
	return nil
}
