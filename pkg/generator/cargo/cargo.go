// Package cargo converts Cargo.lock files into vendored crate download
// lists.
package cargo

import (
	"context"
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/offgrid-build/srcgen/pkg/generator"
	"github.com/offgrid-build/srcgen/pkg/integrity"
	"github.com/offgrid-build/srcgen/pkg/manifest"
)

const (
	Lockfile = "Cargo.lock"

	cratesIO    = "https://static.crates.io/crates"
	cargoHome   = "cargo"
	cargoCrates = cargoHome + "/vendor"
)

// vendorConfig points cargo at the vendored directory instead of crates.io.
const vendorConfig = `[source.crates-io]
replace-with = "vendored-sources"

[source.vendored-sources]
directory = "` + cargoCrates + `"
`

type lockFile struct {
	Package  []lockPackage     `toml:"package"`
	Metadata map[string]string `toml:"metadata"`
}

type lockPackage struct {
	Name     string `toml:"name"`
	Version  string `toml:"version"`
	Source   string `toml:"source"`
	Checksum string `toml:"checksum"`
}

// Generator converts Cargo.lock files.
type Generator struct{}

func New() *Generator { return &Generator{} }

func (*Generator) Name() string { return "cargo" }

func (*Generator) Supports(filename string) bool { return filename == Lockfile }

func (g *Generator) Generate(_ context.Context, path string, opts generator.Options) ([]manifest.Source, error) {
	opts = opts.WithDefaults()

	var lock lockFile
	if _, err := toml.DecodeFile(path, &lock); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	sources := []manifest.Source{{
		Type:         manifest.TypeInline,
		Contents:     vendorConfig,
		Dest:         cargoHome,
		DestFilename: "config",
	}}

	for _, pkg := range lock.Package {
		if pkg.Source == "" {
			// Workspace members are built from the tree itself.
			opts.Logf("skipping %s, no source", pkg.Name)
			continue
		}
		checksum, err := packageChecksum(pkg, lock.Metadata)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		digest, err := integrity.FromHex("sha256", checksum)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", pkg.Name, pkg.Version, err)
		}

		crate := fmt.Sprintf("%s-%s", pkg.Name, pkg.Version)
		sources = append(sources,
			manifest.Source{
				Type:         manifest.TypeFile,
				URL:          fmt.Sprintf("%s/%s/%s.crate", cratesIO, pkg.Name, crate),
				Checksum:     digest,
				Dest:         cargoCrates,
				DestFilename: crate + ".crate",
			},
			manifest.Source{
				Type:         manifest.TypeInline,
				Contents:     fmt.Sprintf(`{"package": %q, "files": {}}`, checksum),
				Dest:         cargoCrates + "/" + crate,
				DestFilename: ".cargo-checksum.json",
			},
		)
	}
	opts.Logf("%s: %d entries", path, len(sources))
	return sources, nil
}

// packageChecksum reads the checksum from the package entry itself (newer
// lockfiles) or the [metadata] table (older ones). A sourced package without
// a checksum cannot be verified, so it fails the run.
func packageChecksum(pkg lockPackage, metadata map[string]string) (string, error) {
	if pkg.Checksum != "" {
		return pkg.Checksum, nil
	}
	key := fmt.Sprintf("checksum %s %s (%s)", pkg.Name, pkg.Version, pkg.Source)
	if sum, ok := metadata[key]; ok {
		return sum, nil
	}
	return "", fmt.Errorf("no checksum for %s %s", pkg.Name, pkg.Version)
}
