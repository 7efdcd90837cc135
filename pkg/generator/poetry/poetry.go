// Package poetry converts poetry.lock files into PyPI download lists.
package poetry

import (
	"context"
	"fmt"
	"regexp"
	"slices"

	"github.com/BurntSushi/toml"

	"github.com/offgrid-build/srcgen/pkg/fetchmap"
	"github.com/offgrid-build/srcgen/pkg/generator"
	"github.com/offgrid-build/srcgen/pkg/integrity"
	"github.com/offgrid-build/srcgen/pkg/manifest"
	"github.com/offgrid-build/srcgen/pkg/registry/pypi"
)

const Lockfile = "poetry.lock"

var hashRE = regexp.MustCompile(`sha256:([a-f0-9]+)`)

type lockFile struct {
	Package  []lockPackage `toml:"package"`
	Metadata lockMetadata  `toml:"metadata"`
}

type lockPackage struct {
	Name     string      `toml:"name"`
	Version  string      `toml:"version"`
	Category string      `toml:"category"`
	Groups   []string    `toml:"groups"`
	Optional bool        `toml:"optional"`
	Files    []lockFileRef `toml:"files"`
	Source   *lockSource `toml:"source"`
}

type lockFileRef struct {
	File string `toml:"file"`
	Hash string `toml:"hash"`
}

type lockSource struct {
	Type string `toml:"type"`
	URL  string `toml:"url"`
}

type lockMetadata struct {
	// Pre-2.0 lockfiles keep per-package file lists here instead of on
	// the packages themselves.
	Files map[string][]lockFileRef `toml:"files"`
}

// Generator converts poetry.lock files, metadata formats 1.1 and 2.0.
type Generator struct {
	pypi *pypi.Client
}

func New(client *pypi.Client) *Generator { return &Generator{pypi: client} }

func (*Generator) Name() string { return "poetry" }

func (*Generator) Supports(filename string) bool { return filename == Lockfile }

func (g *Generator) Generate(ctx context.Context, path string, opts generator.Options) ([]manifest.Source, error) {
	opts = opts.WithDefaults()

	var lock lockFile
	if _, err := toml.DecodeFile(path, &lock); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	var wanted []lockPackage
	for _, pkg := range lock.Package {
		if !included(pkg, !opts.Production) {
			continue
		}
		if pkg.Source != nil && pkg.Source.Type == "directory" {
			opts.Logf("skipping %s, source type is directory", pkg.Name)
			continue
		}
		wanted = append(wanted, pkg)
	}
	opts.Logf("resolving %d packages", len(wanted))

	sources, err := fetchmap.Map(ctx, wanted, opts.Jobs, func(ctx context.Context, pkg lockPackage) (manifest.Source, error) {
		hashes := packageHashes(pkg, lock.Metadata)
		file, err := g.pypi.FindRelease(ctx, pkg.Name, pkg.Version, hashes)
		if err != nil {
			return manifest.Source{}, err
		}
		checksum, err := integrity.FromHex("sha256", file.Digests.SHA256)
		if err != nil {
			return manifest.Source{}, fmt.Errorf("%s %s: %w", pkg.Name, pkg.Version, err)
		}
		opts.Logf("resolved %s %s -> %s", pkg.Name, pkg.Version, file.Filename)
		return manifest.Source{
			Type:     manifest.TypeFile,
			URL:      file.URL,
			Checksum: checksum,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return sources, nil
}

// included applies the dev and optional filters across the lockfile
// metadata formats. Format 2.0 tags dev packages with groups, older formats
// with category.
func included(pkg lockPackage, includeDevel bool) bool {
	if pkg.Optional {
		return false
	}
	if slices.Equal(pkg.Groups, []string{"dev"}) && !includeDevel {
		return false
	}
	if pkg.Category == "dev" && !includeDevel {
		return false
	}
	return true
}

func packageHashes(pkg lockPackage, meta lockMetadata) []string {
	files := pkg.Files
	if len(files) == 0 {
		files = meta.Files[pkg.Name]
	}
	var hashes []string
	for _, f := range files {
		if m := hashRE.FindStringSubmatch(f.Hash); m != nil {
			hashes = append(hashes, m[1])
		}
	}
	return hashes
}
