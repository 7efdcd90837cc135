// Package pip converts pinned requirements files into PyPI download lists.
package pip

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/offgrid-build/srcgen/pkg/fetchmap"
	"github.com/offgrid-build/srcgen/pkg/generator"
	"github.com/offgrid-build/srcgen/pkg/integrity"
	"github.com/offgrid-build/srcgen/pkg/manifest"
	"github.com/offgrid-build/srcgen/pkg/registry/pypi"
)

const Lockfile = "requirements.txt"

type requirement struct {
	name    string
	version string
}

// Generator converts requirements.txt files. Every requirement must be
// pinned with ==; anything else cannot be resolved reproducibly.
type Generator struct {
	pypi *pypi.Client
}

func New(client *pypi.Client) *Generator { return &Generator{pypi: client} }

func (*Generator) Name() string { return "pip" }

func (*Generator) Supports(filename string) bool { return filename == Lockfile }

func (g *Generator) Generate(ctx context.Context, path string, opts generator.Options) ([]manifest.Source, error) {
	opts = opts.WithDefaults()

	reqs, err := parseRequirements(path)
	if err != nil {
		return nil, err
	}
	opts.Logf("resolving %d requirements", len(reqs))

	sources, err := fetchmap.Map(ctx, reqs, opts.Jobs, func(ctx context.Context, req requirement) (manifest.Source, error) {
		file, err := g.pypi.FindRelease(ctx, req.name, req.version, nil)
		if err != nil {
			return manifest.Source{}, err
		}
		checksum, err := integrity.FromHex("sha256", file.Digests.SHA256)
		if err != nil {
			return manifest.Source{}, fmt.Errorf("%s %s: %w", req.name, req.version, err)
		}
		opts.Logf("resolved %s %s -> %s", req.name, req.version, file.Filename)
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

func parseRequirements(path string) ([]requirement, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var reqs []requirement
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if i := strings.Index(line, "#"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line == "" {
			continue
		}

		// Environment markers and hash options do not affect which
		// artifact gets mirrored.
		if i := strings.Index(line, ";"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}

		name, version, ok := strings.Cut(line, "==")
		if !ok {
			return nil, fmt.Errorf("%s: requirement %q is not pinned with ==", path, line)
		}
		name = strings.TrimSpace(name)
		if i := strings.Index(name, "["); i >= 0 {
			name = name[:i]
		}
		reqs = append(reqs, requirement{name: name, version: strings.TrimSpace(version)})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return reqs, nil
}
