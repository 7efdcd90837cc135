// Package npm converts package-lock.json files into offline cache download
// lists laid out the way the npm content-addressed cache expects.
package npm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"github.com/offgrid-build/srcgen/pkg/generator"
	"github.com/offgrid-build/srcgen/pkg/integrity"
	"github.com/offgrid-build/srcgen/pkg/manifest"
	npmreg "github.com/offgrid-build/srcgen/pkg/registry/npm"
)

const (
	Lockfile = "package-lock.json"

	cacacheDir = "npm-cache/_cacache"
)

var aliasRE = regexp.MustCompile(`^npm:(.[^@]*)@(.*)$`)

type lockFile struct {
	LockfileVersion int    `json:"lockfileVersion"`
	Dependencies    depMap `json:"dependencies"`
}

type lockDep struct {
	Version      string `json:"version"`
	Resolved     string `json:"resolved"`
	Integrity    string `json:"integrity"`
	From         string `json:"from"`
	Dev          bool   `json:"dev"`
	Bundled      bool   `json:"bundled"`
	Dependencies depMap `json:"dependencies"`
}

// depMap is a dependency map that remembers JSON declaration order, so
// output order is stable and matches the lockfile.
type depMap struct {
	names []string
	deps  map[string]*lockDep
}

func (m *depMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("dependencies: expected object, got %v", tok)
	}

	m.deps = map[string]*lockDep{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name := tok.(string)

		var dep lockDep
		if err := dec.Decode(&dep); err != nil {
			return fmt.Errorf("dependency %s: %w", name, err)
		}
		m.names = append(m.names, name)
		m.deps[name] = &dep
	}
	_, err = dec.Token()
	return err
}

// Generator converts package-lock.json files, lockfile versions 1 and 2.
type Generator struct {
	registry *npmreg.Client

	// ElectronBaseURL overrides where electron release artifacts and
	// their checksum file are fetched from.
	ElectronBaseURL string
}

func New(client *npmreg.Client) *Generator { return &Generator{registry: client} }

func (*Generator) Name() string { return "npm" }

func (*Generator) Supports(filename string) bool { return filename == Lockfile }

func (g *Generator) Generate(ctx context.Context, path string, opts generator.Options) ([]manifest.Source, error) {
	opts = opts.WithDefaults()

	lockfiles, err := generator.Lockfiles(path, opts.Recursive)
	if err != nil {
		return nil, err
	}

	var sources []manifest.Source
	for _, lockfile := range lockfiles {
		opts.Logf("scanning %s", lockfile)
		entries, err := g.processLockfile(ctx, lockfile, opts)
		if err != nil {
			return nil, err
		}
		opts.Logf("%s: %d entries", lockfile, len(entries))
		sources = append(sources, entries...)
	}

	// The same tarball reachable from several lockfiles lands on one
	// cache path; keep the first occurrence.
	return manifest.Dedupe(sources), nil
}

func (g *Generator) processLockfile(ctx context.Context, path string, opts generator.Options) ([]manifest.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lock lockFile
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if lock.LockfileVersion > 2 {
		return nil, fmt.Errorf("%s: lockfile version %d is not supported", path, lock.LockfileVersion)
	}
	return g.processDependencies(ctx, lock.Dependencies, opts)
}

func (g *Generator) processDependencies(ctx context.Context, deps depMap, opts generator.Options) ([]manifest.Source, error) {
	var sources []manifest.Source
	for _, name := range deps.names {
		dep := deps.deps[name]
		if dep.Dev && opts.Production {
			continue
		}
		if dep.Bundled {
			continue
		}

		pkgName, version := name, dep.Version
		if m := aliasRE.FindStringSubmatch(version); m != nil {
			pkgName, version = m[1], m[2]
		}

		entries, err := g.packageSources(ctx, pkgName, version, dep, opts)
		if err != nil {
			return nil, err
		}
		sources = append(sources, entries...)

		nested, err := g.processDependencies(ctx, dep.Dependencies, opts)
		if err != nil {
			return nil, err
		}
		sources = append(sources, nested...)
	}
	return sources, nil
}

func (g *Generator) packageSources(ctx context.Context, name, version string, dep *lockDep, opts generator.Options) ([]manifest.Source, error) {
	if dep.From != "" {
		src, err := gitSource(name, version)
		if err != nil {
			return nil, err
		}
		return []manifest.Source{src}, nil
	}

	if dep.Resolved == "" {
		return nil, fmt.Errorf("%s@%s has no resolved URL", name, version)
	}

	checksum, err := g.resolveIntegrity(ctx, name, version, dep)
	if err != nil {
		return nil, err
	}

	sources := []manifest.Source{tarballSource(dep.Resolved, checksum)}

	if name == "electron" {
		electron, err := g.electronSources(ctx, version, opts)
		if err != nil {
			return nil, err
		}
		sources = append(sources, electron...)
	}
	return sources, nil
}

// resolveIntegrity prefers the lockfile's own integrity and falls back to a
// registry lookup for old entries that only carry a shasum or nothing.
func (g *Generator) resolveIntegrity(ctx context.Context, name, version string, dep *lockDep) (integrity.Integrity, error) {
	if dep.Integrity != "" {
		return integrity.Parse(dep.Integrity)
	}

	dist, err := g.registry.Dist(ctx, name, version)
	if err != nil {
		return integrity.Integrity{}, err
	}
	if dist.Integrity != "" {
		return integrity.Parse(dist.Integrity)
	}
	if dist.Shasum != "" {
		return integrity.FromHex("sha1", dist.Shasum)
	}
	return integrity.Integrity{}, fmt.Errorf("%s@%s has no integrity in dist", name, version)
}

// tarballSource places a tarball at its content-addressed cache path:
// content-v2/<algorithm>/<hex[0:2]>/<hex[2:4]>/<hex[4:]>.
func tarballSource(url string, checksum integrity.Integrity) manifest.Source {
	hex := checksum.Hex
	return manifest.Source{
		Type:         manifest.TypeFile,
		URL:          url,
		Checksum:     checksum,
		Dest:         fmt.Sprintf("%s/content-v2/%s/%s/%s", cacacheDir, checksum.Algorithm, hex[0:2], hex[2:4]),
		DestFilename: hex[4:],
	}
}
