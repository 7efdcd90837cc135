// Package deno converts deno.lock files into offline vendor download lists.
//
// Three dependency classes appear in a lockfile: jsr packages (resolved
// against the module registry's metadata documents), npm compatibility
// packages (fully resolved in the lockfile itself, no fetches needed), and
// plain remote URL imports.
package deno

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/offgrid-build/srcgen/pkg/fetchmap"
	"github.com/offgrid-build/srcgen/pkg/generator"
	"github.com/offgrid-build/srcgen/pkg/integrity"
	"github.com/offgrid-build/srcgen/pkg/manifest"
	"github.com/offgrid-build/srcgen/pkg/pathsafe"
	"github.com/offgrid-build/srcgen/pkg/registry/jsr"
	npmreg "github.com/offgrid-build/srcgen/pkg/registry/npm"
)

const (
	Lockfile = "deno.lock"

	jsrVendorDir = "vendor/jsr.io"

	// Compatibility-registry base paths. Downstream caches have probed
	// both layouts over time.
	npmCompatPrimary   = "npm/registry.npmjs.org"
	npmCompatSecondary = "deno_dir/npm/registry.npmjs.org"

	// skipGraphOnlyFiles controls whether module-graph paths missing from
	// the manifest map are silently skipped. Kept as a single decision
	// point in case they should become an error instead.
	skipGraphOnlyFiles = true
)

type lockPackage struct {
	Integrity string `json:"integrity"`
}

type lockFile struct {
	Version  string `json:"version"`
	Packages struct {
		JSR map[string]lockPackage `json:"jsr"`
		NPM map[string]lockPackage `json:"npm"`
	} `json:"packages"`
	JSR    map[string]lockPackage `json:"jsr"`
	NPM    map[string]lockPackage `json:"npm"`
	Remote map[string]string      `json:"remote"`
}

// jsrPackages returns the jsr map for the lockfile's schema version.
func (l *lockFile) jsrPackages() map[string]lockPackage {
	if l.Version == "3" {
		return l.Packages.JSR
	}
	return l.JSR
}

func (l *lockFile) npmPackages() map[string]lockPackage {
	if l.Version == "3" {
		return l.Packages.NPM
	}
	return l.NPM
}

// Generator converts deno.lock files, schema versions 3 and 4.
type Generator struct {
	jsr *jsr.Client
}

func New(client *jsr.Client) *Generator { return &Generator{jsr: client} }

func (*Generator) Name() string { return "deno" }

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
	if lock.Version != "3" && lock.Version != "4" {
		return nil, fmt.Errorf("%s: lockfile version %q is not supported", path, lock.Version)
	}

	// Lockfile maps are unordered; sorted keys keep re-runs byte-stable.
	jsrSources, err := g.jsrSources(ctx, lock.jsrPackages(), opts)
	if err != nil {
		return nil, err
	}

	npmSources, err := npmCompatSources(lock.npmPackages(), opts.CompatPaths)
	if err != nil {
		return nil, err
	}

	remoteSources, err := remoteSources(lock.Remote)
	if err != nil {
		return nil, err
	}

	sources := jsrSources
	sources = append(sources, npmSources...)
	sources = append(sources, remoteSources...)
	return sources, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// splitNameVersion splits "@scope/name@1.2.3" at the version separator.
func splitNameVersion(key string) (name, version string, err error) {
	i := strings.LastIndex(key, "@")
	if i <= 0 {
		return "", "", fmt.Errorf("malformed package key %q", key)
	}
	return key[:i], key[i+1:], nil
}

func (g *Generator) jsrSources(ctx context.Context, packages map[string]lockPackage, opts generator.Options) ([]manifest.Source, error) {
	lists, err := fetchmap.Map(ctx, sortedKeys(packages), opts.Jobs, func(ctx context.Context, key string) ([]manifest.Source, error) {
		name, version, err := splitNameVersion(key)
		if err != nil {
			return nil, err
		}
		return g.jsrPackageSources(ctx, name, version, opts)
	})
	if err != nil {
		return nil, err
	}
	return fetchmap.Flatten(lists), nil
}

// jsrPackageSources resolves one jsr package: pinned metadata snapshots
// first, then one file entry per published file.
func (g *Generator) jsrPackageSources(ctx context.Context, name, version string, opts generator.Options) ([]manifest.Source, error) {
	meta, _, err := g.jsr.Meta(ctx, name)
	if err != nil {
		return nil, err
	}
	pinned, err := jsr.PinnedMeta(meta, version)
	if err != nil {
		return nil, fmt.Errorf("jsr package %s: %w", name, err)
	}
	versionMeta, err := g.jsr.VersionMeta(ctx, name, version)
	if err != nil {
		return nil, err
	}

	packageDir := jsrVendorDir + "/" + name
	sources := []manifest.Source{
		{
			Type:         manifest.TypeInline,
			Contents:     string(pinned),
			Dest:         packageDir,
			DestFilename: "meta.json",
		},
		{
			Type:         manifest.TypeInline,
			Contents:     string(versionMeta.Raw),
			Dest:         packageDir,
			DestFilename: version + "_meta.json",
		},
	}

	for _, graphPath := range sortedKeys(versionMeta.ModuleGraph2) {
		if _, ok := versionMeta.Manifest[graphPath]; ok {
			continue
		}
		if !skipGraphOnlyFiles {
			return nil, fmt.Errorf("%s@%s: graph path %s has no manifest record", name, version, graphPath)
		}
		// Graph entries without a manifest record reference files that
		// are never served standalone.
		opts.Logf("%s@%s: skipping graph-only path %s", name, version, graphPath)
	}

	versionDir := packageDir + "/" + version
	for _, filePath := range sortedKeys(versionMeta.Manifest) {
		digest, err := versionMeta.Manifest[filePath].SHA256()
		if err != nil {
			return nil, fmt.Errorf("%s@%s %s: %w", name, version, filePath, err)
		}
		checksum, err := integrity.FromHex("sha256", digest)
		if err != nil {
			return nil, fmt.Errorf("%s@%s %s: %w", name, version, filePath, err)
		}

		segments := pathsafe.SafeSegments(strings.TrimPrefix(filePath, "/"))
		dest := versionDir
		if len(segments) > 1 {
			dest += "/" + strings.Join(segments[:len(segments)-1], "/")
		}
		sources = append(sources, manifest.Source{
			Type:         manifest.TypeFile,
			URL:          g.jsr.FileURL(name, version, filePath),
			Checksum:     checksum,
			Dest:         dest,
			DestFilename: segments[len(segments)-1],
		})
	}
	return sources, nil
}

// npmCompatSources emits entries for npm compatibility packages. Everything
// needed is already in the lockfile, so no registry calls are made. Each
// package gets a pinned registry snapshot plus the tarball, laid out under
// one or both known base paths.
func npmCompatSources(packages map[string]lockPackage, compat generator.CompatPaths) ([]manifest.Source, error) {
	var bases []string
	switch compat {
	case generator.CompatPrimary:
		bases = []string{npmCompatPrimary}
	case generator.CompatBoth:
		bases = []string{npmCompatPrimary, npmCompatSecondary}
	default:
		return nil, fmt.Errorf("unknown compatibility path layout %q", compat)
	}

	var sources []manifest.Source
	for _, key := range sortedKeys(packages) {
		name, rawVersion, err := splitNameVersion(key)
		if err != nil {
			return nil, err
		}
		// Peer-dependency resolution suffixes ("_react@18.2.0") are not
		// part of the published version.
		version, _, _ := strings.Cut(rawVersion, "_")

		checksum, err := integrity.Parse(packages[key].Integrity)
		if err != nil {
			return nil, fmt.Errorf("npm package %s: %w", key, err)
		}

		tarball := npmTarballURL(name, version)
		snapshot, err := npmSnapshot(name, version, tarball, checksum)
		if err != nil {
			return nil, fmt.Errorf("npm package %s: %w", key, err)
		}

		for _, base := range bases {
			sources = append(sources,
				manifest.Source{
					Type:         manifest.TypeInline,
					Contents:     string(snapshot),
					Dest:         base + "/" + name,
					DestFilename: "registry.json",
				},
				manifest.Source{
					Type:            manifest.TypeArchive,
					URL:             tarball,
					Checksum:        checksum,
					ArchiveType:     "tar-gzip",
					StripComponents: 1,
					Dest:            base + "/" + name + "/" + version,
				},
			)
		}
	}
	return sources, nil
}

func npmTarballURL(name, version string) string {
	base := name
	if i := strings.LastIndex(name, "/"); i >= 0 {
		base = name[i+1:]
	}
	return fmt.Sprintf("%s/%s/-/%s-%s.tgz", npmreg.DefaultBaseURL, name, base, version)
}

// npmSnapshot builds the minimal version body locally; the registry document
// it stands in for is never fetched.
func npmSnapshot(name, version, tarball string, checksum integrity.Integrity) ([]byte, error) {
	body, err := json.Marshal(map[string]any{
		"name":    name,
		"version": version,
		"dist": map[string]string{
			"tarball":   tarball,
			"integrity": checksum.SRI(),
		},
	})
	if err != nil {
		return nil, err
	}
	return npmreg.BuildSnapshot(name, version, body)
}

// remoteSources emits one file entry per plain remote import, vendored under
// filesystem-safe per-segment paths. The query string stays attached to the
// leaf segment so two imports differing only in their query hash to distinct
// filenames.
func remoteSources(remote map[string]string) ([]manifest.Source, error) {
	var sources []manifest.Source
	for _, rawURL := range sortedKeys(remote) {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("remote %s: %w", rawURL, err)
		}
		checksum, err := integrity.FromHex("sha256", remote[rawURL])
		if err != nil {
			return nil, fmt.Errorf("remote %s: %w", rawURL, err)
		}

		p := strings.TrimPrefix(u.Path, "/")
		leaf := p
		dest := "vendor/" + pathsafe.SafeSegment(u.Host)
		if i := strings.LastIndex(p, "/"); i >= 0 {
			dest += "/" + pathsafe.SafePath(p[:i])
			leaf = p[i+1:]
		}
		if u.RawQuery != "" {
			leaf += "?" + u.RawQuery
		}
		sources = append(sources, manifest.Source{
			Type:         manifest.TypeFile,
			URL:          rawURL,
			Checksum:     checksum,
			Dest:         dest,
			DestFilename: pathsafe.SafeSegment(leaf),
		})
	}
	return sources, nil
}
