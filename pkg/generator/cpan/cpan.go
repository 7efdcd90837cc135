// Package cpan converts carton cpanfile.snapshot files into CPAN mirror
// download lists.
package cpan

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/offgrid-build/srcgen/pkg/fetchmap"
	"github.com/offgrid-build/srcgen/pkg/generator"
	"github.com/offgrid-build/srcgen/pkg/integrity"
	"github.com/offgrid-build/srcgen/pkg/manifest"
	"github.com/offgrid-build/srcgen/pkg/registry/metacpan"
)

const (
	Lockfile  = "cpanfile.snapshot"
	mirrorDir = "cpan-mirror"
)

var archiveExts = []string{".tar.gz", ".tar.bz2", ".tgz", ".zip"}

type distribution struct {
	author  string
	release string
}

// Generator converts cpanfile.snapshot files.
type Generator struct {
	metacpan *metacpan.Client
}

func New(client *metacpan.Client) *Generator { return &Generator{metacpan: client} }

func (*Generator) Name() string { return "cpan" }

func (*Generator) Supports(filename string) bool { return filename == Lockfile }

func (g *Generator) Generate(ctx context.Context, path string, opts generator.Options) ([]manifest.Source, error) {
	opts = opts.WithDefaults()

	dists, err := parseSnapshot(path)
	if err != nil {
		return nil, err
	}
	opts.Logf("resolving %d distributions", len(dists))

	sources, err := fetchmap.Map(ctx, dists, opts.Jobs, func(ctx context.Context, dist distribution) (manifest.Source, error) {
		rel, err := g.metacpan.Release(ctx, dist.author, dist.release)
		if err != nil {
			return manifest.Source{}, err
		}
		checksum, err := integrity.FromHex("sha256", rel.ChecksumSHA256)
		if err != nil {
			return manifest.Source{}, fmt.Errorf("%s/%s: %w", dist.author, dist.release, err)
		}
		opts.Logf("resolved %s -> %s", dist.release, rel.DownloadURL)
		return manifest.Source{
			Type:         manifest.TypeFile,
			URL:          rel.DownloadURL,
			Checksum:     checksum,
			Dest:         mirrorDir,
			DestFilename: urlFilename(rel.DownloadURL),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return sources, nil
}

func parseSnapshot(snapshotPath string) ([]distribution, error) {
	f, err := os.Open(snapshotPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var dists []distribution
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		pathname, ok := strings.CutPrefix(line, "pathname: ")
		if !ok {
			continue
		}
		dist, err := parsePathname(pathname)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", snapshotPath, err)
		}
		dists = append(dists, dist)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(dists) == 0 {
		return nil, fmt.Errorf("%s: no distributions found", snapshotPath)
	}
	return dists, nil
}

// parsePathname splits the CPAN author-tree path "P/PE/PEVANS/Name-1.0.tar.gz"
// into the author ID and release name MetaCPAN indexes on.
func parsePathname(pathname string) (distribution, error) {
	parts := strings.Split(pathname, "/")
	if len(parts) != 4 {
		return distribution{}, fmt.Errorf("unexpected pathname %q", pathname)
	}
	author := parts[2]

	release := parts[3]
	stripped := false
	for _, ext := range archiveExts {
		if strings.HasSuffix(release, ext) {
			release = strings.TrimSuffix(release, ext)
			stripped = true
			break
		}
	}
	if !stripped {
		return distribution{}, fmt.Errorf("unexpected archive name %q", parts[3])
	}
	return distribution{author: author, release: release}, nil
}

func urlFilename(url string) string {
	return path.Base(url)
}
