// Package yarn converts Yarn v1 lockfiles into mirror download lists.
package yarn

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/offgrid-build/srcgen/pkg/generator"
	"github.com/offgrid-build/srcgen/pkg/integrity"
	"github.com/offgrid-build/srcgen/pkg/manifest"
)

const (
	Lockfile  = "yarn.lock"
	mirrorDir = "yarn-mirror"
)

var entryNameRE = regexp.MustCompile(`^"?(@?[a-zA-Z0-9/_.-]+)@`)

// Generator converts yarn.lock files. Offline installs point yarn at the
// mirror directory via yarn-offline-mirror.
type Generator struct{}

func New() *Generator { return &Generator{} }

func (*Generator) Name() string { return "yarn" }

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
		entries, err := g.parse(lockfile)
		if err != nil {
			return nil, err
		}
		opts.Logf("%s: %d entries", lockfile, len(entries))
		sources = append(sources, entries...)
	}
	return sources, nil
}

func (*Generator) parse(path string) ([]manifest.Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var (
		sources     []manifest.Source
		name        string
		version     string
		sawHeader   bool
		scanner     = bufio.NewScanner(f)
		lineCounter int
	)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		lineCounter++

		if strings.Contains(line, "# yarn lockfile v1") {
			sawHeader = true
			continue
		}
		if lineCounter > 10 && !sawHeader {
			return nil, fmt.Errorf("%s: not a yarn v1 lockfile", path)
		}

		switch {
		case isEntryHeader(line):
			if m := entryNameRE.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
				name = flattenName(m[1])
				version = ""
			}
		case name != "" && strings.Contains(line, "version "):
			version = strings.Trim(strings.TrimPrefix(strings.TrimSpace(line), "version "), `"`)
		case name != "" && version != "" && strings.Contains(line, "resolved "):
			resolved := strings.Trim(strings.TrimPrefix(strings.TrimSpace(line), "resolved "), `"`)
			url, sha1Hex, ok := strings.Cut(resolved, "#")
			if !ok {
				return nil, fmt.Errorf("%s: %s@%s resolved without checksum", path, name, version)
			}
			checksum, err := integrity.FromHex("sha1", sha1Hex)
			if err != nil {
				return nil, fmt.Errorf("%s: %s@%s: %w", path, name, version, err)
			}
			sources = append(sources, manifest.Source{
				Type:         manifest.TypeFile,
				URL:          url,
				Checksum:     checksum,
				Dest:         mirrorDir,
				DestFilename: name + "-" + version + ".tgz",
			})
			name = ""
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !sawHeader {
		return nil, fmt.Errorf("%s: not a yarn v1 lockfile", path)
	}
	return sources, nil
}

// isEntryHeader matches top-level "name@range:" lines. Nested blocks like
// dependencies are indented and skipped.
func isEntryHeader(line string) bool {
	if !strings.HasSuffix(line, ":") {
		return false
	}
	if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "#") {
		return false
	}
	return strings.Contains(line, "@")
}

// flattenName turns "@scope/name" into "scope-name" so the mirror filename
// has no directory separator.
func flattenName(name string) string {
	if !strings.HasPrefix(name, "@") {
		return name
	}
	return strings.ReplaceAll(strings.TrimPrefix(name, "@"), "/", "-")
}
