// Package gomod converts vendor/modules.txt files into git clone lists.
package gomod

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/offgrid-build/srcgen/pkg/generator"
	"github.com/offgrid-build/srcgen/pkg/manifest"
)

const Lockfile = "modules.txt"

type module struct {
	name     string
	tag      string
	revision string
}

// Generator converts the modules.txt a `go mod vendor` run writes. Each
// module becomes a git entry cloned into the vendor tree; the build then
// runs with -mod=vendor and no network.
type Generator struct{}

func New() *Generator { return &Generator{} }

func (*Generator) Name() string { return "gomod" }

func (*Generator) Supports(filename string) bool { return filename == Lockfile }

func (g *Generator) Generate(_ context.Context, path string, opts generator.Options) ([]manifest.Source, error) {
	opts = opts.WithDefaults()

	modules, err := parseModules(path)
	if err != nil {
		return nil, err
	}

	sources := make([]manifest.Source, 0, len(modules))
	for _, m := range modules {
		sources = append(sources, moduleSource(m))
	}
	opts.Logf("%s: %d modules", path, len(sources))
	return sources, nil
}

func parseModules(path string) ([]module, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var modules []module
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "# ") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			// Markers like "## explicit" and replacement lines.
			continue
		}
		name, version := fields[1], fields[2]

		m := module{name: name}
		if tag, revision, ok := splitPseudoVersion(version); ok {
			m.revision = revision
			m.tag = tag
		} else {
			// Strip +incompatible and similar build metadata.
			m.tag, _, _ = strings.Cut(version, "+")
		}
		modules = append(modules, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(modules) == 0 {
		return nil, fmt.Errorf("%s: no modules found", path)
	}
	return modules, nil
}

// splitPseudoVersion detects v1.2.3-0.20190101000000-abcdef123456 style
// versions, returning the base tag and the commit hash.
func splitPseudoVersion(version string) (tag, revision string, ok bool) {
	parts := strings.Split(version, "-")
	if len(parts) != 3 {
		return "", "", false
	}
	rev := parts[2]
	if len(rev) != 12 || !isHex(rev) {
		return "", "", false
	}
	return parts[0], rev, true
}

func isHex(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

func moduleSource(m module) manifest.Source {
	src := manifest.Source{
		Type: manifest.TypeGit,
		URL:  "https://" + cloneURL(m.name),
		Dest: "vendor/" + m.name,
	}
	if m.revision != "" {
		src.Commit = m.revision
	} else {
		src.Tag = m.tag
	}
	return src
}

// cloneURL maps a module path to its git remote. GitHub paths deeper than
// owner/repo point inside a repository, and golang.org/x modules live on
// go.googlesource.com.
func cloneURL(name string) string {
	url := name
	if strings.HasPrefix(name, "github.com") {
		parts := strings.Split(name, "/")
		if len(parts) > 3 {
			url = strings.Join(parts[:3], "/")
		}
	}
	return strings.Replace(url, "golang.org/x/", "go.googlesource.com/", 1)
}
