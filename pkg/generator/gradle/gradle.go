// Package gradle converts gradle build logs into dependency download lists.
//
// Gradle has no lockfile equivalent covering plugin and distribution
// downloads, so the converter scrapes the URLs a --info build log records
// and checksums each artifact by downloading it.
package gradle

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/offgrid-build/srcgen/pkg/fetchmap"
	"github.com/offgrid-build/srcgen/pkg/generator"
	"github.com/offgrid-build/srcgen/pkg/integrity"
	"github.com/offgrid-build/srcgen/pkg/manifest"
	"github.com/offgrid-build/srcgen/pkg/registry"
)

const defaultDestDir = "dependencies"

// DefaultArches covers every architecture the scraped native launchers ship
// for.
var DefaultArches = []string{"x86_64", "aarch64", "i386", "arm"}

var urlRE = regexp.MustCompile(`https?://[\w/\-?=%.:]+\.[\w/\-?=%.]+`)

// gradleArches maps the platform tokens embedded in launcher URLs to the
// architecture names used in the output filter.
var gradleArches = map[string]string{
	"linux-x86_64":   "x86_64",
	"linux-x86_32":   "i386",
	"linux-aarch_64": "aarch64",
	"linux-aarch_32": "arm",
}

type download struct {
	url  string
	arch string
}

// Generator converts gradle log files.
type Generator struct {
	client *registry.Client
}

func New(client *registry.Client) *Generator { return &Generator{client: client} }

func (*Generator) Name() string { return "gradle" }

func (*Generator) Supports(filename string) bool {
	return strings.HasSuffix(filename, ".log")
}

func (g *Generator) Generate(ctx context.Context, path string, opts generator.Options) ([]manifest.Source, error) {
	opts = opts.WithDefaults()

	downloads, err := scrapeLog(path, opts.Arches)
	if err != nil {
		return nil, err
	}
	opts.Logf("checksumming %d artifacts", len(downloads))

	destDir := opts.DestDir
	if destDir == "" {
		destDir = defaultDestDir
	}

	sources, err := fetchmap.Map(ctx, downloads, opts.Jobs, func(ctx context.Context, dl download) (manifest.Source, error) {
		data, err := g.client.GetBytes(ctx, dl.url)
		if err != nil {
			return manifest.Source{}, err
		}
		src := manifest.Source{
			Type:     manifest.TypeFile,
			URL:      dl.url,
			Checksum: integrity.SHA256(data),
			Dest:     destDir,
		}
		if dl.arch != "" {
			src.OnlyArches = []string{dl.arch}
		}
		return src, nil
	})
	if err != nil {
		return nil, err
	}
	return sources, nil
}

func scrapeLog(path string, arches []string) ([]download, error) {
	tokens, err := gradleTokens(arches)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var downloads []download
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		for _, url := range urlRE.FindAllString(scanner.Text(), -1) {
			switch {
			case strings.HasSuffix(url, ".jar"):
				downloads = append(downloads, download{url: url})
			case strings.HasSuffix(url, ".exe"):
				downloads = append(downloads, expandLauncher(url, tokens)...)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return downloads, nil
}

// expandLauncher rewrites a native launcher URL across every requested
// architecture. URLs whose platform token is not in the requested set are
// dropped.
func expandLauncher(url string, tokens []string) []download {
	var host string
	for _, token := range tokens {
		if strings.Contains(url, token) {
			host = token
			break
		}
	}
	if host == "" {
		return nil
	}

	downloads := make([]download, 0, len(tokens))
	for _, token := range tokens {
		downloads = append(downloads, download{
			url:  strings.ReplaceAll(url, host, token),
			arch: gradleArches[token],
		})
	}
	return downloads
}

func gradleTokens(arches []string) ([]string, error) {
	reverse := make(map[string]string, len(gradleArches))
	for token, arch := range gradleArches {
		reverse[arch] = token
	}

	tokens := make([]string, 0, len(arches))
	for _, arch := range arches {
		token, ok := reverse[arch]
		if !ok {
			return nil, fmt.Errorf("unsupported architecture %q", arch)
		}
		tokens = append(tokens, token)
	}
	return tokens, nil
}
