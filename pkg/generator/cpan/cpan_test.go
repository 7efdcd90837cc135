package cpan

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/offgrid-build/srcgen/pkg/cache"
	"github.com/offgrid-build/srcgen/pkg/generator"
	"github.com/offgrid-build/srcgen/pkg/registry"
	"github.com/offgrid-build/srcgen/pkg/registry/metacpan"
)

const snapshot = `# carton snapshot format: version 1.0
DISTRIBUTIONS
  Moo-2.005005
    pathname: H/HA/HAARG/Moo-2.005005.tar.gz
    provides:
      Moo 2.005005
    requirements:
      Scalar::Util 1.00
  Scalar-List-Utils-1.63
    pathname: P/PE/PEVANS/Scalar-List-Utils-1.63.tar.gz
    provides:
      List::Util 1.63
`

const mooChecksum = "1111111111111111111111111111111111111111111111111111111111111111"

func newGenerator(t *testing.T) *Generator {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/release/{author}/{name}", func(w http.ResponseWriter, req *http.Request) {
		switch chi.URLParam(req, "name") {
		case "Moo-2.005005":
			w.Write([]byte(`{
				"download_url": "https://cpan.metacpan.org/authors/id/H/HA/HAARG/Moo-2.005005.tar.gz",
				"checksum_sha256": "` + mooChecksum + `"
			}`))
		case "Scalar-List-Utils-1.63":
			w.Write([]byte(`{
				"download_url": "https://cpan.metacpan.org/authors/id/P/PE/PEVANS/Scalar-List-Utils-1.63.tar.gz",
				"checksum_sha256": "2222222222222222222222222222222222222222222222222222222222222222"
			}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	store, err := cache.NewFileCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	client := metacpan.NewClient(registry.NewClient(store, time.Hour, nil))
	client.BaseURL = server.URL
	return New(client)
}

func writeSnapshot(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), Lockfile)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestGenerate(t *testing.T) {
	path := writeSnapshot(t, snapshot)
	g := newGenerator(t)

	sources, err := g.Generate(context.Background(), path, generator.Options{})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("got %d sources, want 2", len(sources))
	}

	moo := sources[0]
	if moo.URL != "https://cpan.metacpan.org/authors/id/H/HA/HAARG/Moo-2.005005.tar.gz" {
		t.Errorf("URL = %q", moo.URL)
	}
	if moo.Checksum.Hex != mooChecksum {
		t.Errorf("Checksum.Hex = %q", moo.Checksum.Hex)
	}
	if moo.Dest != "cpan-mirror" {
		t.Errorf("Dest = %q", moo.Dest)
	}
	if moo.DestFilename != "Moo-2.005005.tar.gz" {
		t.Errorf("DestFilename = %q", moo.DestFilename)
	}
}

func TestGenerateUnknownReleaseFails(t *testing.T) {
	path := writeSnapshot(t, `DISTRIBUTIONS
  Gone-0.01
    pathname: X/XY/XYZZY/Gone-0.01.tar.gz
`)
	g := newGenerator(t)

	if _, err := g.Generate(context.Background(), path, generator.Options{}); err == nil {
		t.Error("Generate() should fail for unknown releases")
	}
}

func TestParsePathname(t *testing.T) {
	tests := []struct {
		pathname string
		author   string
		release  string
		wantErr  bool
	}{
		{"P/PE/PEVANS/Scalar-List-Utils-1.63.tar.gz", "PEVANS", "Scalar-List-Utils-1.63", false},
		{"H/HA/HAARG/Moo-2.005005.tgz", "HAARG", "Moo-2.005005", false},
		{"bad-path.tar.gz", "", "", true},
		{"P/PE/PEVANS/strange.rar", "", "", true},
	}
	for _, tt := range tests {
		dist, err := parsePathname(tt.pathname)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parsePathname(%q) should fail", tt.pathname)
			}
			continue
		}
		if err != nil {
			t.Errorf("parsePathname(%q) error: %v", tt.pathname, err)
			continue
		}
		if dist.author != tt.author || dist.release != tt.release {
			t.Errorf("parsePathname(%q) = %+v", tt.pathname, dist)
		}
	}
}
