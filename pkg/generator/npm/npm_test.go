package npm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/offgrid-build/srcgen/pkg/cache"
	"github.com/offgrid-build/srcgen/pkg/generator"
	"github.com/offgrid-build/srcgen/pkg/integrity"
	"github.com/offgrid-build/srcgen/pkg/registry"
	npmreg "github.com/offgrid-build/srcgen/pkg/registry/npm"
)

func newGenerator(t *testing.T) *Generator {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/real", func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, `{
			"name": "real",
			"dist-tags": {"latest": "2.0.0"},
			"versions": {
				"2.0.0": {
					"version": "2.0.0",
					"dist": {
						"tarball": "https://registry.npmjs.org/real/-/real-2.0.0.tgz",
						"shasum": "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d"
					}
				}
			}
		}`)
	})
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	store, err := cache.NewFileCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	client := npmreg.NewClient(registry.NewClient(store, time.Hour, nil))
	client.BaseURL = server.URL
	return New(client)
}

func writeLockfile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, Lockfile)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func sriOf(data string) (sri, hex string) {
	sum := integrity.SHA256([]byte(data))
	return sum.SRI(), sum.Hex
}

func TestGenerate(t *testing.T) {
	g := newGenerator(t)

	bSRI, bHex := sriOf("b tarball")
	aSRI, aHex := sriOf("a tarball")
	nestedSRI, _ := sriOf("nested tarball")
	lock := fmt.Sprintf(`{
		"lockfileVersion": 2,
		"dependencies": {
			"b-pkg": {
				"version": "2.0.0",
				"resolved": "https://registry.npmjs.org/b-pkg/-/b-pkg-2.0.0.tgz",
				"integrity": %q
			},
			"a-pkg": {
				"version": "1.0.0",
				"resolved": "https://registry.npmjs.org/a-pkg/-/a-pkg-1.0.0.tgz",
				"integrity": %q,
				"dependencies": {
					"nested": {
						"version": "3.0.0",
						"resolved": "https://registry.npmjs.org/nested/-/nested-3.0.0.tgz",
						"integrity": %q
					}
				}
			},
			"bundled-pkg": {
				"version": "4.0.0",
				"bundled": true
			}
		}
	}`, bSRI, aSRI, nestedSRI)
	path := writeLockfile(t, t.TempDir(), lock)

	sources, err := g.Generate(context.Background(), path, generator.Options{})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	// Lockfile declaration order is kept: b-pkg, a-pkg, then its nested
	// dependency. The bundled package ships inside its parent tarball.
	if len(sources) != 3 {
		t.Fatalf("got %d sources, want 3", len(sources))
	}

	b := sources[0]
	if b.URL != "https://registry.npmjs.org/b-pkg/-/b-pkg-2.0.0.tgz" {
		t.Errorf("URL = %q", b.URL)
	}
	if b.Checksum.Hex != bHex {
		t.Errorf("Checksum.Hex = %q", b.Checksum.Hex)
	}
	if b.Dest != "npm-cache/_cacache/content-v2/sha256/"+bHex[0:2]+"/"+bHex[2:4] {
		t.Errorf("Dest = %q", b.Dest)
	}
	if b.DestFilename != bHex[4:] {
		t.Errorf("DestFilename = %q", b.DestFilename)
	}

	if sources[1].Checksum.Hex != aHex {
		t.Errorf("sources[1].Checksum.Hex = %q", sources[1].Checksum.Hex)
	}
	if sources[2].URL != "https://registry.npmjs.org/nested/-/nested-3.0.0.tgz" {
		t.Errorf("sources[2].URL = %q", sources[2].URL)
	}
}

func TestGenerateProductionSkipsDev(t *testing.T) {
	g := newGenerator(t)

	sri, _ := sriOf("tool tarball")
	lock := fmt.Sprintf(`{
		"lockfileVersion": 1,
		"dependencies": {
			"devtool": {
				"version": "1.0.0",
				"resolved": "https://registry.npmjs.org/devtool/-/devtool-1.0.0.tgz",
				"integrity": %q,
				"dev": true
			}
		}
	}`, sri)
	path := writeLockfile(t, t.TempDir(), lock)

	sources, err := g.Generate(context.Background(), path, generator.Options{Production: true})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if len(sources) != 0 {
		t.Errorf("got %d sources, want 0", len(sources))
	}

	sources, err = g.Generate(context.Background(), path, generator.Options{})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if len(sources) != 1 {
		t.Errorf("got %d sources, want the dev dependency by default", len(sources))
	}
}

func TestGenerateLockfileVersion3Fails(t *testing.T) {
	g := newGenerator(t)
	path := writeLockfile(t, t.TempDir(), `{"lockfileVersion": 3, "dependencies": {}}`)

	if _, err := g.Generate(context.Background(), path, generator.Options{}); err == nil {
		t.Error("Generate() should reject lockfile version 3")
	}
}

func TestGenerateAliasRegistryFallback(t *testing.T) {
	g := newGenerator(t)

	// No integrity in the lockfile, so the registry is consulted under
	// the aliased package's real name. The registry only has a shasum.
	lock := `{
		"lockfileVersion": 1,
		"dependencies": {
			"aliased": {
				"version": "npm:real@2.0.0",
				"resolved": "https://registry.npmjs.org/real/-/real-2.0.0.tgz"
			}
		}
	}`
	path := writeLockfile(t, t.TempDir(), lock)

	sources, err := g.Generate(context.Background(), path, generator.Options{})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if len(sources) != 1 {
		t.Fatalf("got %d sources, want 1", len(sources))
	}
	src := sources[0]
	if src.Checksum.Algorithm != "sha1" {
		t.Errorf("Checksum.Algorithm = %q", src.Checksum.Algorithm)
	}
	if src.Checksum.Hex != "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d" {
		t.Errorf("Checksum.Hex = %q", src.Checksum.Hex)
	}
	if src.Dest != "npm-cache/_cacache/content-v2/sha1/aa/f4" {
		t.Errorf("Dest = %q", src.Dest)
	}
}

func TestGenerateGitDependency(t *testing.T) {
	g := newGenerator(t)

	lock := `{
		"lockfileVersion": 1,
		"dependencies": {
			"zing": {
				"version": "github:owner/zing#9c6b057a2b9d96a4067a749ee3b3b0158d390cf1",
				"from": "zing@github:owner/zing"
			}
		}
	}`
	path := writeLockfile(t, t.TempDir(), lock)

	sources, err := g.Generate(context.Background(), path, generator.Options{})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if len(sources) != 1 {
		t.Fatalf("got %d sources, want 1", len(sources))
	}
	src := sources[0]
	if src.Type != "git" {
		t.Errorf("Type = %q", src.Type)
	}
	if src.URL != "https://github.com/owner/zing" {
		t.Errorf("URL = %q", src.URL)
	}
	if src.Commit != "9c6b057a2b9d96a4067a749ee3b3b0158d390cf1" {
		t.Errorf("Commit = %q", src.Commit)
	}
	if src.Dest != "git-packages/zing-9c6b057a2b9d96a4067a749ee3b3b0158d390cf1" {
		t.Errorf("Dest = %q", src.Dest)
	}
}

func TestGenerateRecursiveDedupes(t *testing.T) {
	g := newGenerator(t)

	sri, _ := sriOf("shared tarball")
	lock := fmt.Sprintf(`{
		"lockfileVersion": 1,
		"dependencies": {
			"shared": {
				"version": "1.0.0",
				"resolved": "https://registry.npmjs.org/shared/-/shared-1.0.0.tgz",
				"integrity": %q
			}
		}
	}`, sri)

	root := t.TempDir()
	writeLockfile(t, root, lock)
	sub := filepath.Join(root, "packages", "app")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	writeLockfile(t, sub, lock)

	sources, err := g.Generate(context.Background(), filepath.Join(root, Lockfile), generator.Options{Recursive: true})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if len(sources) != 1 {
		t.Errorf("got %d sources, want the shared tarball once", len(sources))
	}
}

func TestGitSource(t *testing.T) {
	tests := []struct {
		version string
		url     string
		commit  string
	}{
		{"github:owner/repo#abc1234", "https://github.com/owner/repo", "abc1234"},
		{"gitlab:group/proj#abc1234", "https://gitlab.com/group/proj", "abc1234"},
		{"git+https://somewhere.place/scope/zing#def5678", "https://somewhere.place/scope/zing", "def5678"},
		{"git+http://internal/repo.git#def5678", "http://internal/repo.git", "def5678"},
		{"git:github.com/owner/repo#abc1234", "git://github.com/owner/repo", "abc1234"},
	}
	for _, tt := range tests {
		src, err := gitSource("pkg", tt.version)
		if err != nil {
			t.Errorf("gitSource(%q) error: %v", tt.version, err)
			continue
		}
		if src.URL != tt.url {
			t.Errorf("gitSource(%q).URL = %q, want %q", tt.version, src.URL, tt.url)
		}
		if src.Commit != tt.commit {
			t.Errorf("gitSource(%q).Commit = %q, want %q", tt.version, src.Commit, tt.commit)
		}
	}

	if _, err := gitSource("pkg", "github:owner/repo"); err == nil {
		t.Error("gitSource() should require a commit fragment")
	}
}

func TestGenerateElectron(t *testing.T) {
	g := newGenerator(t)

	shasums := "1111111111111111111111111111111111111111111111111111111111111111 *electron-v20.0.0-linux-x64.zip\n" +
		"2222222222222222222222222222222222222222222222222222222222222222 *electron-v20.0.0-linux-arm64.zip\n" +
		"3333333333333333333333333333333333333333333333333333333333333333 *electron-v20.0.0-linux-armv7l.zip\n" +
		"4444444444444444444444444444444444444444444444444444444444444444 *electron-v20.0.0-darwin-x64.zip\n"
	releases := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "/SHASUMS256.txt" {
			fmt.Fprint(w, shasums)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(releases.Close)
	g.ElectronBaseURL = releases.URL

	sri, _ := sriOf("electron tarball")
	lock := fmt.Sprintf(`{
		"lockfileVersion": 2,
		"dependencies": {
			"electron": {
				"version": "20.0.0",
				"resolved": "https://registry.npmjs.org/electron/-/electron-20.0.0.tgz",
				"integrity": %q
			}
		}
	}`, sri)
	path := writeLockfile(t, t.TempDir(), lock)

	sources, err := g.Generate(context.Background(), path, generator.Options{})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	// The npm tarball, three linux zips (ia32 dropped in v19+), and the
	// checksum file.
	if len(sources) != 5 {
		t.Fatalf("got %d sources, want 5", len(sources))
	}

	byArch := map[string]string{}
	for _, src := range sources[1:4] {
		if len(src.OnlyArches) != 1 {
			t.Fatalf("OnlyArches = %v, want exactly one", src.OnlyArches)
		}
		if src.Dest != "electron-cache" {
			t.Errorf("Dest = %q", src.Dest)
		}
		byArch[src.OnlyArches[0]] = src.Checksum.Hex
	}
	if byArch["x86_64"] != "1111111111111111111111111111111111111111111111111111111111111111" {
		t.Errorf("x86_64 checksum = %q", byArch["x86_64"])
	}
	if byArch["aarch64"] != "2222222222222222222222222222222222222222222222222222222222222222" {
		t.Errorf("aarch64 checksum = %q", byArch["aarch64"])
	}
	if byArch["arm"] != "3333333333333333333333333333333333333333333333333333333333333333" {
		t.Errorf("arm checksum = %q", byArch["arm"])
	}
	if _, ok := byArch["i386"]; ok {
		t.Error("ia32 build should be dropped for electron 19+")
	}

	checksumFile := sources[4]
	if checksumFile.DestFilename != "SHASUMS256.txt-20.0.0" {
		t.Errorf("DestFilename = %q", checksumFile.DestFilename)
	}
	if checksumFile.Checksum.Hex != integrity.SHA256([]byte(shasums)).Hex {
		t.Errorf("Checksum.Hex = %q", checksumFile.Checksum.Hex)
	}
	if checksumFile.URL != releases.URL+"/SHASUMS256.txt" {
		t.Errorf("URL = %q", checksumFile.URL)
	}
}

func TestParseShasums(t *testing.T) {
	sums, err := parseShasums("aaaa *file-a.zip\nbbbb *file-b.zip\n")
	if err != nil {
		t.Fatal(err)
	}
	if sums["file-a.zip"] != "aaaa" || sums["file-b.zip"] != "bbbb" {
		t.Errorf("sums = %v", sums)
	}

	if _, err := parseShasums("not a checksum line with extra fields here\n"); err == nil {
		t.Error("parseShasums() should reject malformed lines")
	}
}

func TestElectronMajor(t *testing.T) {
	if got := electronMajor("18.3.5"); got != 18 {
		t.Errorf("electronMajor = %d", got)
	}
	if got := electronMajor("22.0.0-beta.1"); got != 22 {
		t.Errorf("electronMajor = %d", got)
	}
}
