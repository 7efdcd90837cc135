package cargo

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/offgrid-build/srcgen/pkg/generator"
	"github.com/offgrid-build/srcgen/pkg/manifest"
)

const serdeChecksum = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

const modernLock = `
version = 3

[[package]]
name = "myapp"
version = "0.1.0"

[[package]]
name = "serde"
version = "1.0.200"
source = "registry+https://github.com/rust-lang/crates.io-index"
checksum = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
`

const legacyLock = `
[[package]]
name = "serde"
version = "1.0.100"
source = "registry+https://github.com/rust-lang/crates.io-index"

[metadata]
"checksum serde 1.0.100 (registry+https://github.com/rust-lang/crates.io-index)" = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
`

const missingChecksumLock = `
[[package]]
name = "serde"
version = "1.0.100"
source = "registry+https://github.com/rust-lang/crates.io-index"
`

func writeLockfile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), Lockfile)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestGenerate(t *testing.T) {
	path := writeLockfile(t, modernLock)

	sources, err := New().Generate(context.Background(), path, generator.Options{})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	// config + crate + checksum file; workspace member skipped.
	if len(sources) != 3 {
		t.Fatalf("got %d sources, want 3", len(sources))
	}

	config := sources[0]
	if config.Type != manifest.TypeInline {
		t.Errorf("config type = %q", config.Type)
	}
	if config.Dest != "cargo" || config.DestFilename != "config" {
		t.Errorf("config dest = %q/%q", config.Dest, config.DestFilename)
	}
	if !strings.Contains(config.Contents, `replace-with = "vendored-sources"`) {
		t.Errorf("config contents = %q", config.Contents)
	}
	if !strings.Contains(config.Contents, `directory = "cargo/vendor"`) {
		t.Errorf("config contents = %q", config.Contents)
	}

	crate := sources[1]
	if crate.URL != "https://static.crates.io/crates/serde/serde-1.0.200.crate" {
		t.Errorf("crate URL = %q", crate.URL)
	}
	if crate.Checksum.Hex != serdeChecksum {
		t.Errorf("crate checksum = %q", crate.Checksum.Hex)
	}
	if crate.Dest != "cargo/vendor" || crate.DestFilename != "serde-1.0.200.crate" {
		t.Errorf("crate dest = %q/%q", crate.Dest, crate.DestFilename)
	}

	sum := sources[2]
	if sum.Type != manifest.TypeInline {
		t.Errorf("checksum type = %q", sum.Type)
	}
	if sum.Dest != "cargo/vendor/serde-1.0.200" || sum.DestFilename != ".cargo-checksum.json" {
		t.Errorf("checksum dest = %q/%q", sum.Dest, sum.DestFilename)
	}
	want := `{"package": "` + serdeChecksum + `", "files": {}}`
	if sum.Contents != want {
		t.Errorf("checksum contents = %q, want %q", sum.Contents, want)
	}
}

func TestGenerateLegacyMetadataChecksums(t *testing.T) {
	path := writeLockfile(t, legacyLock)

	sources, err := New().Generate(context.Background(), path, generator.Options{})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if len(sources) != 3 {
		t.Fatalf("got %d sources, want 3", len(sources))
	}
	if sources[1].Checksum.Hex != serdeChecksum {
		t.Errorf("checksum = %q", sources[1].Checksum.Hex)
	}
}

func TestGenerateMissingChecksumFails(t *testing.T) {
	path := writeLockfile(t, missingChecksumLock)

	if _, err := New().Generate(context.Background(), path, generator.Options{}); err == nil {
		t.Error("Generate() should fail for a sourced package without checksum")
	}
}
