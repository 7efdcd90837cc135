// Package jsr talks to the jsr.io module registry.
package jsr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/offgrid-build/srcgen/pkg/registry"
)

const DefaultBaseURL = "https://jsr.io"

// ModuleMeta is the package-level meta.json document.
type ModuleMeta struct {
	Scope    string                     `json:"scope"`
	Name     string                     `json:"name"`
	Versions map[string]json.RawMessage `json:"versions"`
}

// VersionMeta is the per-version <version>_meta.json document. Raw holds the
// exact bytes served so pinned snapshots do not reformat the registry's JSON.
type VersionMeta struct {
	Manifest     map[string]ManifestEntry   `json:"manifest"`
	ModuleGraph2 map[string]json.RawMessage `json:"moduleGraph2"`

	Raw []byte `json:"-"`
}

// ManifestEntry describes one published file.
type ManifestEntry struct {
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}

// SHA256 extracts the hex digest from the "sha256-<hex>" checksum form.
func (e ManifestEntry) SHA256() (string, error) {
	hex, ok := strings.CutPrefix(e.Checksum, "sha256-")
	if !ok {
		return "", fmt.Errorf("unsupported checksum %q", e.Checksum)
	}
	return hex, nil
}

// Client provides access to the jsr registry API.
type Client struct {
	*registry.Client
	BaseURL string
}

// NewClient wraps base with jsr endpoints.
func NewClient(base *registry.Client) *Client {
	return &Client{Client: base, BaseURL: DefaultBaseURL}
}

// MetaURL returns the package-level metadata URL for a "@scope/name" package.
func (c *Client) MetaURL(name string) string {
	return fmt.Sprintf("%s/%s/meta.json", c.BaseURL, name)
}

// VersionMetaURL returns the version-level metadata URL.
func (c *Client) VersionMetaURL(name, version string) string {
	return fmt.Sprintf("%s/%s/%s_meta.json", c.BaseURL, name, version)
}

// FileURL returns the download URL for a published file. Manifest paths are
// rooted ("/mod.ts").
func (c *Client) FileURL(name, version, path string) string {
	return fmt.Sprintf("%s/%s/%s%s", c.BaseURL, name, version, path)
}

// Meta fetches the package-level metadata document, returning both the parsed
// form and the exact served bytes.
func (c *Client) Meta(ctx context.Context, name string) (*ModuleMeta, []byte, error) {
	raw, err := c.GetBytes(ctx, c.MetaURL(name))
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: jsr package %s", err, name)
		}
		return nil, nil, err
	}
	var meta ModuleMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, nil, fmt.Errorf("decode meta for %s: %w", name, err)
	}
	return &meta, raw, nil
}

// VersionMeta fetches the version-level metadata document.
func (c *Client) VersionMeta(ctx context.Context, name, version string) (*VersionMeta, error) {
	raw, err := c.GetBytes(ctx, c.VersionMetaURL(name, version))
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, fmt.Errorf("%w: jsr package %s version %s", err, name, version)
		}
		return nil, err
	}
	var meta VersionMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode version meta for %s@%s: %w", name, version, err)
	}
	meta.Raw = raw
	return &meta, nil
}

// PinnedMeta rewrites a package-level meta document so it lists only the
// resolved version. The served document changes as new versions publish;
// pinning keeps re-runs byte-stable.
func PinnedMeta(meta *ModuleMeta, version string) ([]byte, error) {
	body, ok := meta.Versions[version]
	if !ok {
		return nil, fmt.Errorf("version %s not in meta document", version)
	}
	pinned := ModuleMeta{
		Scope:    meta.Scope,
		Name:     meta.Name,
		Versions: map[string]json.RawMessage{version: body},
	}
	return json.Marshal(pinned)
}
