// Package npm talks to the npm registry HTTP API.
package npm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/offgrid-build/srcgen/pkg/registry"
)

const DefaultBaseURL = "https://registry.npmjs.org"

// PackageIndex is the registry document for a package. Version bodies are
// kept raw so pinned snapshots reproduce the registry's own bytes.
type PackageIndex struct {
	Name     string                     `json:"name"`
	DistTags map[string]string          `json:"dist-tags"`
	Versions map[string]json.RawMessage `json:"versions"`
}

// Dist describes a version's tarball.
type Dist struct {
	Tarball   string `json:"tarball"`
	Integrity string `json:"integrity"`
	Shasum    string `json:"shasum"`
}

type versionDetails struct {
	Dist Dist `json:"dist"`
}

// Client provides access to an npm-compatible registry.
type Client struct {
	*registry.Client
	BaseURL string
}

// NewClient wraps base with npm registry endpoints.
func NewClient(base *registry.Client) *Client {
	return &Client{Client: base, BaseURL: DefaultBaseURL}
}

// Index fetches the full registry document for a package. Scoped names keep
// the "@" but encode the slash, matching what npm clients send.
func (c *Client) Index(ctx context.Context, name string) (*PackageIndex, error) {
	var index PackageIndex
	if err := c.GetJSON(ctx, c.BaseURL+"/"+encodeName(name), &index); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, fmt.Errorf("%w: npm package %s", err, name)
		}
		return nil, err
	}
	if index.Versions == nil {
		return nil, fmt.Errorf("invalid package index for %s", name)
	}
	return &index, nil
}

// Dist returns the tarball descriptor for one version of a package.
func (c *Client) Dist(ctx context.Context, name, version string) (*Dist, error) {
	index, err := c.Index(ctx, name)
	if err != nil {
		return nil, err
	}
	raw, ok := index.Versions[version]
	if !ok {
		return nil, fmt.Errorf("npm package %s has no version %s", name, version)
	}
	var details versionDetails
	if err := json.Unmarshal(raw, &details); err != nil {
		return nil, fmt.Errorf("decode %s@%s: %w", name, version, err)
	}
	return &details.Dist, nil
}

// BuildSnapshot assembles a minimal registry document pinned to a single
// version from its version body. Offline installs read it in place of the
// live index; dist-tags are emptied and only the resolved version is kept,
// so re-running against an updated registry still produces identical bytes.
func BuildSnapshot(name, version string, versionBody json.RawMessage) ([]byte, error) {
	var compact bytes.Buffer
	if err := json.Compact(&compact, versionBody); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(`{"name":`)
	writeJSONString(&buf, name)
	buf.WriteString(`,"dist-tags":{},"versions":{`)
	writeJSONString(&buf, version)
	buf.WriteByte(':')
	buf.Write(compact.Bytes())
	buf.WriteString(`}}`)
	return buf.Bytes(), nil
}

func writeJSONString(buf *bytes.Buffer, s string) {
	b, _ := json.Marshal(s)
	buf.Write(b)
}

func encodeName(name string) string {
	return strings.ReplaceAll(name, "/", "%2f")
}
