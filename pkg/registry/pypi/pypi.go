// Package pypi talks to the PyPI JSON API.
package pypi

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/offgrid-build/srcgen/pkg/registry"
)

const DefaultBaseURL = "https://pypi.org/pypi"

// ReleaseFile is one downloadable artifact of a release.
type ReleaseFile struct {
	Filename      string  `json:"filename"`
	URL           string  `json:"url"`
	PackageType   string  `json:"packagetype"`
	PythonVersion string  `json:"python_version"`
	Digests       Digests `json:"digests"`
}

// Digests holds the artifact checksums PyPI publishes.
type Digests struct {
	SHA256 string `json:"sha256"`
}

type projectResponse struct {
	Releases map[string][]ReleaseFile `json:"releases"`
}

// Client provides access to the PyPI package registry API.
type Client struct {
	*registry.Client
	BaseURL string
}

// NewClient wraps base with PyPI endpoints.
func NewClient(base *registry.Client) *Client {
	return &Client{Client: base, BaseURL: DefaultBaseURL}
}

// NormalizeName converts a package name to its canonical form, lowercasing
// and replacing underscores and dots with hyphens per PEP 503.
func NormalizeName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, "_", "-")
	return strings.ReplaceAll(s, ".", "-")
}

// FindRelease selects the artifact to mirror for a pinned package version.
// Universal py3 wheels are preferred over sdists so offline installs skip the
// build step. When the lockfile supplies sha256 hashes, only artifacts
// matching one of them qualify.
func (c *Client) FindRelease(ctx context.Context, name, version string, sha256Hashes []string) (*ReleaseFile, error) {
	var project projectResponse
	url := fmt.Sprintf("%s/%s/json", c.BaseURL, NormalizeName(name))
	if err := c.GetJSON(ctx, url, &project); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, fmt.Errorf("%w: pypi package %s", err, name)
		}
		return nil, err
	}

	files, ok := project.Releases[version]
	if !ok {
		return nil, fmt.Errorf("pypi package %s has no release %s", name, version)
	}

	allowed := func(f ReleaseFile) bool {
		if len(sha256Hashes) == 0 {
			return true
		}
		for _, h := range sha256Hashes {
			if f.Digests.SHA256 == h {
				return true
			}
		}
		return false
	}

	for _, f := range files {
		if f.PackageType == "bdist_wheel" && isUniversalWheel(f) && allowed(f) {
			return &f, nil
		}
	}
	for _, f := range files {
		if f.PackageType == "sdist" && allowed(f) {
			return &f, nil
		}
	}
	return nil, fmt.Errorf("no usable artifact for %s %s", name, version)
}

// isUniversalWheel reports whether the wheel installs on any CPython 3 on any
// platform, the only kind safe to mirror without knowing the build host.
func isUniversalWheel(f ReleaseFile) bool {
	if f.PythonVersion != "py3" && f.PythonVersion != "py2.py3" {
		return false
	}
	return strings.HasSuffix(f.Filename, "-none-any.whl")
}
