// Package metacpan talks to the MetaCPAN release API.
package metacpan

import (
	"context"
	"errors"
	"fmt"

	"github.com/offgrid-build/srcgen/pkg/registry"
)

const DefaultBaseURL = "https://fastapi.metacpan.org/v1"

// Release holds the mirror location and checksum of a CPAN release.
type Release struct {
	DownloadURL    string `json:"download_url"`
	ChecksumSHA256 string `json:"checksum_sha256"`
	Name           string `json:"name"`
	Author         string `json:"author"`
}

// Client provides access to the MetaCPAN API.
type Client struct {
	*registry.Client
	BaseURL string
}

// NewClient wraps base with MetaCPAN endpoints.
func NewClient(base *registry.Client) *Client {
	return &Client{Client: base, BaseURL: DefaultBaseURL}
}

// Release looks up a release by author ID and release name
// (e.g. "PEVANS", "Scalar-List-Utils-1.63").
func (c *Client) Release(ctx context.Context, author, name string) (*Release, error) {
	var rel Release
	url := fmt.Sprintf("%s/release/%s/%s", c.BaseURL, author, name)
	if err := c.GetJSON(ctx, url, &rel); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, fmt.Errorf("%w: cpan release %s/%s", err, author, name)
		}
		return nil, err
	}
	if rel.DownloadURL == "" {
		return nil, fmt.Errorf("cpan release %s/%s has no download URL", author, name)
	}
	if rel.ChecksumSHA256 == "" {
		return nil, fmt.Errorf("cpan release %s/%s has no sha256 checksum", author, name)
	}
	return &rel, nil
}
