package npm

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/offgrid-build/srcgen/pkg/manifest"
)

// gitSchemes maps lockfile shorthand schemes to fetchable URLs. Schemes
// absent from the table pass through unchanged.
var gitSchemes = map[string]struct{ scheme, host string }{
	"github":    {scheme: "https", host: "github.com"},
	"gitlab":    {scheme: "https", host: "gitlab.com"},
	"bitbucket": {scheme: "https", host: "bitbucket.com"},
	"git":       {},
	"git+http":  {scheme: "http"},
	"git+https": {scheme: "https"},
}

// gitSource converts a git lockfile version such as "github:owner/repo#<commit>"
// or "git+https://host/repo.git#<commit>" into a pinned checkout entry.
func gitSource(name, version string) (manifest.Source, error) {
	u, err := url.Parse(version)
	if err != nil {
		return manifest.Source{}, fmt.Errorf("%s: parse git version %q: %w", name, version, err)
	}
	if u.Scheme == "" || u.Fragment == "" {
		return manifest.Source{}, fmt.Errorf("%s: git version %q must carry a scheme and a commit", name, version)
	}
	commit := u.Fragment
	u.Fragment = ""

	if repl, ok := gitSchemes[u.Scheme]; ok {
		if repl.scheme != "" {
			u.Scheme = repl.scheme
		}
		if repl.host != "" {
			u.Host = repl.host
		}
	}

	// Shorthand forms like github:owner/repo parse with an opaque part
	// instead of a path. Without a host the first path element is one,
	// e.g. git:github.com/owner/repo.
	if u.Opaque != "" {
		path := u.Opaque
		u.Opaque = ""
		if u.Host == "" {
			u.Host, path, _ = strings.Cut(path, "/")
		}
		u.Path = "/" + path
	}

	return manifest.Source{
		Type:   manifest.TypeGit,
		URL:    u.String(),
		Commit: commit,
		Dest:   fmt.Sprintf("git-packages/%s-%s", name, commit),
	}, nil
}
