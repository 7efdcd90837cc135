// Package maven resolves Maven coordinates into local-repository download
// lists.
//
// Unlike the lockfile converters, input is a list of
// groupId:artifactId:version[:classifier] coordinates. Each pom is fetched
// and walked for its parent and version-pinned dependencies, and every
// artifact is checksummed by downloading it.
package maven

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/offgrid-build/srcgen/pkg/generator"
	"github.com/offgrid-build/srcgen/pkg/integrity"
	"github.com/offgrid-build/srcgen/pkg/manifest"
	"github.com/offgrid-build/srcgen/pkg/registry"
)

const (
	DefaultRepo = "https://repo.maven.apache.org/maven2/"

	localRepoDir = "maven-local"

	// Poms published alongside Gradle module metadata carry this marker
	// comment.
	gradleMetadataMarker = "do_not_remove: published-with-gradle-metadata"
)

var propertyRE = regexp.MustCompile(`\$\{([^}]*)\}`)

// classifierArches maps native-artifact classifiers to output architecture
// filters.
var classifierArches = map[string]string{
	"linux-x86_64":   "x86_64",
	"linux-x86_32":   "i386",
	"linux-aarch_64": "aarch64",
	"linux-aarch_32": "arm",
}

// Coordinate identifies one artifact.
type Coordinate struct {
	Group      string
	Artifact   string
	Version    string
	Classifier string
}

// ParseCoordinate parses "groupId:artifactId:version[:classifier]".
func ParseCoordinate(s string) (Coordinate, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 && len(parts) != 4 {
		return Coordinate{}, fmt.Errorf("coordinate %q must be groupId:artifactId:version[:classifier]", s)
	}
	c := Coordinate{Group: parts[0], Artifact: parts[1], Version: parts[2]}
	if len(parts) == 4 {
		c.Classifier = parts[3]
	}
	return c, nil
}

func (c Coordinate) key() string {
	return c.Group + ":" + c.Artifact + ":" + c.Version
}

type pomRef struct {
	GroupID    string `xml:"groupId"`
	ArtifactID string `xml:"artifactId"`
	Version    string `xml:"version"`
}

type pomProject struct {
	GroupID      string        `xml:"groupId"`
	Version      string        `xml:"version"`
	Packaging    string        `xml:"packaging"`
	Parent       *pomRef       `xml:"parent"`
	Properties   pomProperties `xml:"properties"`
	Dependencies []pomRef      `xml:"dependencies>dependency"`
}

type pomProperties struct {
	Entries map[string]string
}

func (p *pomProperties) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	p.Entries = map[string]string{}
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			var value string
			if err := d.DecodeElement(&value, &t); err != nil {
				return err
			}
			p.Entries[t.Name.Local] = value
		case xml.EndElement:
			if t.Name == start.Name {
				return nil
			}
		}
	}
}

type gradleModule struct {
	Variants []struct {
		Files []struct {
			URL    string `json:"url"`
			SHA256 string `json:"sha256"`
		} `json:"files"`
	} `json:"variants"`
}

// Converter resolves coordinate trees. It deliberately does not implement
// the lockfile Generator interface; there is no lockfile.
type Converter struct {
	client *registry.Client
}

func New(client *registry.Client) *Converter { return &Converter{client: client} }

// Convert resolves every coordinate and its transitive pinned dependencies.
func (c *Converter) Convert(ctx context.Context, coordinates []string, opts generator.Options) ([]manifest.Source, error) {
	opts = opts.WithDefaults()

	repos := opts.Repos
	if len(repos) == 0 {
		repos = []string{DefaultRepo}
	}

	w := &walker{
		client:  c.client,
		repos:   repos,
		visited: map[string]bool{},
		logf:    opts.Logf,
	}
	for _, raw := range coordinates {
		coord, err := ParseCoordinate(raw)
		if err != nil {
			return nil, err
		}
		props, err := w.loadProperties(ctx, coord)
		if err != nil {
			return nil, err
		}
		if err := w.walk(ctx, coord, props); err != nil {
			return nil, err
		}
	}
	return w.sources, nil
}

type walker struct {
	client  *registry.Client
	repos   []string
	visited map[string]bool
	sources []manifest.Source
	logf    func(format string, args ...any)
}

func artifactURL(repo string, c Coordinate, extension string) string {
	group := strings.ReplaceAll(c.Group, ".", "/")
	name := c.Artifact + "-" + c.Version
	if c.Classifier != "" {
		name += "-" + c.Classifier
	}
	return fmt.Sprintf("%s%s/%s/%s/%s.%s", repo, group, c.Artifact, c.Version, name, extension)
}

func destDir(c Coordinate) string {
	group := strings.ReplaceAll(c.Group, ".", "/")
	return fmt.Sprintf("%s/%s/%s/%s", localRepoDir, group, c.Artifact, c.Version)
}

// fetchPom tries each repository in order and returns the first hit.
func (w *walker) fetchPom(ctx context.Context, c Coordinate) (string, []byte, error) {
	pomCoord := c
	pomCoord.Classifier = ""
	for _, repo := range w.repos {
		data, err := w.client.GetBytes(ctx, artifactURL(repo, pomCoord, "pom"))
		if errors.Is(err, registry.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", nil, err
		}
		return repo, data, nil
	}
	return "", nil, fmt.Errorf("%s not found in any repository", c.key())
}

// loadProperties collects the property table of a pom chain, child entries
// overriding parent ones.
func (w *walker) loadProperties(ctx context.Context, c Coordinate) (map[string]string, error) {
	_, data, err := w.fetchPom(ctx, c)
	if err != nil {
		return nil, err
	}
	var pom pomProject
	if err := xml.Unmarshal(data, &pom); err != nil {
		return nil, fmt.Errorf("parse pom for %s: %w", c.key(), err)
	}

	props := map[string]string{}
	if pom.Parent != nil {
		parentProps, err := w.loadProperties(ctx, Coordinate{
			Group:    pom.Parent.GroupID,
			Artifact: pom.Parent.ArtifactID,
			Version:  pom.Parent.Version,
		})
		if err != nil {
			return nil, err
		}
		for k, v := range parentProps {
			props[k] = v
		}
	}
	for k, v := range pom.Properties.Entries {
		props[k] = v
	}
	if pom.GroupID != "" {
		props["project.groupId"] = pom.GroupID
	}
	if pom.Version != "" {
		props["project.version"] = pom.Version
	}
	return props, nil
}

// substitute expands ${property} references. Unresolvable references are
// left in place and surface as a missing-artifact error downstream.
func substitute(s string, props map[string]string) string {
	for {
		m := propertyRE.FindStringSubmatch(s)
		if m == nil {
			return s
		}
		value, ok := props[m[1]]
		if !ok {
			return s
		}
		s = strings.Replace(s, m[0], value, 1)
	}
}

func (w *walker) walk(ctx context.Context, c Coordinate, props map[string]string) error {
	c.Group = substitute(c.Group, props)
	c.Artifact = substitute(c.Artifact, props)
	c.Version = substitute(c.Version, props)

	if w.visited[c.key()] {
		return nil
	}
	w.visited[c.key()] = true

	repo, pomData, err := w.fetchPom(ctx, c)
	if err != nil {
		return err
	}
	var pom pomProject
	if err := xml.Unmarshal(pomData, &pom); err != nil {
		return fmt.Errorf("parse pom for %s: %w", c.key(), err)
	}
	w.logf("resolving %s", c.key())

	if ext := packagingExtension(pom.Packaging); ext != "" {
		if err := w.addArtifact(ctx, repo, c, ext); err != nil {
			return err
		}
	}
	if strings.Contains(string(pomData), gradleMetadataMarker) {
		if err := w.addGradleModule(ctx, repo, c); err != nil {
			return err
		}
	}

	deps := pom.Dependencies
	if pom.Parent != nil {
		deps = append([]pomRef{*pom.Parent}, deps...)
	}
	for _, dep := range deps {
		if dep.Version == "" {
			// Versions managed elsewhere cannot be pinned from here.
			continue
		}
		child := Coordinate{Group: dep.GroupID, Artifact: dep.ArtifactID, Version: dep.Version}
		if err := w.walk(ctx, child, props); err != nil {
			return err
		}
	}

	pomCoord := c
	pomCoord.Classifier = ""
	w.sources = append(w.sources, manifest.Source{
		Type:     manifest.TypeFile,
		URL:      artifactURL(repo, pomCoord, "pom"),
		Checksum: integrity.SHA256(pomData),
		Dest:     destDir(c),
	})
	return nil
}

// packagingExtension maps a pom's packaging to the binary artifact
// extension, or "" when there is nothing to download.
func packagingExtension(packaging string) string {
	switch packaging {
	case "pom":
		return ""
	case "":
		return "jar"
	default:
		return packaging
	}
}

func (w *walker) addArtifact(ctx context.Context, repo string, c Coordinate, ext string) error {
	url := artifactURL(repo, c, ext)
	data, err := w.client.GetBytes(ctx, url)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	src := manifest.Source{
		Type:     manifest.TypeFile,
		URL:      url,
		Checksum: integrity.SHA256(data),
		Dest:     destDir(c),
	}
	if arch, ok := classifierArches[c.Classifier]; ok {
		src.OnlyArches = []string{arch}
	}
	w.sources = append(w.sources, src)
	return nil
}

func (w *walker) addGradleModule(ctx context.Context, repo string, c Coordinate) error {
	url := artifactURL(repo, c, "module")
	data, err := w.client.GetBytes(ctx, url)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	var module gradleModule
	if err := json.Unmarshal(data, &module); err != nil {
		return fmt.Errorf("parse module metadata for %s: %w", c.key(), err)
	}

	dest := destDir(c)
	base := strings.TrimSuffix(url, c.Artifact+"-"+c.Version+".module")
	for _, variant := range module.Variants {
		for _, file := range variant.Files {
			checksum, err := integrity.FromHex("sha256", file.SHA256)
			if err != nil {
				return fmt.Errorf("%s: %w", file.URL, err)
			}
			w.sources = append(w.sources, manifest.Source{
				Type:     manifest.TypeFile,
				URL:      base + file.URL,
				Checksum: checksum,
				Dest:     dest,
			})
		}
	}
	w.sources = append(w.sources, manifest.Source{
		Type:     manifest.TypeFile,
		URL:      url,
		Checksum: integrity.SHA256(data),
		Dest:     dest,
	})
	return nil
}
