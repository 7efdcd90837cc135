// Package pathsafe converts URL path segments into filesystem-safe names.
//
// Registry-hosted files can carry path segments with mixed case, reserved
// characters, or arbitrary length, none of which are safe to reuse verbatim as
// destination paths on every filesystem backing a build sandbox. Segments that
// need it are replaced by a deterministic hashed form: the same input always
// produces the same output, and hashing one segment never changes its
// siblings, so unrelated lockfile edits leave existing destinations untouched.
package pathsafe

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode/utf8"
)

const (
	// maxSegmentLen is the longest segment accepted without hashing.
	maxSegmentLen = 30
	// prefixLen is how much of the original segment survives, lowercased,
	// in the human-readable part of a hashed name.
	prefixLen = 20
)

// forbidden reports whether r may not appear in a destination segment.
// Uppercase ASCII counts as forbidden so that results are identical on
// case-insensitive filesystems.
func forbidden(r rune) bool {
	switch r {
	case '?', '<', '>', ':', '*', '|', '\\', '"', '\'', '/':
		return true
	}
	return r >= 'A' && r <= 'Z'
}

// ShouldHash reports whether segment must be replaced by its hashed form:
// empty segments, segments longer than 30 characters, and segments containing
// a forbidden character (including any uppercase ASCII letter).
func ShouldHash(segment string) bool {
	if segment == "" || utf8.RuneCountInString(segment) > maxSegmentLen {
		return true
	}
	return strings.ContainsFunc(segment, forbidden)
}

// ShortHash returns the hashed form of segment. The result starts with "#",
// followed by a lowercased, underscore-substituted prefix of the original
// segment (at most 20 characters, truncated at the first "?"), an
// abbreviation of the segment's SHA-256 digest, and the original extension.
//
// The digest always covers the entire original segment, so two segments that
// differ anywhere yield different names even when their prefixes collide.
func ShortHash(segment string) string {
	sum := sha256.Sum256([]byte(segment))
	digest := hex.EncodeToString(sum[:])

	ext := ""
	if i := strings.LastIndex(segment, "."); i >= 0 {
		ext = segment[i:]
	}

	// Character counts, not byte counts, so a multi-byte rune is never
	// split mid-sequence.
	head := segment
	if runes := []rune(segment); len(runes) > prefixLen {
		head = string(runes[:prefixLen])
	}
	head = strings.ToLower(head)

	var b strings.Builder
	for _, r := range head {
		if r == '?' {
			break
		}
		if forbidden(r) {
			b.WriteRune('_')
		} else {
			b.WriteRune(r)
		}
	}
	prefix := b.String()
	if i := strings.LastIndex(prefix, "."); i >= 0 {
		prefix = prefix[:i]
	}

	if prefix == "" {
		return "#" + digest[:7] + ext
	}
	return "#" + prefix + "_" + digest[:5] + ext
}

// SafeSegment returns segment unchanged when it is already filesystem-safe,
// or its ShortHash otherwise.
func SafeSegment(segment string) string {
	if ShouldHash(segment) {
		return ShortHash(segment)
	}
	return segment
}

// SafePath applies SafeSegment to every "/"-separated element of p,
// including the final filename element. Each directory level is hashed only
// if it individually requires it.
func SafePath(p string) string {
	segments := strings.Split(p, "/")
	for i, s := range segments {
		segments[i] = SafeSegment(s)
	}
	return strings.Join(segments, "/")
}

// SafeSegments is SafePath returning the individual elements.
func SafeSegments(p string) []string {
	segments := strings.Split(p, "/")
	for i, s := range segments {
		segments[i] = SafeSegment(s)
	}
	return segments
}
