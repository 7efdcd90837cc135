// Package integrity parses and produces algorithm-tagged checksums.
//
// Lockfiles carry integrity digests in SRI form ("<algorithm>-<base64>"),
// while manifest entries and registry APIs want lowercase hex. Integrity is
// the common representation both sides convert through.
package integrity

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
)

// Integrity is one algorithm-tagged checksum with a lowercase hex digest.
type Integrity struct {
	Algorithm string
	Hex       string
}

// digestSizes maps supported algorithm names to their digest length in bytes.
var digestSizes = map[string]int{
	"md5":    md5.Size,
	"sha1":   sha1.Size,
	"sha224": sha256.Size224,
	"sha256": sha256.Size,
	"sha384": sha512.Size384,
	"sha512": sha512.Size,
}

// Parse splits an SRI string ("sha512-<base64>") on its first separator and
// decodes the value into hex. The algorithm name before the separator becomes
// the checksum's field key in manifest output.
func Parse(s string) (Integrity, error) {
	algo, encoded, ok := strings.Cut(s, "-")
	if !ok {
		return Integrity{}, fmt.Errorf("malformed integrity string %q", s)
	}
	if _, known := digestSizes[algo]; !known {
		return Integrity{}, fmt.Errorf("unsupported integrity algorithm %q", algo)
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Integrity{}, fmt.Errorf("decode %s integrity: %w", algo, err)
	}
	return Integrity{Algorithm: algo, Hex: hex.EncodeToString(raw)}, nil
}

// FromHex validates an already-hex digest against the algorithm's size.
func FromHex(algo, hexDigest string) (Integrity, error) {
	size, known := digestSizes[algo]
	if !known {
		return Integrity{}, fmt.Errorf("unsupported integrity algorithm %q", algo)
	}
	raw, err := hex.DecodeString(hexDigest)
	if err != nil {
		return Integrity{}, fmt.Errorf("decode %s digest: %w", algo, err)
	}
	if len(raw) != size {
		return Integrity{}, fmt.Errorf("%s digest has %d bytes, want %d", algo, len(raw), size)
	}
	return Integrity{Algorithm: algo, Hex: strings.ToLower(hexDigest)}, nil
}

// Generate computes the digest of data with the given algorithm.
func Generate(algo string, data []byte) (Integrity, error) {
	var h hash.Hash
	switch algo {
	case "md5":
		h = md5.New()
	case "sha1":
		h = sha1.New()
	case "sha256":
		h = sha256.New()
	case "sha512":
		h = sha512.New()
	default:
		return Integrity{}, fmt.Errorf("unsupported integrity algorithm %q", algo)
	}
	h.Write(data)
	return Integrity{Algorithm: algo, Hex: hex.EncodeToString(h.Sum(nil))}, nil
}

// SHA256 is a convenience for the most common manifest checksum.
func SHA256(data []byte) Integrity {
	sum := sha256.Sum256(data)
	return Integrity{Algorithm: "sha256", Hex: hex.EncodeToString(sum[:])}
}

// Base64 re-encodes the digest in standard base64, the SRI value form.
func (i Integrity) Base64() string {
	raw, err := hex.DecodeString(i.Hex)
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(raw)
}

// SRI renders the checksum back into "<algorithm>-<base64>" form.
func (i Integrity) SRI() string {
	return i.Algorithm + "-" + i.Base64()
}

// IsZero reports whether the checksum is unset.
func (i Integrity) IsZero() bool {
	return i.Algorithm == "" && i.Hex == ""
}
