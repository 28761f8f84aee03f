package fetch

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"github.com/zeebo/blake3"
)

// Supported digest algorithms.
const (
	SHA256 = "sha256"
	BLAKE3 = "blake3"
)

// Digest is an integrity digest in "algorithm:hex" form. A bare hex string
// is a sha256 digest.
type Digest struct {
	Algorithm string
	Hex       string
}

// ParseDigest parses s into a Digest.
func ParseDigest(s string) (Digest, error) {
	algo, value, ok := strings.Cut(s, ":")
	if !ok {
		algo, value = SHA256, s
	}
	d := Digest{Algorithm: algo, Hex: strings.ToLower(value)}
	switch algo {
	case SHA256, BLAKE3:
	default:
		return Digest{}, fmt.Errorf("unsupported digest algorithm %q", algo)
	}
	raw, err := hex.DecodeString(d.Hex)
	if err != nil {
		return Digest{}, fmt.Errorf("parsing %s digest: %w", algo, err)
	}
	if len(raw) != 32 {
		return Digest{}, fmt.Errorf("%s digest is %d bytes, want 32", algo, len(raw))
	}
	return d, nil
}

func (d Digest) String() string {
	return d.Algorithm + ":" + d.Hex
}

func (d Digest) newHash() hash.Hash {
	if d.Algorithm == BLAKE3 {
		return blake3.New()
	}
	return sha256.New()
}

// DigestError reports an archive whose content does not match the digest
// pinned by the formula.
type DigestError struct {
	URL  string
	Want Digest
	Got  string
}

func (e *DigestError) Error() string {
	return fmt.Sprintf("integrity check failed for %s: want %s, got %s:%s", e.URL, e.Want, e.Want.Algorithm, e.Got)
}
