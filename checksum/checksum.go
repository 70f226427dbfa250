// Package checksum holds the MD5 and SHA-256 digest types recorded for every
// stored file, and a single-pass digester computing both.
package checksum

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"
)

const (
	md5HexLength    = 32
	sha256HexLength = 64
)

// ErrInvalidFormat is returned when a checksum string is not upper-case hex of
// the algorithm's fixed length.
var ErrInvalidFormat = errors.New("checksum: invalid format")

// MD5 is a 32 character upper-case hex digest.
type MD5 string

// SHA256 is a 64 character upper-case hex digest.
type SHA256 string

// ParseMD5 validates s and returns it in canonical upper-case form.
func ParseMD5(s string) (MD5, error) {
	normalized, err := normalize(s, md5HexLength)
	if err != nil {
		return "", fmt.Errorf("parse md5 %q: %w", s, err)
	}
	return MD5(normalized), nil
}

// ParseSHA256 validates s and returns it in canonical upper-case form.
func ParseSHA256(s string) (SHA256, error) {
	normalized, err := normalize(s, sha256HexLength)
	if err != nil {
		return "", fmt.Errorf("parse sha256 %q: %w", s, err)
	}
	return SHA256(normalized), nil
}

func normalize(s string, length int) (string, error) {
	if len(s) != length {
		return "", ErrInvalidFormat
	}
	upper := strings.ToUpper(s)
	for _, r := range upper {
		if (r < '0' || r > '9') && (r < 'A' || r > 'F') {
			return "", ErrInvalidFormat
		}
	}
	return upper, nil
}

func (c MD5) String() string    { return string(c) }
func (c SHA256) String() string { return string(c) }

// Matches reports whether c equals the expected digest. An empty expected
// digest always matches.
func (c SHA256) Matches(expected SHA256) bool {
	if expected == "" {
		return true
	}
	return strings.EqualFold(string(c), string(expected))
}

// Digester feeds every written byte to both MD5 and SHA-256.
type Digester struct {
	md5    hash.Hash
	sha256 hash.Hash
	w      io.Writer
}

// NewDigester returns an empty digester.
func NewDigester() *Digester {
	d := &Digester{md5: md5.New(), sha256: sha256.New()}
	d.w = io.MultiWriter(d.md5, d.sha256)
	return d
}

func (d *Digester) Write(p []byte) (int, error) {
	return d.w.Write(p)
}

// Sums returns the digests of everything written so far.
func (d *Digester) Sums() (MD5, SHA256) {
	return MD5(encode(d.md5)), SHA256(encode(d.sha256))
}

func encode(h hash.Hash) string {
	return strings.ToUpper(hex.EncodeToString(h.Sum(nil)))
}

// Compute reads r to EOF and returns both digests.
func Compute(r io.Reader) (MD5, SHA256, error) {
	d := NewDigester()
	if _, err := io.Copy(d, r); err != nil {
		return "", "", fmt.Errorf("compute checksums: %w", err)
	}
	md5Sum, shaSum := d.Sums()
	return md5Sum, shaSum, nil
}
