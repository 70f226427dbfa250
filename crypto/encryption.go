package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// Algorithm names the at-rest encryption applied to a stored file.
type Algorithm string

const (
	AlgorithmNone             Algorithm = "NONE"
	AlgorithmAESGCM           Algorithm = "AES_GCM"
	AlgorithmChaCha20Poly1305 Algorithm = "CHACHA20_POLY1305"
)

const (
	// KeySize is the key length of every supported cipher (256 bits).
	KeySize = 32
	// IVSize is the base nonce length of every supported cipher (96 bits).
	IVSize = 12
	// tagSize is the authentication tag appended by both AEADs.
	tagSize = 16
)

var (
	// ErrUnsupportedAlgorithm is returned for unknown algorithm names.
	ErrUnsupportedAlgorithm = errors.New("crypto: unsupported algorithm")
	// ErrInvalidSecret is returned when key or IV lengths are wrong.
	ErrInvalidSecret = errors.New("crypto: invalid secret")
)

// ParseAlgorithm accepts the canonical names case-insensitively.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch alg := Algorithm(strings.ToUpper(strings.TrimSpace(s))); alg {
	case AlgorithmNone, AlgorithmAESGCM, AlgorithmChaCha20Poly1305:
		return alg, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, s)
	}
}

// Secret is the per-file key and base nonce.
type Secret struct {
	Key []byte
	IV  []byte
}

// IsZero reports whether the secret carries no material.
func (s Secret) IsZero() bool {
	return len(s.Key) == 0 && len(s.IV) == 0
}

// Validate checks the secret shape required by alg.
func (s Secret) Validate(alg Algorithm) error {
	if alg == AlgorithmNone {
		if !s.IsZero() {
			return fmt.Errorf("%w: algorithm %s takes no secret", ErrInvalidSecret, alg)
		}
		return nil
	}
	if len(s.Key) != KeySize {
		return fmt.Errorf("%w: key length got %d want %d", ErrInvalidSecret, len(s.Key), KeySize)
	}
	if len(s.IV) != IVSize {
		return fmt.Errorf("%w: iv length got %d want %d", ErrInvalidSecret, len(s.IV), IVSize)
	}
	return nil
}

// GenerateSecret returns fresh random key material for alg.
func GenerateSecret(alg Algorithm) (Secret, error) {
	switch alg {
	case AlgorithmNone:
		return Secret{}, nil
	case AlgorithmAESGCM, AlgorithmChaCha20Poly1305:
	default:
		return Secret{}, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}

	secret := Secret{Key: make([]byte, KeySize), IV: make([]byte, IVSize)}
	if _, err := rand.Read(secret.Key); err != nil {
		return Secret{}, fmt.Errorf("generate key: %w", err)
	}
	if _, err := rand.Read(secret.IV); err != nil {
		return Secret{}, fmt.Errorf("generate iv: %w", err)
	}
	return secret, nil
}

func newAEAD(alg Algorithm, secret Secret) (cipher.AEAD, error) {
	if err := secret.Validate(alg); err != nil {
		return nil, err
	}

	switch alg {
	case AlgorithmAESGCM:
		block, err := aes.NewCipher(secret.Key)
		if err != nil {
			return nil, fmt.Errorf("create AES cipher: %w", err)
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("create GCM: %w", err)
		}
		return aead, nil
	case AlgorithmChaCha20Poly1305:
		aead, err := chacha20poly1305.New(secret.Key)
		if err != nil {
			return nil, fmt.Errorf("create ChaCha20-Poly1305: %w", err)
		}
		return aead, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
}

// recordNonce derives the nonce of record n by xoring n into the low eight
// bytes of the base IV.
func recordNonce(iv []byte, n uint64) []byte {
	nonce := make([]byte, len(iv))
	copy(nonce, iv)
	for i := 0; i < 8; i++ {
		nonce[len(nonce)-1-i] ^= byte(n >> (8 * i))
	}
	return nonce
}

// sealRecord appends record n, sealed from plaintext, to dst.
func sealRecord(aead cipher.AEAD, iv []byte, n uint64, dst, plaintext []byte) []byte {
	return aead.Seal(dst, recordNonce(iv, n), plaintext, nil)
}

// openRecord appends the plaintext of sealed record n to dst.
func openRecord(aead cipher.AEAD, iv []byte, n uint64, dst, sealed []byte) ([]byte, error) {
	if len(sealed) < aead.Overhead() {
		return nil, fmt.Errorf("%w: record %d is shorter than the authentication tag", ErrCorruptStream, n)
	}
	plaintext, err := aead.Open(dst, recordNonce(iv, n), sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt record %d: %w", n, err)
	}
	return plaintext, nil
}
