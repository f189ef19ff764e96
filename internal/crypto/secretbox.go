// Package crypto implements encryption-at-rest for provider credentials.
//
// Every stored secret (Bitwarden client ID, client secret, access token) is
// sealed with AES-256-GCM under a key derived from the process-wide master
// secret. A fresh random salt is drawn for every encryption, so two
// encryptions of the same plaintext never produce the same blob and the
// derived key differs per blob. The encoded blob is self-contained:
//
//	base64( salt(64) || iv(16) || tag(16) || ciphertext )
//
// The salt and IV are not secret; only the master secret is. GCM's
// authentication tag is stored separately from the ciphertext so the layout
// stays fixed-offset and decodable without length prefixes.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltLength = 64
	ivLength   = 16
	tagLength  = 16
	keyLength  = 32

	// PBKDF2 iteration count. Changing this breaks decryption of existing
	// blobs because the count is not stored in the blob.
	keyIterations = 100_000
)

// minBlobLength is the smallest decodable blob: all headers, empty ciphertext.
const minBlobLength = saltLength + ivLength + tagLength

var (
	// ErrMasterSecretMissing indicates the master encryption secret was not
	// configured. Callers treat this as a startup configuration failure.
	ErrMasterSecretMissing = errors.New("master encryption secret is not configured")

	// ErrBlobMalformed indicates a stored blob could not be decoded: invalid
	// base64 or too short to contain the salt, IV, and tag headers.
	ErrBlobMalformed = errors.New("encrypted blob is malformed")

	// ErrAuthenticationFailed indicates GCM tag verification failed: the blob
	// was tampered with or was sealed under a different master secret.
	ErrAuthenticationFailed = errors.New("decryption authentication failed")
)

// SecretBox seals and opens credential material under a master secret.
// A SecretBox is safe for concurrent use.
type SecretBox struct {
	masterSecret []byte
}

// NewSecretBox returns a SecretBox keyed by the given master secret.
// An empty secret returns ErrMasterSecretMissing.
func NewSecretBox(masterSecret string) (*SecretBox, error) {
	if masterSecret == "" {
		return nil, ErrMasterSecretMissing
	}
	return &SecretBox{masterSecret: []byte(masterSecret)}, nil
}

// Encrypt seals plaintext and returns the base64 blob. A fresh salt and IV
// are drawn per call, so output is non-deterministic.
func (sb *SecretBox) Encrypt(plaintext string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	iv := make([]byte, ivLength)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generating iv: %w", err)
	}

	aead, err := sb.newAEAD(salt)
	if err != nil {
		return "", err
	}

	// Seal returns ciphertext||tag; split so the blob carries the tag before
	// the ciphertext.
	sealed := aead.Seal(nil, iv, []byte(plaintext), nil)
	ciphertext := sealed[:len(sealed)-tagLength]
	tag := sealed[len(sealed)-tagLength:]

	blob := make([]byte, 0, minBlobLength+len(ciphertext))
	blob = append(blob, salt...)
	blob = append(blob, iv...)
	blob = append(blob, tag...)
	blob = append(blob, ciphertext...)

	return base64.StdEncoding.EncodeToString(blob), nil
}

// Decrypt decodes and opens a blob produced by Encrypt. It returns
// ErrBlobMalformed when the blob cannot be decoded and
// ErrAuthenticationFailed when the tag does not verify.
func (sb *SecretBox) Decrypt(encoded string) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBlobMalformed, err)
	}
	if len(blob) < minBlobLength {
		return "", fmt.Errorf("%w: %d bytes, want at least %d", ErrBlobMalformed, len(blob), minBlobLength)
	}

	salt := blob[:saltLength]
	iv := blob[saltLength : saltLength+ivLength]
	tag := blob[saltLength+ivLength : minBlobLength]
	ciphertext := blob[minBlobLength:]

	aead, err := sb.newAEAD(salt)
	if err != nil {
		return "", err
	}

	// Reassemble ciphertext||tag for GCM Open.
	sealed := make([]byte, 0, len(ciphertext)+tagLength)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", ErrAuthenticationFailed
	}

	return string(plaintext), nil
}

// newAEAD derives the per-blob key from the master secret and salt and
// constructs the GCM instance with the 16-byte nonce size used by the blob
// layout.
func (sb *SecretBox) newAEAD(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(sb.masterSecret, salt, keyIterations, keyLength, sha512.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	aead, err := cipher.NewGCMWithNonceSize(block, ivLength)
	if err != nil {
		return nil, fmt.Errorf("creating gcm: %w", err)
	}

	return aead, nil
}
