// Package cryptox provides the symmetric encryption, hashing and secure
// token primitives used by the session vault.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/fitroom/backend/internal/domain"
)

const keySize = 32 // AES-256

// hkdfInfo binds derived keys to this usage so the same operator secret
// can be reused elsewhere without key collisions.
var hkdfInfo = []byte("fitroom/session-vault/v1")

// Crypto holds the process encryption key. Construct via New.
type Crypto struct {
	aead      cipher.AEAD
	ephemeral bool
}

// New derives the AES-256-GCM key from the operator master secret via
// HKDF-SHA256. With an empty secret a random process-lifetime key is
// generated instead: sessions then do not survive a restart. That degraded
// mode is reported by Ephemeral so the caller can log it loudly.
func New(masterSecret string) (*Crypto, error) {
	key := make([]byte, keySize)
	ephemeral := false

	if masterSecret == "" {
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate process key: %w", err)
		}
		ephemeral = true
	} else {
		r := hkdf.New(sha256.New, []byte(masterSecret), nil, hkdfInfo)
		if _, err := io.ReadFull(r, key); err != nil {
			return nil, fmt.Errorf("failed to derive key: %w", err)
		}
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}

	return &Crypto{aead: aead, ephemeral: ephemeral}, nil
}

// Ephemeral reports whether the key was generated for this process only
// because no master secret was configured.
func (c *Crypto) Ephemeral() bool {
	return c.ephemeral
}

// Encrypt seals the plaintext under a fresh random nonce. The GCM auth tag
// is appended to the ciphertext, so any bit flip fails decryption.
func (c *Crypto) Encrypt(plaintext string) (domain.EncryptedCredential, error) {
	if plaintext == "" {
		return domain.EncryptedCredential{}, fmt.Errorf("%w: empty plaintext", domain.ErrEncryption)
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return domain.EncryptedCredential{}, fmt.Errorf("%w: %v", domain.ErrEncryption, err)
	}

	return domain.EncryptedCredential{
		Ciphertext: c.aead.Seal(nil, nonce, []byte(plaintext), nil),
		Nonce:      nonce,
	}, nil
}

// Decrypt opens a sealed credential. Fails with domain.ErrDecryption when
// fields are missing or the auth tag does not verify.
func (c *Crypto) Decrypt(cred domain.EncryptedCredential) (string, error) {
	if len(cred.Ciphertext) == 0 || len(cred.Nonce) != c.aead.NonceSize() {
		return "", fmt.Errorf("%w: missing or malformed fields", domain.ErrDecryption)
	}

	plaintext, err := c.aead.Open(nil, cred.Nonce, cred.Ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrDecryption, err)
	}
	return string(plaintext), nil
}

// Hash returns the SHA-256 hex digest of data. One-way, used only for
// out-of-band verification of a stored credential.
func Hash(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// GenerateToken returns nBytes of CSPRNG output, hex-encoded.
func GenerateToken(nBytes int) (string, error) {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// SecureCompare compares two strings in constant time relative to their
// content. Inputs are hashed first so a length mismatch returns false
// without leaking where the strings diverge.
func SecureCompare(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}
