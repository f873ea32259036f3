// Package domain defines the core models shared across the backend.
package domain

import "time"

// EncryptedCredential is the at-rest form of an upstream API key.
// The GCM auth tag is appended to Ciphertext, so tampering with either
// field fails decryption.
type EncryptedCredential struct {
	Ciphertext []byte `json:"ciphertext"`
	Nonce      []byte `json:"nonce"`
}

// Session maps an opaque bearer token to an encrypted upstream credential.
// The plaintext credential never appears here: only the encrypted form and
// a one-way verification hash exist at rest.
type Session struct {
	Token        string              `json:"-"`
	Credential   EncryptedCredential `json:"-"`
	KeyHash      string              `json:"-"`
	CreatedAt    time.Time           `json:"created"`
	LastAccessed time.Time           `json:"lastAccessed"`
	ExpiresAt    time.Time           `json:"expiresAt"`
	ClientIP     string              `json:"-"`
	UserAgent    string              `json:"-"`
}

// Expired reports whether the session's sliding window has elapsed.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
