// Package cryptox seals documents with a passphrase-derived AES-GCM key.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"

	"golang.org/x/crypto/argon2"
)

const (
	SaltSize  = 16
	NonceSize = 12
	KeySize   = 32
)

var ErrDecrypt = errors.New("cannot decrypt: wrong passphrase or corrupted data")

// Sealed is the serialized form of an encrypted document.
type Sealed struct {
	Algorithm  string `json:"alg"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

const algorithm = "argon2id+aes-256-gcm"

// DeriveKey stretches passphrase into an AES-256 key.
func DeriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, KeySize)
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// SealJSON serializes v to JSON and encrypts it with a key derived from
// passphrase and a fresh salt. Every call uses a new salt and nonce.
func SealJSON(v any, passphrase []byte) (*Sealed, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	salt, err := randomBytes(SaltSize)
	if err != nil {
		return nil, err
	}
	nonce, err := randomBytes(NonceSize)
	if err != nil {
		return nil, err
	}

	aead, err := newGCM(DeriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}

	return &Sealed{
		Algorithm:  algorithm,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plaintext, nil),
	}, nil
}

// OpenJSON decrypts s and unmarshals the plaintext into v.
func OpenJSON(s *Sealed, passphrase []byte, v any) error {
	if s.Algorithm != algorithm || len(s.Nonce) != NonceSize {
		return ErrDecrypt
	}
	aead, err := newGCM(DeriveKey(passphrase, s.Salt))
	if err != nil {
		return err
	}

	plaintext, err := aead.Open(nil, s.Nonce, s.Ciphertext, nil)
	if err != nil {
		return ErrDecrypt
	}
	return json.Unmarshal(plaintext, v)
}
