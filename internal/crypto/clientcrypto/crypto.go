// Package clientcrypto implements the key hierarchy that keeps credentials
// encrypted at rest: a secret unlocks a KEK (Argon2id), the KEK unwraps one
// data key, and every named entry is sealed under its own HKDF subkey.
package clientcrypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	KeyLen  = 32
	SaltLen = 16

	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 1
)

var (
	// ErrShortCiphertext is returned for blobs too short to hold a nonce.
	ErrShortCiphertext = errors.New("clientcrypto: ciphertext too short")
	// ErrBadSecret means the wrapped key did not open with the given secret.
	ErrBadSecret = errors.New("clientcrypto: wrong secret or corrupted key")
)

// Wrapped is the persisted form of a data key.
type Wrapped struct {
	Salt []byte `json:"kek_salt"`
	Key  []byte `json:"wrapped_dek"`
}

// Rand returns n cryptographically secure random bytes.
func Rand(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}

// NewDataKey generates a fresh data key and its form wrapped under secret.
func NewDataKey(secret []byte) ([]byte, Wrapped, error) {
	salt, err := Rand(SaltLen)
	if err != nil {
		return nil, Wrapped{}, err
	}
	dek, err := Rand(KeyLen)
	if err != nil {
		return nil, Wrapped{}, err
	}
	sealed, err := seal(kek(secret, salt), nil, dek)
	if err != nil {
		return nil, Wrapped{}, err
	}
	return dek, Wrapped{Salt: salt, Key: sealed}, nil
}

// Unwrap recovers the data key. Any failure, including a wrong secret, is ErrBadSecret.
func (w Wrapped) Unwrap(secret []byte) ([]byte, error) {
	if len(w.Salt) != SaltLen {
		return nil, ErrBadSecret
	}
	dek, err := open(kek(secret, w.Salt), nil, w.Key)
	if err != nil || len(dek) != KeyLen {
		return nil, ErrBadSecret
	}
	return dek, nil
}

// SealEntry encrypts value for the entry called name. The name doubles as
// associated data, so a blob copied under another name fails to open.
func SealEntry(dek []byte, name string, value []byte) ([]byte, error) {
	key, err := entryKey(dek, name)
	if err != nil {
		return nil, err
	}
	return seal(key, []byte(name), value)
}

// OpenEntry reverses SealEntry.
func OpenEntry(dek []byte, name string, blob []byte) ([]byte, error) {
	key, err := entryKey(dek, name)
	if err != nil {
		return nil, err
	}
	return open(key, []byte(name), blob)
}

func kek(secret, salt []byte) []byte {
	return argon2.IDKey(secret, salt, argonTime, argonMemory, argonThreads, KeyLen)
}

func entryKey(dek []byte, name string) ([]byte, error) {
	key := make([]byte, KeyLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, dek, nil, []byte(name)), key); err != nil {
		return nil, fmt.Errorf("clientcrypto: derive %q: %w", name, err)
	}
	return key, nil
}

// seal output is nonce||ciphertext.
func seal(key, aad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce, err := Rand(aead.NonceSize())
	if err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, aad), nil
}

func open(key, aad, blob []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	n := aead.NonceSize()
	if len(blob) < n {
		return nil, ErrShortCiphertext
	}
	return aead.Open(nil, blob[:n], blob[n:], aad)
}
