// Package encryption encrypts synced secrets and builds the encrypted
// service records of the unified generation.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	vserrors "github.com/systmms/vaultsync/internal/errors"
	"github.com/systmms/vaultsync/internal/secure"
	"github.com/systmms/vaultsync/pkg/vault"
)

// ReferenceSize is the length of a key reference.
const ReferenceSize = 16

var referenceLabel = []byte("vaultsync/key-reference/v1")

// ErrCiphertextTooShort is returned for payloads shorter than a nonce.
var ErrCiphertextTooShort = errors.New("ciphertext too short")

// Reference derives a stable, non-secret identifier for key. Two devices
// holding the same key compute the same reference.
func Reference(key *secure.Key) ([]byte, error) {
	var ref []byte
	err := key.Use(func(b []byte) error {
		mac := hmac.New(sha256.New, b)
		mac.Write(referenceLabel)
		ref = mac.Sum(nil)[:ReferenceSize]
		return nil
	})
	return ref, err
}

// Seal encrypts plaintext with AES-256-GCM. aad is authenticated but not
// encrypted. The nonce is prepended to the output.
func Seal(key *secure.Key, plaintext, aad []byte) ([]byte, error) {
	var out []byte
	err := key.Use(func(b []byte) error {
		gcm, err := newGCM(b)
		if err != nil {
			return err
		}
		nonce := make([]byte, gcm.NonceSize())
		if _, err := rand.Read(nonce); err != nil {
			return fmt.Errorf("nonce: %w", err)
		}
		out = gcm.Seal(nonce, nonce, plaintext, aad)
		return nil
	})
	if err != nil {
		return nil, vserrors.EncryptionError{Op: "encrypt", Err: err}
	}
	return out, nil
}

// Open reverses Seal.
func Open(key *secure.Key, ciphertext, aad []byte) ([]byte, error) {
	var out []byte
	err := key.Use(func(b []byte) error {
		gcm, err := newGCM(b)
		if err != nil {
			return err
		}
		if len(ciphertext) < gcm.NonceSize() {
			return ErrCiphertextTooShort
		}
		nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
		out, err = gcm.Open(nil, nonce, sealed, aad)
		return err
	})
	if err != nil {
		return nil, vserrors.EncryptionError{Op: "decrypt", Err: err}
	}
	return out, nil
}

// Encrypt seals plaintext under key and tags it with the key's reference.
func Encrypt(key *secure.Key, plaintext []byte) (vault.EncryptedSecret, error) {
	ref, err := Reference(key)
	if err != nil {
		return vault.EncryptedSecret{}, vserrors.EncryptionError{Op: "encrypt", Err: err}
	}
	ct, err := Seal(key, plaintext, ref)
	if err != nil {
		return vault.EncryptedSecret{}, err
	}
	return vault.EncryptedSecret{Ciphertext: ct, Reference: ref}, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
