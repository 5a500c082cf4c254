package secure

import (
	"crypto/subtle"
	"errors"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrDestroyed is returned when a destroyed key is used.
var ErrDestroyed = errors.New("key has been destroyed")

// ErrEmptyKey is returned when a key is created from no bytes.
var ErrEmptyKey = errors.New("key material is empty")

// Key is symmetric key material sealed in a memguard enclave.
type Key struct {
	mu        sync.RWMutex
	enclave   *memguard.Enclave
	size      int
	destroyed bool
}

// NewKey seals a copy of raw. The caller keeps ownership of raw and should
// wipe it once done.
func NewKey(raw []byte) (*Key, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyKey
	}
	// memguard wipes the slice it seals
	tmp := make([]byte, len(raw))
	copy(tmp, raw)
	return &Key{enclave: memguard.NewEnclave(tmp), size: len(raw)}, nil
}

// RandomKey generates size random bytes directly inside protected memory.
func RandomKey(size int) (*Key, error) {
	if size <= 0 {
		return nil, ErrEmptyKey
	}
	buf := memguard.NewBufferRandom(size)
	return &Key{enclave: buf.Seal(), size: size}, nil
}

// Size returns the key length in bytes.
func (k *Key) Size() int {
	return k.size
}

// Use opens the enclave and passes the plaintext to fn. The plaintext is
// wiped when fn returns.
func (k *Key) Use(fn func(b []byte) error) error {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.destroyed {
		return ErrDestroyed
	}

	locked, err := k.enclave.Open()
	if err != nil {
		return err
	}
	defer locked.Destroy()

	return fn(locked.Bytes())
}

// Bytes returns an unprotected copy of the key. Only used when the key has
// to leave the process, e.g. to be stored in the OS keyring.
func (k *Key) Bytes() ([]byte, error) {
	var out []byte
	err := k.Use(func(b []byte) error {
		out = make([]byte, len(b))
		copy(out, b)
		return nil
	})
	return out, err
}

// Equal compares two keys in constant time.
func (k *Key) Equal(other *Key) bool {
	if k == nil || other == nil {
		return k == other
	}
	equal := false
	_ = k.Use(func(a []byte) error {
		return other.Use(func(b []byte) error {
			equal = subtle.ConstantTimeCompare(a, b) == 1
			return nil
		})
	})
	return equal
}

// Destroy releases the enclave. It is idempotent.
func (k *Key) Destroy() {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.destroyed {
		return
	}
	k.enclave = nil
	k.destroyed = true
}
