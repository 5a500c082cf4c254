package encryption

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"sync"

	"golang.org/x/crypto/argon2"

	vserrors "github.com/systmms/vaultsync/internal/errors"
	"github.com/systmms/vaultsync/internal/secure"
	"github.com/systmms/vaultsync/pkg/vault"
)

// Argon2id parameters for the user key.
const (
	argonTime    = 2
	argonMemory  = 19 * 1024
	argonThreads = 1
	keySize      = 32
)

// ErrEmptyPassword is returned when an empty backup password is given.
var ErrEmptyPassword = errors.New("password must not be empty")

// DeriveUserKey derives the user key from the backup password. The salt is
// bound to the owner so every device of the same account derives the same
// key.
func DeriveUserKey(password, owner string) (*secure.Key, error) {
	if password == "" {
		return nil, ErrEmptyPassword
	}
	salt := sha256.Sum256([]byte("vaultsync/user-key/" + owner))
	raw := argon2.IDKey([]byte(password), salt[:16], argonTime, argonMemory, argonThreads, keySize)
	defer func() {
		for i := range raw {
			raw[i] = 0
		}
	}()
	return secure.NewKey(raw)
}

type namedKey struct {
	key *secure.Key
	ref []byte
}

func newNamedKey(key *secure.Key) (*namedKey, error) {
	ref, err := Reference(key)
	if err != nil {
		return nil, err
	}
	return &namedKey{key: key, ref: ref}, nil
}

// SyncEncryption tracks which key synced secrets are encrypted with. The
// system key is always present; a user key replaces it as the active key
// while a backup password is set. The key that was active before the last
// switch is kept as retired until the vault has been re-encrypted.
type SyncEncryption struct {
	owner string

	mu      sync.RWMutex
	system  *namedKey
	user    *namedKey
	retired *namedKey
}

// NewSyncEncryption creates a handler using the system key.
func NewSyncEncryption(system *secure.Key, owner string) (*SyncEncryption, error) {
	nk, err := newNamedKey(system)
	if err != nil {
		return nil, err
	}
	return &SyncEncryption{owner: owner, system: nk}, nil
}

// Type returns the active scheme.
func (s *SyncEncryption) Type() vault.EncryptionType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user != nil {
		return vault.EncryptionUser
	}
	return vault.EncryptionSystem
}

// Reference returns the reference of the active key.
func (s *SyncEncryption) Reference() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return bytes.Clone(s.active().ref)
}

func (s *SyncEncryption) active() *namedKey {
	if s.user != nil {
		return s.user
	}
	return s.system
}

// Unlock installs the user key for password without retiring anything. It
// is used at startup when the persisted scheme is already user encryption.
// A user key installed earlier is destroyed unless it is the retired key.
func (s *SyncEncryption) Unlock(password string) error {
	nk, err := s.deriveNamed(password)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user != nil && s.user != s.retired {
		s.user.key.Destroy()
	}
	s.user = nk
	return nil
}

// SetPassword switches to the user key for password. The previously active
// key becomes the retired key.
func (s *SyncEncryption) SetPassword(password string) error {
	nk, err := s.deriveNamed(password)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retire(s.active())
	s.user = nk
	return nil
}

// RemovePassword switches back to the system key, retiring the user key.
func (s *SyncEncryption) RemovePassword() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return
	}
	s.retire(s.user)
	s.user = nil
}

func (s *SyncEncryption) retire(nk *namedKey) {
	if s.retired != nil && s.retired != s.system && s.retired != nk {
		s.retired.key.Destroy()
	}
	s.retired = nk
}

// HasRetired reports whether a retired key is still held.
func (s *SyncEncryption) HasRetired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.retired != nil
}

// DropRetired forgets the retired key once nothing is encrypted with it.
func (s *SyncEncryption) DropRetired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retired == nil {
		return
	}
	if s.retired != s.system {
		s.retired.key.Destroy()
	}
	s.retired = nil
}

// Knows reports whether ref names a key this device holds.
func (s *SyncEncryption) Knows(ref []byte) bool {
	_, ok := s.keyFor(ref)
	return ok
}

// IsCurrent reports whether ref names the active key.
func (s *SyncEncryption) IsCurrent(ref []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return bytes.Equal(ref, s.active().ref)
}

func (s *SyncEncryption) keyFor(ref []byte) (*secure.Key, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, nk := range []*namedKey{s.user, s.system, s.retired} {
		if nk != nil && bytes.Equal(nk.ref, ref) {
			return nk.key, true
		}
	}
	return nil, false
}

// Encrypt seals plaintext with the active key.
func (s *SyncEncryption) Encrypt(plaintext []byte) (vault.EncryptedSecret, error) {
	s.mu.RLock()
	key := s.active().key
	s.mu.RUnlock()
	return Encrypt(key, plaintext)
}

// EncryptWithSystemKey seals plaintext with the system key regardless of
// the active scheme. Legacy records are always written this way.
func (s *SyncEncryption) EncryptWithSystemKey(plaintext []byte) (vault.EncryptedSecret, error) {
	return Encrypt(s.system.key, plaintext)
}

// Decrypt opens secret with whichever held key its reference names.
func (s *SyncEncryption) Decrypt(secret vault.EncryptedSecret) ([]byte, error) {
	key, ok := s.keyFor(secret.Reference)
	if !ok {
		return nil, vserrors.EncryptionError{Op: "decrypt", Err: vserrors.ErrKeyUnavailable}
	}
	return Open(key, secret.Ciphertext, secret.Reference)
}

func (s *SyncEncryption) deriveNamed(password string) (*namedKey, error) {
	key, err := DeriveUserKey(password, s.owner)
	if err != nil {
		return nil, err
	}
	return newNamedKey(key)
}
