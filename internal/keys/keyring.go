package keys

import (
	"context"
	"encoding/base64"
	"errors"

	"github.com/zalando/go-keyring"

	vserrors "github.com/systmms/vaultsync/internal/errors"
	"github.com/systmms/vaultsync/internal/secure"
)

// KeyringClient is the subset of the OS keyring used here.
type KeyringClient interface {
	Get(service, account string) (string, error)
	Set(service, account, secret string) error
}

type osKeyring struct{}

func (osKeyring) Get(service, account string) (string, error) {
	return keyring.Get(service, account)
}

func (osKeyring) Set(service, account, secret string) error {
	return keyring.Set(service, account, secret)
}

// KeyringSource keeps the system key in the OS keyring (Keychain, Secret
// Service, Credential Manager). A key is generated on first use.
type KeyringSource struct {
	service string
	account string
	client  KeyringClient
}

// KeyringOption configures a KeyringSource.
type KeyringOption func(*KeyringSource)

// WithKeyringClient sets a custom keyring client (for testing)
func WithKeyringClient(client KeyringClient) KeyringOption {
	return func(s *KeyringSource) {
		s.client = client
	}
}

// NewKeyringSource creates a keyring source for service/account.
func NewKeyringSource(service, account string, opts ...KeyringOption) *KeyringSource {
	s := &KeyringSource{service: service, account: account, client: osKeyring{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the source name
func (s *KeyringSource) Name() string {
	return "keyring"
}

// SystemKey loads the key, generating and storing one if none exists yet.
func (s *KeyringSource) SystemKey(_ context.Context) (*secure.Key, error) {
	encoded, err := s.client.Get(s.service, s.account)
	if err == nil {
		return decodeKey(encoded)
	}
	if !errors.Is(err, keyring.ErrNotFound) {
		return nil, vserrors.RemoteStoreError("keyring", "read system key", err)
	}

	key, err := secure.RandomKey(KeySize)
	if err != nil {
		return nil, err
	}
	raw, err := key.Bytes()
	if err != nil {
		key.Destroy()
		return nil, err
	}
	defer wipe(raw)

	if err := s.client.Set(s.service, s.account, base64.StdEncoding.EncodeToString(raw)); err != nil {
		key.Destroy()
		return nil, vserrors.RemoteStoreError("keyring", "store system key", err)
	}
	return key, nil
}
