// Package keys loads the system key that encrypts synced secrets when no
// backup password is set.
package keys

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/systmms/vaultsync/internal/secure"
)

// KeySize is the length of the system key in bytes.
const KeySize = 32

// Source provides the system key.
type Source interface {
	Name() string
	SystemKey(ctx context.Context) (*secure.Key, error)
}

// decodeKey parses base64 key material and checks its length.
func decodeKey(encoded string) (*secure.Key, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("system key is not valid base64: %w", err)
	}
	defer wipe(raw)
	return fromRaw(raw)
}

func fromRaw(raw []byte) (*secure.Key, error) {
	if len(raw) != KeySize {
		return nil, fmt.Errorf("system key must be %d bytes, got %d", KeySize, len(raw))
	}
	return secure.NewKey(raw)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
