package keys

import (
	"context"
	"fmt"
	"os"

	"github.com/systmms/vaultsync/internal/secure"
)

// StaticSource reads a base64 key from config or from an environment
// variable.
type StaticSource struct {
	key    string
	keyEnv string
}

// NewStaticSource creates a static source. keyEnv wins over key when set.
func NewStaticSource(key, keyEnv string) *StaticSource {
	return &StaticSource{key: key, keyEnv: keyEnv}
}

// Name returns the source name
func (s *StaticSource) Name() string {
	return "static"
}

// SystemKey decodes the configured key.
func (s *StaticSource) SystemKey(_ context.Context) (*secure.Key, error) {
	encoded := s.key
	if s.keyEnv != "" {
		encoded = os.Getenv(s.keyEnv)
		if encoded == "" {
			return nil, fmt.Errorf("environment variable %s is empty", s.keyEnv)
		}
	}
	return decodeKey(encoded)
}
