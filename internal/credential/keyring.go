package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

// KeyringProvider reads credentials from the OS keyring.
type KeyringProvider struct {
	ring keyring.Keyring
}

// OpenKeyring opens the keyring for service. The file backend under dir is
// the fallback on headless build agents.
func OpenKeyring(service, dir string) (*KeyringProvider, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: service,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  dir,
		FilePasswordFunc:         keyring.FixedStringPrompt(service + "-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &KeyringProvider{ring: ring}, nil
}

func NewKeyringProvider(ring keyring.Keyring) *KeyringProvider {
	return &KeyringProvider{ring: ring}
}

func (p *KeyringProvider) Name() string { return "keyring" }

func (p *KeyringProvider) Lookup(_ context.Context, key string) (string, error) {
	item, err := p.ring.Get(key)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Store saves a credential, used by the `credential set` command.
func (p *KeyringProvider) Store(key, value string) error {
	if err := p.ring.Set(keyring.Item{Key: key, Data: []byte(value)}); err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}
