package session

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"

	"nostr-feed/internal/nips"
)

const (
	keyringService = "nostr-feed"
	keyringUser    = "secret-key"

	// SecretKeyEnv overrides the keyring, for headless deployments
	SecretKeyEnv = "NOSTR_SECRET_KEY"
)

// ParseSecretKey accepts a hex or nsec secret key and returns it as hex
func ParseSecretKey(value string) (string, error) {
	value = strings.TrimSpace(value)
	return nips.ToHex(value, "nsec")
}

// StoreKey saves a hex or nsec key in the OS keyring and returns its signer
func StoreKey(value string) (*KeySigner, error) {
	secret, err := ParseSecretKey(value)
	if err != nil {
		return nil, err
	}
	signer, err := NewKeySigner(secret)
	if err != nil {
		return nil, err
	}
	if err := keyring.Set(keyringService, keyringUser, secret); err != nil {
		return nil, fmt.Errorf("couldn't save key to keyring: %w", err)
	}
	return signer, nil
}

// EraseKey removes the stored key
func EraseKey() error {
	err := keyring.Delete(keyringService, keyringUser)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

// LoadSigner returns a signer from NOSTR_SECRET_KEY or the OS keyring.
// It returns ErrNoSession when neither holds a key.
func LoadSigner() (*KeySigner, error) {
	if env := os.Getenv(SecretKeyEnv); env != "" {
		secret, err := ParseSecretKey(env)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", SecretKeyEnv, err)
		}
		return NewKeySigner(secret)
	}

	secret, err := keyring.Get(keyringService, keyringUser)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("couldn't load key from keyring: %w", err)
	}
	return NewKeySigner(secret)
}
