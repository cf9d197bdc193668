package auth

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const keyringService = "instasave"

// ErrPasswordNotFound is returned when no password is stored for a user
var ErrPasswordNotFound = errors.New("password not found")

// PasswordStore holds account passwords outside the config file
type PasswordStore interface {
	Get(username string) (string, error)
	Set(username, password string) error
	Delete(username string) error
}

// KeyringStore keeps passwords in the system keychain
type KeyringStore struct{}

// NewKeyringStore returns a keychain backed PasswordStore
func NewKeyringStore() *KeyringStore {
	return &KeyringStore{}
}

func (k *KeyringStore) Get(username string) (string, error) {
	if username == "" {
		return "", ErrPasswordNotFound
	}
	pw, err := keyring.Get(keyringService, username)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrPasswordNotFound
		}
		return "", fmt.Errorf("failed to read keyring: %w", err)
	}
	return pw, nil
}

func (k *KeyringStore) Set(username, password string) error {
	if username == "" || password == "" {
		return errors.New("username and password are required")
	}
	if err := keyring.Set(keyringService, username, password); err != nil {
		return fmt.Errorf("failed to store in keyring: %w", err)
	}
	return nil
}

func (k *KeyringStore) Delete(username string) error {
	err := keyring.Delete(keyringService, username)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}
	return nil
}
