package credential

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"mailstore/internal/vault"
)

// Secrets persists vault-encrypted account secrets as JSON blobs on
// disk. The blobs are useless without the vault's master key, which
// lives in the OS keyring.
type Secrets struct {
	vault *vault.Vault
	dir   string
}

// NewSecrets creates a secrets manager rooted at dir.
func NewSecrets(v *vault.Vault, dir string) *Secrets {
	return &Secrets{vault: v, dir: dir}
}

// SetPassword encrypts and stores an account's password.
func (s *Secrets) SetPassword(accountID, password string) error {
	blob, err := s.vault.Encrypt([]byte(password))
	if err != nil {
		return fmt.Errorf("encrypting secret for %s: %w", accountID, err)
	}

	data, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("encoding secret for %s: %w", accountID, err)
	}

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("creating secrets directory: %w", err)
	}
	if err := os.WriteFile(s.path(accountID), data, 0o600); err != nil {
		return fmt.Errorf("writing secret for %s: %w", accountID, err)
	}
	return nil
}

// Password decrypts an account's stored password.
func (s *Secrets) Password(accountID string) (string, error) {
	data, err := os.ReadFile(s.path(accountID))
	if err != nil {
		return "", fmt.Errorf("reading secret for %s: %w", accountID, err)
	}

	var blob vault.Blob
	if err := json.Unmarshal(data, &blob); err != nil {
		return "", fmt.Errorf("decoding secret for %s: %w", accountID, err)
	}

	plaintext, err := s.vault.Decrypt(blob)
	if err != nil {
		return "", fmt.Errorf("decrypting secret for %s: %w", accountID, err)
	}
	return string(plaintext), nil
}

// Delete removes an account's stored secret. Deleting a missing secret
// is a no-op.
func (s *Secrets) Delete(accountID string) error {
	err := os.Remove(s.path(accountID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting secret for %s: %w", accountID, err)
	}
	return nil
}

func (s *Secrets) path(accountID string) string {
	return filepath.Join(s.dir, accountID+".json")
}
