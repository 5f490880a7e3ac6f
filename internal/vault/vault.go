// Package vault encrypts opaque secrets (passwords, OAuth tokens) with a
// symmetric AEAD. The master key lives in the OS keyring; without a usable
// keyring the vault falls back to a process-local key and reports itself
// ephemeral so callers can warn that secrets will not outlive the process.
package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// algorithm tags the blob format; checked on decrypt.
const algorithm = "xchacha20poly1305"

// masterKeyName is the keyring entry holding the base64 master key.
const masterKeyName = "vault-master-key"

// ErrorKind classifies vault failures.
type ErrorKind string

const (
	// KindIntegrity means the ciphertext or nonce was tampered with.
	KindIntegrity ErrorKind = "integrity"

	// KindMissingKey means no master key could be resolved or created.
	KindMissingKey ErrorKind = "missing_key"
)

// Error is a tagged vault failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("vault: %s", e.Kind)
	}
	return fmt.Sprintf("vault: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsIntegrityError reports whether err is a tampered-blob failure.
func IsIntegrityError(err error) bool {
	var ve *Error
	return errors.As(err, &ve) && ve.Kind == KindIntegrity
}

// Blob is an encrypted secret. It serializes to JSON for storage next to
// account rows; the plaintext is recoverable only through Decrypt.
type Blob struct {
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
	Alg        string `json:"alg"`
}

// KeyStore is the subset of the OS keyring the vault needs.
// credential.Ring satisfies it.
type KeyStore interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

// Vault encrypts and decrypts secrets with a single symmetric key.
type Vault struct {
	aead      cipher.AEAD
	ephemeral bool
}

// Open resolves the master key from the keyring, generating and storing a
// fresh one on first run. When the keyring is unusable the vault falls
// back to an in-memory key and is marked ephemeral.
func Open(ks KeyStore) (*Vault, error) {
	key, err := loadOrCreateKey(ks)
	if err != nil {
		return NewEphemeral()
	}
	return newVault(key, false)
}

// NewEphemeral creates a vault with a random in-process key. Secrets
// encrypted by it are unreadable after the process exits.
func NewEphemeral() (*Vault, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, &Error{Kind: KindMissingKey, Err: err}
	}
	return newVault(key, true)
}

func newVault(key []byte, ephemeral bool) (*Vault, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, &Error{Kind: KindMissingKey, Err: err}
	}
	return &Vault{aead: aead, ephemeral: ephemeral}, nil
}

// loadOrCreateKey fetches the master key from the keyring, creating and
// persisting one when absent.
func loadOrCreateKey(ks KeyStore) ([]byte, error) {
	encoded, err := ks.Get(masterKeyName)
	if err == nil {
		key, decErr := base64.StdEncoding.DecodeString(encoded)
		if decErr != nil || len(key) != chacha20poly1305.KeySize {
			return nil, &Error{Kind: KindMissingKey, Err: fmt.Errorf("stored master key is malformed")}
		}
		return key, nil
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, &Error{Kind: KindMissingKey, Err: err}
	}
	if err := ks.Set(masterKeyName, base64.StdEncoding.EncodeToString(key)); err != nil {
		return nil, &Error{Kind: KindMissingKey, Err: err}
	}
	return key, nil
}

// IsEphemeral reports whether the master key lives only in process memory.
func (v *Vault) IsEphemeral() bool {
	return v.ephemeral
}

// Encrypt seals plaintext (including the empty string) into a blob with a
// fresh random nonce.
func (v *Vault) Encrypt(plaintext []byte) (Blob, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return Blob{}, fmt.Errorf("generating nonce: %w", err)
	}

	return Blob{
		Nonce:      nonce,
		Ciphertext: v.aead.Seal(nil, nonce, plaintext, nil),
		Alg:        algorithm,
	}, nil
}

// Decrypt opens a blob. Any tampering with the nonce or ciphertext, or an
// unknown algorithm tag, fails with an integrity error.
func (v *Vault) Decrypt(b Blob) ([]byte, error) {
	if b.Alg != algorithm {
		return nil, &Error{Kind: KindIntegrity, Err: fmt.Errorf("unknown algorithm %q", b.Alg)}
	}
	if len(b.Nonce) != v.aead.NonceSize() {
		return nil, &Error{Kind: KindIntegrity, Err: fmt.Errorf("bad nonce length %d", len(b.Nonce))}
	}

	plaintext, err := v.aead.Open(nil, b.Nonce, b.Ciphertext, nil)
	if err != nil {
		return nil, &Error{Kind: KindIntegrity, Err: err}
	}
	return plaintext, nil
}
