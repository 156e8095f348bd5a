// File: internal/vault/vault.go
// Description: Encrypted credential vault. Credentials for the planner and
// vision services live in a single file encrypted with AES-256-GCM under a
// scrypt-derived key. File layout: salt(16) || nonce(12) || ciphertext.

package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"os"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/crypto/scrypt"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	saltSize  = 16
	nonceSize = 12
	keySize   = 32

	// scrypt cost parameters.
	scryptN = 1 << 14
	scryptR = 8
	scryptP = 1
)

// Entry is one stored credential.
type Entry struct {
	ID        int               `json:"id"`
	Service   string            `json:"service"`
	Username  string            `json:"username"`
	Password  string            `json:"password"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

type document struct {
	Version  int     `json:"version"`
	Entries  []Entry `json:"entries"`
	Metadata struct {
		Created      time.Time `json:"created"`
		LastModified time.Time `json:"last_modified"`
	} `json:"metadata"`
}

// Vault is the in-memory handle to one vault file. All mutating operations
// require the vault to be unlocked and persist immediately.
type Vault struct {
	path     string
	password []byte
	key      []byte
	data     *document
	locked   bool
}

// New creates a handle; the vault stays locked until Create or Unlock.
func New(path, masterPassword string) *Vault {
	return &Vault{
		path:     path,
		password: []byte(masterPassword),
		locked:   true,
	}
}

// Exists reports whether the vault file is present on disk.
func (v *Vault) Exists() bool {
	_, err := os.Stat(v.path)
	return err == nil
}

func (v *Vault) deriveKey(salt []byte) ([]byte, error) {
	key, err := scrypt.Key(v.password, salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	return key, nil
}

// Create writes a fresh empty vault file and leaves the vault unlocked.
func (v *Vault) Create() error {
	if v.Exists() {
		return fmt.Errorf("vault already exists at %s", v.path)
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}
	key, err := v.deriveKey(salt)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	doc := &document{Version: 1, Entries: []Entry{}}
	doc.Metadata.Created = now
	doc.Metadata.LastModified = now

	v.key = key
	v.data = doc
	v.locked = false
	return v.persist(salt)
}

// Unlock decrypts the vault into memory. A wrong password surfaces as a GCM
// authentication failure.
func (v *Vault) Unlock() error {
	raw, err := os.ReadFile(v.path)
	if err != nil {
		return fmt.Errorf("vault file not found: %w", err)
	}
	if len(raw) < saltSize+nonceSize+1 {
		return fmt.Errorf("invalid vault file (corrupted or too small)")
	}

	salt := raw[:saltSize]
	nonce := raw[saltSize : saltSize+nonceSize]
	ciphertext := raw[saltSize+nonceSize:]

	key, err := v.deriveKey(salt)
	if err != nil {
		return err
	}
	aead, err := newAEAD(key)
	if err != nil {
		return err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return fmt.Errorf("failed to unlock vault (wrong password?): %w", err)
	}

	var doc document
	if err := json.Unmarshal(plaintext, &doc); err != nil {
		return fmt.Errorf("failed to decode vault contents: %w", err)
	}
	v.key = key
	v.data = &doc
	v.locked = false
	return nil
}

// Lock clears the decrypted contents and key from memory.
func (v *Vault) Lock() {
	v.data = nil
	v.key = nil
	v.locked = true
}

// Locked reports whether the vault contents are accessible.
func (v *Vault) Locked() bool { return v.locked }

// Save re-encrypts and persists the vault, reusing the existing salt.
func (v *Vault) Save() error {
	if v.locked || v.data == nil {
		return fmt.Errorf("vault is locked; cannot save")
	}
	existing, err := os.ReadFile(v.path)
	if err != nil {
		return fmt.Errorf("failed to read existing vault: %w", err)
	}
	if len(existing) < saltSize {
		return fmt.Errorf("invalid vault file (missing salt)")
	}
	v.data.Metadata.LastModified = time.Now().UTC()
	return v.persist(existing[:saltSize])
}

func (v *Vault) persist(salt []byte) error {
	plaintext, err := json.Marshal(v.data)
	if err != nil {
		return fmt.Errorf("failed to encode vault contents: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}
	aead, err := newAEAD(v.key)
	if err != nil {
		return err
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	blob := make([]byte, 0, len(salt)+len(nonce)+len(ciphertext))
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = append(blob, ciphertext...)

	if err := os.WriteFile(v.path, blob, 0o600); err != nil {
		return fmt.Errorf("failed to write vault file: %w", err)
	}
	return nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to build cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to build AEAD: %w", err)
	}
	return aead, nil
}

// AddCredential stores one credential and persists the vault.
func (v *Vault) AddCredential(service, username, password string, metadata map[string]string) (*Entry, error) {
	if v.locked {
		return nil, fmt.Errorf("vault is locked")
	}
	now := time.Now().UTC()
	entry := Entry{
		ID:        len(v.data.Entries) + 1,
		Service:   service,
		Username:  username,
		Password:  password,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	v.data.Entries = append(v.data.Entries, entry)
	if err := v.Save(); err != nil {
		return nil, err
	}
	return &entry, nil
}

// GetCredential retrieves a credential by service name, case-insensitively.
func (v *Vault) GetCredential(service string) (*Entry, error) {
	if v.locked {
		return nil, fmt.Errorf("vault is locked")
	}
	for i := range v.data.Entries {
		if strings.EqualFold(v.data.Entries[i].Service, service) {
			entry := v.data.Entries[i]
			return &entry, nil
		}
	}
	return nil, fmt.Errorf("no credential stored for service %q", service)
}

// ListServices returns the stored service names in insertion order.
func (v *Vault) ListServices() ([]string, error) {
	if v.locked {
		return nil, fmt.Errorf("vault is locked")
	}
	services := make([]string, len(v.data.Entries))
	for i, e := range v.data.Entries {
		services[i] = e.Service
	}
	return services, nil
}

// DeleteCredential removes a credential by service name and persists.
func (v *Vault) DeleteCredential(service string) error {
	if v.locked {
		return fmt.Errorf("vault is locked")
	}
	for i := range v.data.Entries {
		if strings.EqualFold(v.data.Entries[i].Service, service) {
			v.data.Entries = append(v.data.Entries[:i], v.data.Entries[i+1:]...)
			return v.Save()
		}
	}
	return fmt.Errorf("no credential stored for service %q", service)
}
