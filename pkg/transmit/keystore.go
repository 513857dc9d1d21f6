package transmit

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dteflow/dteflow/pkg/security"
)

// KeyBundle is one tenant's signing credential as resolved from a store.
type KeyBundle struct {
	Bundle     []byte
	Passphrase string
}

// KeyStore resolves key bundle references carried on transmission jobs.
// References keep raw credentials out of queue payloads.
type KeyStore interface {
	Fetch(ctx context.Context, ref string) (*KeyBundle, error)
}

// MemoryKeyStore holds bundles in memory, keyed by reference. Used in
// tests and single-process setups where bundles are loaded at boot.
type MemoryKeyStore struct {
	mu      sync.RWMutex
	bundles map[string]KeyBundle
}

// NewMemoryKeyStore creates an empty in-memory key store.
func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{bundles: map[string]KeyBundle{}}
}

// Put stores a bundle under ref.
func (s *MemoryKeyStore) Put(ref string, bundle []byte, passphrase string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bundles[strings.TrimSpace(ref)] = KeyBundle{
		Bundle:     append([]byte(nil), bundle...),
		Passphrase: passphrase,
	}
}

// Fetch resolves a reference.
func (s *MemoryKeyStore) Fetch(ctx context.Context, ref string) (*KeyBundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bundle, ok := s.bundles[strings.TrimSpace(ref)]
	if !ok {
		return nil, transmitError(ErrKeyBundleUnresolved, ref)
	}
	return &KeyBundle{
		Bundle:     append([]byte(nil), bundle.Bundle...),
		Passphrase: bundle.Passphrase,
	}, nil
}

// DirectoryKeyStore resolves references to files under a base directory.
// The reference is a relative path; passphrases come from a per-reference
// map loaded from configuration.
type DirectoryKeyStore struct {
	base        string
	passphrases map[string]string
}

// NewDirectoryKeyStore creates a file-backed key store.
func NewDirectoryKeyStore(base string, passphrases map[string]string) *DirectoryKeyStore {
	copied := make(map[string]string, len(passphrases))
	for ref, pass := range passphrases {
		copied[ref] = pass
	}
	return &DirectoryKeyStore{base: base, passphrases: copied}
}

// Fetch reads the bundle file for ref. Path traversal outside the base
// directory is refused.
func (s *DirectoryKeyStore) Fetch(ctx context.Context, ref string) (*KeyBundle, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, transmitError(ErrKeyBundleUnresolved, "empty reference")
	}

	path := filepath.Join(s.base, filepath.Clean("/"+ref))
	if err := security.ValidateFilePath(path, s.base); err != nil {
		return nil, transmitError(ErrKeyBundleUnresolved, "reference escapes key directory")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, transmitError(ErrKeyBundleUnresolved, err.Error())
	}
	return &KeyBundle{Bundle: raw, Passphrase: s.passphrases[ref]}, nil
}
