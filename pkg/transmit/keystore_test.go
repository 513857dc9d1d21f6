package transmit

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestMemoryKeyStoreFetch(t *testing.T) {
	store := NewMemoryKeyStore()
	store.Put("tenant-1/cert", []byte{0x30, 0x82}, "secreto")

	bundle, err := store.Fetch(context.Background(), "tenant-1/cert")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !bytes.Equal(bundle.Bundle, []byte{0x30, 0x82}) || bundle.Passphrase != "secreto" {
		t.Errorf("unexpected bundle: %+v", bundle)
	}

	// Mutating the returned copy must not affect the store.
	bundle.Bundle[0] = 0xff
	again, _ := store.Fetch(context.Background(), "tenant-1/cert")
	if again.Bundle[0] != 0x30 {
		t.Error("store contents were mutated through a fetched copy")
	}
}

func TestMemoryKeyStoreUnknownRef(t *testing.T) {
	_, err := NewMemoryKeyStore().Fetch(context.Background(), "missing")
	if !errors.Is(err, ErrKeyBundleUnresolved) {
		t.Errorf("got %v, want ErrKeyBundleUnresolved", err)
	}
}

func TestDirectoryKeyStoreFetch(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "tenant-1.p12"), []byte("bundle-bytes"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	store := NewDirectoryKeyStore(dir, map[string]string{"tenant-1.p12": "clave"})
	bundle, err := store.Fetch(context.Background(), "tenant-1.p12")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(bundle.Bundle) != "bundle-bytes" || bundle.Passphrase != "clave" {
		t.Errorf("unexpected bundle: %+v", bundle)
	}
}

func TestDirectoryKeyStoreRefusesTraversal(t *testing.T) {
	dir := t.TempDir()
	store := NewDirectoryKeyStore(filepath.Join(dir, "keys"), nil)

	for _, ref := range []string{"../outside.p12", "..", ""} {
		if _, err := store.Fetch(context.Background(), ref); !errors.Is(err, ErrKeyBundleUnresolved) {
			t.Errorf("Fetch(%q) = %v, want ErrKeyBundleUnresolved", ref, err)
		}
	}
}
