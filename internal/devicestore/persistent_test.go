package devicestore

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestPersistentStorePutAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.json")

	store, err := NewPersistentStore(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	seed := bytes.Repeat([]byte{7}, 64)
	r, err := Seal("desk", seed, "1234")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	r.Tags = map[string]string{"site": "home"}
	if err := store.Put(r); err != nil {
		t.Fatalf("put: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("data file should exist: %v", err)
	}

	store2, err := NewPersistentStore(path)
	if err != nil {
		t.Fatalf("reload store: %v", err)
	}
	got, err := store2.Get(r.ID)
	if err != nil {
		t.Fatalf("get after reload: %v", err)
	}
	if got.Label != "desk" {
		t.Fatalf("label mismatch: %s", got.Label)
	}
	if got.Tags["site"] != "home" {
		t.Fatalf("tags mismatch: %v", got.Tags)
	}

	// The reloaded record still opens with the same PIN.
	unsealed, err := got.Unseal("1234")
	if err != nil {
		t.Fatalf("unseal after reload: %v", err)
	}
	if !bytes.Equal(unsealed, seed) {
		t.Fatal("seed mismatch after reload")
	}
}

func TestPersistentStoreFileHasNoPlainSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.json")
	store, _ := NewPersistentStore(path)

	seed := []byte("this-seed-must-never-hit-the-disk-in-clear-text-0123456789abcdef")
	r, _ := Seal("desk", seed, "1234")
	store.Put(r)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if bytes.Contains(data, seed) {
		t.Fatal("plain seed found in device file")
	}
}

func TestPersistentStoreDeletePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.json")

	store, _ := NewPersistentStore(path)
	store.Put(makeRecord("dev-1"))
	store.Put(makeRecord("dev-2"))
	store.Delete("dev-1")

	store2, _ := NewPersistentStore(path)
	if _, err := store2.Get("dev-1"); err != ErrDeviceNotFound {
		t.Fatal("deleted record should not survive reload")
	}
	if _, err := store2.Get("dev-2"); err != nil {
		t.Fatal("dev-2 should survive reload")
	}
}

func TestPersistentStoreAtomicWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.json")

	store, _ := NewPersistentStore(path)
	store.Put(makeRecord("dev-1"))

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatal("temp file should not exist after atomic rename")
	}
}

func TestPersistentStoreEmptyReload(t *testing.T) {
	store, err := NewPersistentStore(filepath.Join(t.TempDir(), "devices.json"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	records, _ := store.List()
	if len(records) != 0 {
		t.Fatal("new store should be empty")
	}
}

func TestPersistentStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewPersistentStore(path); err == nil {
		t.Fatal("corrupt file should fail to load")
	}
}
