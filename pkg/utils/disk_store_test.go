package utils

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestDiskStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := OpenDiskStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to open DiskStore: %v", err)
	}

	testDiskStoreBasic(t, store)
	testDiskStorePrefix(t, store)

	if err := store.Close(); err != nil {
		t.Fatalf("Failed to close store: %v", err)
	}

	testDiskStorePersistence(t, dbPath)
}

func testDiskStoreBasic(t *testing.T, store *DiskStore) {
	if err := store.Put("meta/version", []byte("7")); err != nil {
		t.Errorf("Put failed: %v", err)
	}
	got, err := store.Get("meta/version")
	if err != nil || !bytes.Equal(got, []byte("7")) {
		t.Errorf("Get = (%s, %v), want 7", got, err)
	}
	missing, err := store.Get("nope")
	if err != nil || missing != nil {
		t.Errorf("Get(missing) = (%v, %v), want (nil, nil)", missing, err)
	}
}

func testDiskStorePrefix(t *testing.T, store *DiskStore) {
	if err := store.BatchPutRaw(map[string][]byte{
		"events/00000001": []byte("b"),
		"events/00000000": []byte("a"),
		"other/x":         []byte("z"),
	}); err != nil {
		t.Fatalf("BatchPutRaw failed: %v", err)
	}

	var seen []string
	collect := func(k, v []byte) error {
		seen = append(seen, string(k)+"="+string(v))
		return nil
	}
	if err := store.ForEachPrefix("events/", collect); err != nil {
		t.Fatalf("ForEachPrefix failed: %v", err)
	}
	if len(seen) != 2 || seen[0] != "events/00000000=a" || seen[1] != "events/00000001=b" {
		t.Errorf("ForEachPrefix = %v", seen)
	}

	if err := store.ReplacePrefix("events/", map[string][]byte{"events/00000000": []byte("c")}); err != nil {
		t.Fatalf("ReplacePrefix failed: %v", err)
	}
	seen = nil
	if err := store.ForEachPrefix("events/", collect); err != nil {
		t.Fatalf("ForEachPrefix failed: %v", err)
	}
	if len(seen) != 1 || seen[0] != "events/00000000=c" {
		t.Errorf("after ReplacePrefix = %v", seen)
	}
	if v, _ := store.Get("other/x"); !bytes.Equal(v, []byte("z")) {
		t.Errorf("ReplacePrefix touched another prefix: %s", v)
	}
}

func testDiskStorePersistence(t *testing.T, dbPath string) {
	store, err := OpenDiskStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to reopen DiskStore: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			t.Errorf("Failed to close store: %v", err)
		}
	}()
	got, err := store.Get("events/00000000")
	if err != nil || !bytes.Equal(got, []byte("c")) {
		t.Errorf("after reopen Get = (%s, %v), want c", got, err)
	}
}
