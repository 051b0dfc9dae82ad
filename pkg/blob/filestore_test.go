package blob

import (
	"crypto/sha1"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func putBytes(t *testing.T, s *FileStore, data []byte) Key {
	t.Helper()
	tmp, err := s.AllocTemp()
	if err != nil {
		t.Fatalf("AllocTemp: %v", err)
	}
	d := NewDigest()
	if _, err := tmp.Write(data); err != nil {
		tmp.Discard()
		t.Fatalf("write: %v", err)
	}
	d.Write(data)
	key := Sum(d)
	if err := s.Promote(tmp, key); err != nil {
		t.Fatalf("Promote: %v", err)
	}
	return key
}

func TestFileStorePutLookupOpen(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	data := []byte("hello blob")
	key := putBytes(t, s, data)

	sum := sha1.Sum(data)
	wantKey, _ := NewKey(sum[:])
	if key != wantKey {
		t.Fatalf("key law violated: got %v want %v", key, wantKey)
	}

	path, ok := s.Lookup(key)
	if !ok {
		t.Fatalf("expected lookup hit")
	}
	if base := filepath.Base(path); !strings.HasPrefix(base, blobFilePrefix) {
		t.Fatalf("filename law violated: %s", base)
	}

	rc, err := s.Open(key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("round trip mismatch")
	}
}

func TestFileStoreLookupMissOnUnknownKey(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if _, ok := s.Lookup(ZeroKey); ok {
		t.Fatalf("zero key should never be present")
	}
	if _, err := s.Open(ZeroKey); !Is(err, KindNotFound) {
		t.Fatalf("expected KindNotFound, got %v", err)
	}
}

func TestFileStoreConcurrentPromotionsConverge(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	data := []byte("race me")
	const n = 8
	keys := make([]Key, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			keys[i] = putBytes(t, s, data)
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if keys[i] != keys[0] {
			t.Fatalf("callers disagreed on key: %v vs %v", keys[i], keys[0])
		}
	}

	entries, err := os.ReadDir(s.Dir())
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	finalCount := 0
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), blobFilePrefix) {
			finalCount++
		}
	}
	if finalCount != 1 {
		t.Fatalf("expected exactly one final file, got %d", finalCount)
	}
}

func TestFileStoreWipeRemovesBlobsAndDirectory(t *testing.T) {
	base := t.TempDir()
	s, err := NewFileStore(base)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	putBytes(t, s, []byte("to be wiped"))

	if err := s.Wipe(); err != nil {
		t.Fatalf("Wipe: %v", err)
	}

	entries, err := os.ReadDir(s.Dir())
	if err == nil {
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), blobFilePrefix) {
				t.Fatalf("blob file survived wipe: %s", e.Name())
			}
		}
	}
	if _, err := os.Stat(s.Dir()); !os.IsNotExist(err) {
		t.Fatalf("expected storage directory to be removed, stat err = %v", err)
	}
}

func TestFileStoreDiscardRemovesTempFile(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	tmp, err := s.AllocTemp()
	if err != nil {
		t.Fatalf("AllocTemp: %v", err)
	}
	path := tmp.path
	tmp.Discard()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected temp file to be removed, stat err = %v", err)
	}
}
