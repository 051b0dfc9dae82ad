package blob

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"sync"
)

// blobFilePrefix marks a finalized BLOB file; tmpFilePrefix marks a
// not-yet-promoted one. The two namespaces are disjoint by construction so
// a promote can never collide with an allocator's probe.
const (
	blobFilePrefix = "blob_"
	tmpFilePrefix  = "tmp-"

	tempNameSpace = 10000
)

// FileStore owns a single process-private storage directory and the
// temp-file-then-rename discipline used to publish BLOBs into it.
type FileStore struct {
	dir string

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewFileStore creates (if missing) and returns a store rooted at
// <base>/blob-<user>-<pid>. base may be empty, in which case the OS temp
// directory is used.
func NewFileStore(base string) (*FileStore, error) {
	if base == "" {
		base = os.TempDir()
	}
	name := fmt.Sprintf("blob-%s-%d", currentUserName(), os.Getpid())
	dir := filepath.Join(base, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, Wrap(KindIO, "NewFileStore", err)
	}
	return &FileStore{
		dir: dir,
		rnd: rand.New(rand.NewSource(int64(os.Getpid()) ^ 0x5bd1e995)),
	}, nil
}

// Dir returns the store's storage directory.
func (s *FileStore) Dir() string {
	return s.dir
}

func currentUserName() string {
	u, err := user.Current()
	if err != nil || u.Username == "" {
		return "default"
	}
	return u.Username
}

// TempFile is a not-yet-promoted file allocated by AllocTemp. It must be
// released via either Promote or Discard on every exit path.
type TempFile struct {
	store *FileStore
	path  string
	file  *os.File
}

// Write streams bytes into the temp file.
func (t *TempFile) Write(p []byte) (int, error) {
	return t.file.Write(p)
}

// Close closes the underlying file handle without removing it.
func (t *TempFile) Close() error {
	return t.file.Close()
}

// Discard closes (if not already closed) and removes the temp file. Safe
// to call multiple times and safe to call after a successful Promote
// (where it becomes a harmless no-op failing silently).
func (t *TempFile) Discard() {
	_ = t.file.Close()
	_ = os.Remove(t.path)
}

// AllocTemp picks a random, currently-unused tmp-<n> name under the store
// directory and returns an open handle to it. The probe-then-create
// sequence is serialized so two concurrent allocations can never collide
// on the same n.
func (s *FileStore) AllocTemp() (*TempFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		n := s.rnd.Intn(tempNameSpace)
		path := filepath.Join(s.dir, tmpFilePrefix+strconv.Itoa(n))
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return &TempFile{store: s, path: path, file: f}, nil
		}
		if os.IsExist(err) {
			continue
		}
		return nil, Wrap(KindIO, "AllocTemp", err)
	}
}

// Promote finalizes t by renaming it to blob_<hex(key)>. A rename failure
// because the target already exists is treated as success: two concurrent
// puts of identical content converge on one file with identical bytes.
func (s *FileStore) Promote(t *TempFile, key Key) error {
	if err := t.file.Close(); err != nil {
		t.Discard()
		return Wrap(KindIO, "Promote", err)
	}
	final := s.finalPath(key)
	if err := os.Rename(t.path, final); err != nil {
		if _, statErr := os.Stat(final); statErr == nil {
			_ = os.Remove(t.path)
			return nil
		}
		t.Discard()
		return Wrap(KindIO, "Promote", err)
	}
	return nil
}

func (s *FileStore) finalPath(key Key) string {
	return filepath.Join(s.dir, blobFilePrefix+key.Hex())
}

// Lookup reports whether key has a finalized file, and if so its path.
func (s *FileStore) Lookup(key Key) (string, bool) {
	path := s.finalPath(key)
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

// Open opens the finalized BLOB for key for reading, failing with
// KindNotFound if it does not exist.
func (s *FileStore) Open(key Key) (io.ReadCloser, error) {
	path, ok := s.Lookup(key)
	if !ok {
		return nil, E(KindNotFound, "Open")
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, E(KindNotFound, "Open")
		}
		return nil, Wrap(KindIO, "Open", err)
	}
	return f, nil
}

// Wipe deletes every blob_-prefixed entry in the store directory, then
// removes the directory itself if it is empty afterward. Per-file deletion
// errors are swallowed, matching the original's best-effort shutdown.
func (s *FileStore) Wipe() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return Wrap(KindIO, "Wipe", err)
	}
	for _, entry := range entries {
		if len(entry.Name()) >= len(blobFilePrefix) && entry.Name()[:len(blobFilePrefix)] == blobFilePrefix {
			_ = os.Remove(filepath.Join(s.dir, entry.Name()))
		}
	}
	_ = os.Remove(s.dir)
	return nil
}
