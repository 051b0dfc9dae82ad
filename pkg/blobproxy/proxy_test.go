package blobproxy

import (
	"bytes"
	"io"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/jacktea/blobd/pkg/blob"
	"github.com/jacktea/blobd/pkg/blobserver"
)

func newTestServer(t *testing.T) *blobserver.Server {
	t.Helper()
	s, err := blobserver.New("127.0.0.1:0", t.TempDir(), nil)
	if err != nil {
		t.Fatalf("blobserver.New: %v", err)
	}
	s.Start()
	t.Cleanup(func() { _ = s.Shutdown() })
	return s
}

func TestProxyPutForwardsToServer(t *testing.T) {
	s := newTestServer(t)
	p, err := New(s.Addr(), t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	data := []byte("proxied content")
	key, err := p.PutBytes(data, nil)
	if err != nil {
		t.Fatalf("PutBytes: %v", err)
	}

	rc, err := s.Get(key)
	if err != nil {
		t.Fatalf("server should have received the put: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("server holds wrong content")
	}
}

func TestProxyGetReadThroughPopulatesLocalDisk(t *testing.T) {
	s := newTestServer(t)
	key, err := s.PutBytes([]byte("server-side content"), nil)
	if err != nil {
		t.Fatalf("server PutBytes: %v", err)
	}

	proxyDir := t.TempDir()
	p, err := New(s.Addr(), proxyDir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rc, err := p.Get(key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "server-side content" {
		t.Fatalf("unexpected content: %s", got)
	}

	if _, ok := p.store.Lookup(key); !ok {
		t.Fatalf("expected key to be cached locally after read-through")
	}
}

func TestProxySecondGetServedLocallyAfterFirstFetch(t *testing.T) {
	s := newTestServer(t)
	key, err := s.PutBytes([]byte("cache me"), nil)
	if err != nil {
		t.Fatalf("server PutBytes: %v", err)
	}

	p, err := New(s.Addr(), t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := p.Get(key); err != nil {
		t.Fatalf("first Get: %v", err)
	}

	if err := s.Shutdown(); err != nil {
		t.Fatalf("Shutdown server: %v", err)
	}

	rc, err := p.Get(key)
	if err != nil {
		t.Fatalf("second Get should be served locally once server is down: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "cache me" {
		t.Fatalf("unexpected content: %s", got)
	}
}

func TestProxyGetZeroKeyIsNotFound(t *testing.T) {
	s := newTestServer(t)
	p, err := New(s.Addr(), t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Get(blob.ZeroKey); !blob.Is(err, blob.KindNotFound) {
		t.Fatalf("expected KindNotFound, got %v", err)
	}
}

func TestProxyConcurrentGetsLeaveOneCachedFile(t *testing.T) {
	s := newTestServer(t)
	data := make([]byte, 64*1024)
	key, err := s.PutBytes(data, nil)
	if err != nil {
		t.Fatalf("server PutBytes: %v", err)
	}

	p, err := New(s.Addr(), t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			rc, err := p.Get(key)
			if err != nil {
				errs[i] = err
				return
			}
			defer rc.Close()
			_, errs[i] = io.ReadAll(rc)
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}

	entries, err := os.ReadDir(p.store.Dir())
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	count := 0
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "blob_") {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one cached file, got %d", count)
	}
}

func TestProxyGetURLReturnsFileScheme(t *testing.T) {
	s := newTestServer(t)
	key, err := s.PutBytes([]byte("url content"), nil)
	if err != nil {
		t.Fatalf("server PutBytes: %v", err)
	}

	p, err := New(s.Addr(), t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	u, err := p.GetURL(key)
	if err != nil {
		t.Fatalf("GetURL: %v", err)
	}
	if !strings.HasPrefix(u, "file://") {
		t.Fatalf("expected file:// URL, got %s", u)
	}
}

func TestProxyShutdownWipesLocalCache(t *testing.T) {
	s := newTestServer(t)
	key, err := s.PutBytes([]byte("to be wiped from proxy"), nil)
	if err != nil {
		t.Fatalf("server PutBytes: %v", err)
	}

	p, err := New(s.Addr(), t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Get(key); err != nil {
		t.Fatalf("Get: %v", err)
	}
	dir := p.store.Dir()

	if err := p.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err == nil {
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), "blob_") {
				t.Fatalf("blob file survived proxy shutdown: %s", e.Name())
			}
		}
	}
}
