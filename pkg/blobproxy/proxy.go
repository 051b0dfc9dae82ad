// Package blobproxy implements the read-through proxy role: it serves
// local get requests from its own disk, fetches misses from a configured
// server and verifies integrity on arrival, and forwards puts unconditionally.
package blobproxy

import (
	"io"
	"net/url"

	"golang.org/x/sync/singleflight"

	"github.com/jacktea/blobd/pkg/blob"
	"github.com/jacktea/blobd/pkg/blobclient"
)

// Proxy is the read-through cache role.
type Proxy struct {
	serverAddr string
	store      *blob.FileStore

	fetches  singleflight.Group
	presence *presenceCache
}

// New readies a Proxy pointed at serverAddr, caching locally in storageDir
// (empty means OS temp directory).
func New(serverAddr string, storageDir string) (*Proxy, error) {
	store, err := blob.NewFileStore(storageDir)
	if err != nil {
		return nil, err
	}
	return &Proxy{
		serverAddr: serverAddr,
		store:      store,
		presence:   newPresenceCache(4096),
	}, nil
}

// PutBytes forwards data to the server and returns its verified key.
func (p *Proxy) PutBytes(data []byte, jobID *blob.JobID) (blob.Key, error) {
	key, err := blobclient.PutBytes(p.serverAddr, data, jobID)
	if err != nil {
		return blob.Key{}, err
	}
	return key, nil
}

// PutStream forwards r to the server and returns its verified key.
func (p *Proxy) PutStream(r io.Reader, jobID *blob.JobID) (blob.Key, error) {
	key, err := blobclient.PutStream(p.serverAddr, r, jobID)
	if err != nil {
		return blob.Key{}, err
	}
	return key, nil
}

// Get returns key's contents, serving from local disk on a hit and
// read-through fetching from the server on a miss.
func (p *Proxy) Get(key blob.Key) (io.ReadCloser, error) {
	if rc, ok := p.openLocal(key); ok {
		return rc, nil
	}

	if _, err := p.fetch(key); err != nil {
		return nil, err
	}

	if rc, ok := p.openLocal(key); ok {
		return rc, nil
	}
	return nil, blob.E(blob.KindNotFound, "Get")
}

func (p *Proxy) openLocal(key blob.Key) (io.ReadCloser, bool) {
	if !p.presence.has(key) {
		if _, ok := p.store.Lookup(key); !ok {
			return nil, false
		}
		p.presence.mark(key)
	}
	rc, err := p.store.Open(key)
	if err != nil {
		return nil, false
	}
	return rc, true
}

// fetch downloads key from the server exactly once per overlapping set of
// concurrent callers within this process, verifies its content against
// key, and promotes it into the local store.
func (p *Proxy) fetch(key blob.Key) (blob.Key, error) {
	result, err, _ := p.fetches.Do(key.Hex(), func() (any, error) {
		return p.download(key)
	})
	if err != nil {
		return blob.Key{}, err
	}
	return result.(blob.Key), nil
}

func (p *Proxy) download(key blob.Key) (blob.Key, error) {
	stream, err := blobclient.Get(p.serverAddr, key)
	if err != nil {
		return blob.Key{}, err
	}
	defer stream.Close()

	tmp, err := p.store.AllocTemp()
	if err != nil {
		return blob.Key{}, err
	}

	digest := blob.NewDigest()
	if _, err := io.Copy(tmp, io.TeeReader(stream, digest)); err != nil {
		tmp.Discard()
		return blob.Key{}, blob.Wrap(blob.KindIO, "fetch", err)
	}
	got := blob.Sum(digest)
	if got != key {
		tmp.Discard()
		return blob.Key{}, blob.E(blob.KindCorruptTransfer, "fetch")
	}

	if err := p.store.Promote(tmp, key); err != nil {
		return blob.Key{}, err
	}
	p.presence.mark(key)
	return key, nil
}

// GetURL returns a file: URL for key, fetching first on a miss.
func (p *Proxy) GetURL(key blob.Key) (string, error) {
	if _, ok := p.store.Lookup(key); !ok {
		if _, err := p.fetch(key); err != nil {
			return "", err
		}
	}
	path, ok := p.store.Lookup(key)
	if !ok {
		return "", blob.E(blob.KindNotFound, "GetURL")
	}
	return (&url.URL{Scheme: "file", Path: path}).String(), nil
}

// Shutdown wipes the proxy's local cache directory.
func (p *Proxy) Shutdown() error {
	return p.store.Wipe()
}
