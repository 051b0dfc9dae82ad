// Package facade exposes the process-wide BLOB service singleton: whichever
// role (server or proxy) was initialized first, until Shutdown clears it.
package facade

import (
	"io"
	"sync/atomic"

	"github.com/jacktea/blobd/pkg/blob"
	"github.com/jacktea/blobd/pkg/blobproxy"
	"github.com/jacktea/blobd/pkg/blobserver"
	"github.com/jacktea/blobd/pkg/jobindex"
)

// role is the common shape of the two concrete roles the facade dispatches to.
type role interface {
	PutBytes(data []byte, jobID *blob.JobID) (blob.Key, error)
	PutStream(r io.Reader, jobID *blob.JobID) (blob.Key, error)
	Get(key blob.Key) (io.ReadCloser, error)
	GetURL(key blob.Key) (string, error)
	Shutdown() error
}

var active atomic.Pointer[role]

// InitServer starts the authoritative server role bound to addr, storing
// BLOBs under storageDir. index may be nil. Returns AlreadyInitialized if
// a role is already active in this process.
func InitServer(addr, storageDir string, index *jobindex.Index) error {
	if active.Load() != nil {
		return blob.E(blob.KindAlreadyInitialized, "InitServer")
	}
	s, err := blobserver.New(addr, storageDir, index)
	if err != nil {
		return err
	}
	var r role = s
	if !active.CompareAndSwap(nil, &r) {
		s.Close()
		return blob.E(blob.KindAlreadyInitialized, "InitServer")
	}
	s.Start()
	return nil
}

// InitProxy starts the read-through proxy role against serverAddr, caching
// locally under storageDir. Returns AlreadyInitialized if a role is already
// active in this process.
func InitProxy(serverAddr, storageDir string) error {
	if active.Load() != nil {
		return blob.E(blob.KindAlreadyInitialized, "InitProxy")
	}
	p, err := blobproxy.New(serverAddr, storageDir)
	if err != nil {
		return err
	}
	var r role = p
	if !active.CompareAndSwap(nil, &r) {
		return blob.E(blob.KindAlreadyInitialized, "InitProxy")
	}
	return nil
}

func current() (role, error) {
	p := active.Load()
	if p == nil {
		return nil, blob.E(blob.KindNotInitialized, "facade")
	}
	return *p, nil
}

// PutBytes stores data through the active role.
func PutBytes(data []byte, jobID *blob.JobID) (blob.Key, error) {
	r, err := current()
	if err != nil {
		return blob.Key{}, err
	}
	return r.PutBytes(data, jobID)
}

// PutStream stores the contents of src through the active role.
func PutStream(src io.Reader, jobID *blob.JobID) (blob.Key, error) {
	r, err := current()
	if err != nil {
		return blob.Key{}, err
	}
	return r.PutStream(src, jobID)
}

// Get retrieves key through the active role.
func Get(key blob.Key) (io.ReadCloser, error) {
	r, err := current()
	if err != nil {
		return nil, err
	}
	return r.Get(key)
}

// GetURL returns a URL for key through the active role.
func GetURL(key blob.Key) (string, error) {
	r, err := current()
	if err != nil {
		return "", err
	}
	return r.GetURL(key)
}

// Shutdown atomically clears the active role and shuts it down, if any.
func Shutdown() error {
	p := active.Swap(nil)
	if p == nil {
		return nil
	}
	return (*p).Shutdown()
}
