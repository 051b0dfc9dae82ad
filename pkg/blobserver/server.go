// Package blobserver implements the authoritative server role: it accepts
// local and network put/get requests and persists BLOBs on disk.
package blobserver

import (
	"bytes"
	"io"
	"log"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/jacktea/blobd/pkg/blob"
	"github.com/jacktea/blobd/pkg/jobindex"
)

// Server is the authoritative BLOB store role.
type Server struct {
	store *blob.FileStore
	index *jobindex.Index // nil if no job index configured

	listener net.Listener

	mu        sync.Mutex
	accepting bool

	wg sync.WaitGroup // tracks the accept loop goroutine
}

// New binds a listener at addr and readies a Server for Start. storageDir
// may be empty (OS temp directory). index may be nil to run without
// job-provenance bookkeeping.
func New(addr string, storageDir string, index *jobindex.Index) (*Server, error) {
	store, err := blob.NewFileStore(storageDir)
	if err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, blob.Wrap(blob.KindIO, "blobserver.New", err)
	}
	return &Server{store: store, index: index, listener: ln}, nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Close releases the listener without touching the storage directory. It
// is for a server that was constructed but never Start-ed, and so never
// accepted a connection, such as one discarded after losing a facade init
// race: closing the listener is the only cleanup owed in that case, since
// the storage directory may be the same one a winning role is actively using.
func (s *Server) Close() error {
	return s.listener.Close()
}

// Start begins accepting connections on a background goroutine.
func (s *Server) Start() {
	s.mu.Lock()
	s.accepting = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			stillAccepting := s.accepting
			s.mu.Unlock()
			if !stillAccepting {
				return
			}
			log.Printf("blobserver: accept: %v", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	var op [1]byte
	if _, err := io.ReadFull(conn, op[:]); err != nil {
		return
	}
	switch op[0] {
	case blob.OpPut:
		s.handlePut(conn)
	case blob.OpGet:
		s.handleGet(conn)
	default:
		log.Printf("blobserver: unknown op byte %#x, closing connection", op[0])
	}
}

func (s *Server) handlePut(conn net.Conn) {
	jobID, err := blob.ReadJobIDFrame(conn)
	if err != nil {
		log.Printf("blobserver: put: reading job id frame: %v", err)
		return
	}

	tmp, err := s.store.AllocTemp()
	if err != nil {
		log.Printf("blobserver: put: alloc temp: %v", err)
		return
	}

	digest := blob.NewDigest()
	if err := blob.ReadChunked(tmp, conn, digest); err != nil {
		log.Printf("blobserver: put: reading payload: %v", err)
		tmp.Discard()
		return
	}
	key := blob.Sum(digest)

	if err := s.store.Promote(tmp, key); err != nil {
		log.Printf("blobserver: put: promote: %v", err)
		return
	}

	if _, err := key.WriteTo(conn); err != nil {
		log.Printf("blobserver: put: writing trailer: %v", err)
		return
	}

	if jobID != nil && s.index != nil {
		if err := s.index.Record(key, *jobID); err != nil {
			log.Printf("blobserver: put: recording job index: %v", err)
		}
	}
}

func (s *Server) handleGet(conn net.Conn) {
	key, err := blob.ReadKey(conn)
	if err != nil {
		log.Printf("blobserver: get: reading key: %v", err)
		return
	}

	rc, err := s.store.Open(key)
	if err != nil {
		if _, werr := conn.Write([]byte{blob.StatusMiss}); werr != nil {
			log.Printf("blobserver: get: writing miss status: %v", werr)
		}
		return
	}
	defer rc.Close()

	if _, err := conn.Write([]byte{blob.StatusHit}); err != nil {
		log.Printf("blobserver: get: writing hit status: %v", err)
		return
	}
	buf := make([]byte, blob.TransferBufferSize)
	if _, err := io.CopyBuffer(conn, rc, buf); err != nil {
		log.Printf("blobserver: get: streaming payload: %v", err)
	}
}

// PutBytes stores data locally, bypassing the socket, and returns its key.
func (s *Server) PutBytes(data []byte, jobID *blob.JobID) (blob.Key, error) {
	return s.putReader(bytes.NewReader(data), jobID)
}

// PutStream stores the contents of r locally, bypassing the socket.
func (s *Server) PutStream(r io.Reader, jobID *blob.JobID) (blob.Key, error) {
	return s.putReader(r, jobID)
}

func (s *Server) putReader(r io.Reader, jobID *blob.JobID) (blob.Key, error) {
	tmp, err := s.store.AllocTemp()
	if err != nil {
		return blob.Key{}, err
	}
	digest := blob.NewDigest()
	if _, err := io.Copy(tmp, io.TeeReader(r, digest)); err != nil {
		tmp.Discard()
		return blob.Key{}, blob.Wrap(blob.KindIO, "PutBytes", err)
	}
	key := blob.Sum(digest)
	if err := s.store.Promote(tmp, key); err != nil {
		return blob.Key{}, err
	}
	if jobID != nil && s.index != nil {
		if err := s.index.Record(key, *jobID); err != nil {
			log.Printf("blobserver: recording job index: %v", err)
		}
	}
	return key, nil
}

// Get opens the locally stored BLOB for key, bypassing the socket.
func (s *Server) Get(key blob.Key) (io.ReadCloser, error) {
	return s.store.Open(key)
}

// GetURL returns a file: URL to key's local path.
func (s *Server) GetURL(key blob.Key) (string, error) {
	path, ok := s.store.Lookup(key)
	if !ok {
		return "", blob.E(blob.KindNotFound, "GetURL")
	}
	return (&url.URL{Scheme: "file", Path: path}).String(), nil
}

// Shutdown stops accepting, closes the listener, joins the accept
// goroutine, closes the job index, then wipes the storage directory.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	s.accepting = false
	s.mu.Unlock()

	_ = s.listener.Close()
	s.wg.Wait()

	if s.index != nil {
		if err := s.index.Close(); err != nil {
			log.Printf("blobserver: closing job index: %v", err)
		}
	}
	return s.store.Wipe()
}
