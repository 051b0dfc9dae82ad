// Package blobclient drives the wire protocol against a remote server from
// any process: no state beyond the server address passed to each call.
package blobclient

import (
	"bytes"
	"io"
	"net"

	"github.com/jacktea/blobd/pkg/blob"
)

// PutBytes sends op, optional job id, and payload, then verifies the
// server's returned key against the locally computed one.
func PutBytes(serverAddr string, data []byte, jobID *blob.JobID) (blob.Key, error) {
	return PutStream(serverAddr, bytes.NewReader(data), jobID)
}

// PutStream streams src to the server, computing the key incrementally.
func PutStream(serverAddr string, src io.Reader, jobID *blob.JobID) (blob.Key, error) {
	conn, err := net.Dial("tcp", serverAddr)
	if err != nil {
		return blob.Key{}, blob.Wrap(blob.KindIO, "Put", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte{blob.OpPut}); err != nil {
		return blob.Key{}, blob.Wrap(blob.KindIO, "Put", err)
	}
	if err := blob.WriteJobIDFrame(conn, jobID); err != nil {
		return blob.Key{}, blob.Wrap(blob.KindIO, "Put", err)
	}

	digest := blob.NewDigest()
	if err := blob.CopyChunked(conn, src, digest); err != nil {
		return blob.Key{}, blob.Wrap(blob.KindIO, "Put", err)
	}
	localKey := blob.Sum(digest)

	remoteKey, err := blob.ReadPutTrailer(conn)
	if err != nil {
		return blob.Key{}, err
	}
	if remoteKey != localKey {
		return blob.Key{}, blob.E(blob.KindCorruptTransfer, "Put")
	}
	return localKey, nil
}

// GetStream is the lifetime handle returned by Get: the socket is owned by
// the stream and is closed when the stream is closed.
type GetStream struct {
	conn net.Conn
}

func (s *GetStream) Read(p []byte) (int, error) { return s.conn.Read(p) }
func (s *GetStream) Close() error                { return s.conn.Close() }

// Get requests key from serverAddr and returns a readable stream positioned
// at the start of the payload. On NotFound the socket is closed before
// returning the error.
func Get(serverAddr string, key blob.Key) (*GetStream, error) {
	conn, err := net.Dial("tcp", serverAddr)
	if err != nil {
		return nil, blob.Wrap(blob.KindIO, "Get", err)
	}
	if _, err := conn.Write([]byte{blob.OpGet}); err != nil {
		conn.Close()
		return nil, blob.Wrap(blob.KindIO, "Get", err)
	}
	if _, err := key.WriteTo(conn); err != nil {
		conn.Close()
		return nil, blob.Wrap(blob.KindIO, "Get", err)
	}

	var status [1]byte
	n, err := conn.Read(status[:])
	if n == 0 {
		conn.Close()
		if err != nil {
			return nil, blob.Wrap(blob.KindUnexpectedEOF, "Get", err)
		}
		return nil, blob.E(blob.KindUnexpectedEOF, "Get")
	}
	switch status[0] {
	case blob.StatusHit:
		return &GetStream{conn: conn}, nil
	case blob.StatusMiss:
		conn.Close()
		return nil, blob.E(blob.KindNotFound, "Get")
	default:
		conn.Close()
		return nil, blob.E(blob.KindProtocolViolation, "Get")
	}
}
