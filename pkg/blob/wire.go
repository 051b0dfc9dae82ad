package blob

import (
	"encoding/binary"
	"io"
)

// TransferBufferSize is the maximum chunk size a put producer may use, and
// the chunk size the server uses when streaming a get response.
const TransferBufferSize = 4096

// Operation codes, sent as the first byte of a fresh connection.
const (
	OpPut byte = 0x00
	OpGet byte = 0x01
)

// Get-response status codes, sent as the first byte after a GET request.
const (
	StatusMiss byte = 0x00
	StatusHit  byte = 0x01
)

// terminator is the negative length value that ends a put payload stream.
const terminator int32 = -1

// WriteLength writes a 4-byte little-endian signed chunk length.
func WriteLength(w io.Writer, length int32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(length))
	_, err := w.Write(buf[:])
	return err
}

// WriteTerminator writes the length value that ends a put payload stream.
func WriteTerminator(w io.Writer) error {
	return WriteLength(w, terminator)
}

// ReadLength reads a 4-byte little-endian signed chunk length. Unexpected
// EOF while reading the length itself is reported as KindUnexpectedEOF.
func ReadLength(r io.Reader) (int32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, Wrap(KindUnexpectedEOF, "ReadLength", err)
	}
	return int32(binary.LittleEndian.Uint32(buf[:])), nil
}

// WriteJobIDFrame writes the optional JobID frame that follows the PUT op
// byte: 0x00 then nothing, or 0x01 then 16 raw bytes.
func WriteJobIDFrame(w io.Writer, id *JobID) error {
	if id == nil {
		_, err := w.Write([]byte{0x00})
		return err
	}
	if _, err := w.Write([]byte{0x01}); err != nil {
		return err
	}
	_, err := id.WriteTo(w)
	return err
}

// ReadJobIDFrame reads the optional JobID frame, returning nil if the
// sender indicated no job id follows.
func ReadJobIDFrame(r io.Reader) (*JobID, error) {
	var marker [1]byte
	if _, err := io.ReadFull(r, marker[:]); err != nil {
		return nil, Wrap(KindUnexpectedEOF, "ReadJobIDFrame", err)
	}
	switch marker[0] {
	case 0x00:
		return nil, nil
	case 0x01:
		id, err := ReadJobID(r)
		if err != nil {
			return nil, err
		}
		return &id, nil
	default:
		return nil, E(KindProtocolViolation, "ReadJobIDFrame")
	}
}

// CopyChunked copies all of src to dst using the chunking rule (chunks of
// at most TransferBufferSize, framed by a 4-byte length prefix, terminated
// by a negative length), updating digest with every byte written.
func CopyChunked(dst io.Writer, src io.Reader, digest io.Writer) error {
	buf := make([]byte, TransferBufferSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if err := WriteLength(dst, int32(n)); err != nil {
				return err
			}
			if _, werr := digest.Write(buf[:n]); werr != nil {
				return werr
			}
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return WriteTerminator(dst)
		}
		if err != nil {
			return err
		}
	}
}

// ReadChunked reads a chunk-framed payload from src until the terminator,
// writing each chunk to dst and updating digest.
func ReadChunked(dst io.Writer, src io.Reader, digest io.Writer) error {
	buf := make([]byte, TransferBufferSize)
	for {
		length, err := ReadLength(src)
		if err != nil {
			return err
		}
		if length < 0 {
			return nil
		}
		if int(length) > len(buf) {
			buf = make([]byte, length)
		}
		if _, err := io.ReadFull(src, buf[:length]); err != nil {
			return Wrap(KindUnexpectedEOF, "ReadChunked", err)
		}
		if _, err := digest.Write(buf[:length]); err != nil {
			return err
		}
		if _, err := dst.Write(buf[:length]); err != nil {
			return err
		}
	}
}

// ReadPutTrailer reads the server's 20-byte key trailer and verifies that
// nothing but end-of-stream follows it.
func ReadPutTrailer(r io.Reader) (Key, error) {
	key, err := ReadKey(r)
	if err != nil {
		return Key{}, err
	}
	var extra [1]byte
	n, err := r.Read(extra[:])
	if n > 0 {
		return Key{}, E(KindProtocolViolation, "ReadPutTrailer")
	}
	if err != nil && err != io.EOF {
		return Key{}, Wrap(KindIO, "ReadPutTrailer", err)
	}
	return key, nil
}
