package blob

import (
	"io"

	"github.com/google/uuid"
)

// JobIDSize is the fixed width of a JobID on the wire.
const JobIDSize = 16

// JobID is the external job-identifier collaborator's wire representation:
// a fixed-width byte identifier carried by Put for provenance only. The
// runtime's real job manager owns the authoritative type; this is a
// concrete stand-in so the BLOB service compiles and runs standalone.
type JobID [JobIDSize]byte

// NewJobID generates a fresh random JobID backed by a version-4 UUID.
func NewJobID() JobID {
	var id JobID
	u := uuid.New()
	copy(id[:], u[:])
	return id
}

// WriteTo writes the raw JobID bytes to w.
func (id JobID) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(id[:])
	return int64(n), err
}

// ReadJobID reads exactly JobIDSize bytes from r.
func ReadJobID(r io.Reader) (JobID, error) {
	var id JobID
	if _, err := io.ReadFull(r, id[:]); err != nil {
		return JobID{}, Wrap(KindUnexpectedEOF, "ReadJobID", err)
	}
	return id, nil
}

// String renders the JobID as hex, mirroring Key's human form.
func (id JobID) String() string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, JobIDSize*2)
	for i, b := range id {
		out[i*2] = hexDigits[b>>4]
		out[i*2+1] = hexDigits[b&0x0f]
	}
	return string(out)
}
