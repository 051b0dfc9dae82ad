// Package jobindex keeps a best-effort, durable record of which job asked
// to have which BLOB cached. It is never consulted to decide whether a get
// hits or misses; losing it costs diagnostics, not correctness.
package jobindex

import (
	"encoding/json"
	"time"

	"go.etcd.io/bbolt"

	"github.com/jacktea/blobd/pkg/blob"
)

var bucketName = []byte("jobs")

// Index is a bbolt-backed key.Hex() -> []JobID set, one bucket, no
// transactional API exposed beyond Record/JobsFor/Close.
type Index struct {
	db *bbolt.DB
}

// Open creates or opens the index database at path.
func Open(path string) (*Index, error) {
	db, err := bbolt.Open(path, 0o644, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, blob.Wrap(blob.KindIO, "jobindex.Open", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, blob.Wrap(blob.KindIO, "jobindex.Open", err)
	}
	return &Index{db: db}, nil
}

// Record appends jobID to the set stored under key's hex string. Callers
// treat a non-nil error as a logged warning, never as a put failure.
func (idx *Index) Record(key blob.Key, jobID blob.JobID) error {
	return idx.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(bucketName)
		name := []byte(key.Hex())

		var ids []blob.JobID
		if existing := bkt.Get(name); existing != nil {
			if err := json.Unmarshal(existing, &ids); err != nil {
				return err
			}
		}
		for _, id := range ids {
			if id == jobID {
				return nil
			}
		}
		ids = append(ids, jobID)

		encoded, err := json.Marshal(ids)
		if err != nil {
			return err
		}
		return bkt.Put(name, encoded)
	})
}

// JobsFor returns the set of job ids recorded against key, or nil if none
// were ever recorded.
func (idx *Index) JobsFor(key blob.Key) ([]blob.JobID, error) {
	var ids []blob.JobID
	err := idx.db.View(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(bucketName)
		raw := bkt.Get([]byte(key.Hex()))
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &ids)
	})
	if err != nil {
		return nil, blob.Wrap(blob.KindIO, "jobindex.JobsFor", err)
	}
	return ids, nil
}

// Close releases the underlying database handle.
func (idx *Index) Close() error {
	return idx.db.Close()
}
