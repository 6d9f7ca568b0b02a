package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

// ErrNoState is returned when no resume record exists for a path.
var ErrNoState = errors.New("no resume state")

var downloadsBucket = []byte("downloads")

// Store persists download resume records in a bbolt database keyed by local path.
// Thread-safe: bbolt serializes writers.
type Store struct {
	db *bbolt.DB
}

// Open opens (or creates) the state database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(downloadsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create downloads bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Load returns the record for localPath, or ErrNoState.
func (s *Store) Load(localPath string) (*DownloadResumeState, error) {
	var st DownloadResumeState
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(downloadsBucket).Get(stateKey(localPath))
		if data == nil {
			return ErrNoState
		}
		if err := json.Unmarshal(data, &st); err != nil {
			return fmt.Errorf("failed to unmarshal download state: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// Save writes the whole record.
func (s *Store) Save(st *DownloadResumeState) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, st)
	})
}

// MarkChunk records one completed chunk in a single transaction.
func (s *Store) MarkChunk(localPath string, index int, length int64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data := tx.Bucket(downloadsBucket).Get(stateKey(localPath))
		if data == nil {
			return ErrNoState
		}
		var st DownloadResumeState
		if err := json.Unmarshal(data, &st); err != nil {
			return fmt.Errorf("failed to unmarshal download state: %w", err)
		}
		st.MarkChunkCompleted(index, length)
		return put(tx, &st)
	})
}

// Delete removes the record for localPath. A missing record is not an error.
func (s *Store) Delete(localPath string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(downloadsBucket).Delete(stateKey(localPath))
	})
}

// PruneExpired deletes records older than MaxResumeAge and returns how many were removed.
func (s *Store) PruneExpired() (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(downloadsBucket)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var st DownloadResumeState
			if json.Unmarshal(v, &st) != nil || time.Since(st.CreatedAt) > MaxResumeAge {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func put(tx *bbolt.Tx, st *DownloadResumeState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal download state: %w", err)
	}
	return tx.Bucket(downloadsBucket).Put(stateKey(st.LocalPath), data)
}

func stateKey(localPath string) []byte {
	if abs, err := filepath.Abs(localPath); err == nil {
		localPath = abs
	}
	return []byte(filepath.Clean(localPath))
}
