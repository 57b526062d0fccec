package library

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/hyperjump/ruiji/internal/models"
)

var (
	boltEntriesBucket = []byte("entries")
	boltMetaBucket    = []byte("meta")
	boltVersionKey    = []byte("schema_version")
)

// boltStore implements Store on a bbolt document store. Each entry is a
// JSON record keyed by identifier; an embedded seq (from the bucket
// sequence) reconstructs insertion order. Unknown fields in stored
// records are ignored on read.
type boltStore struct {
	db *bbolt.DB
}

// boltRecord is the persisted entry document.
type boltRecord struct {
	Seq         uint64                 `json:"seq"`
	Identifier  string                 `json:"identifier"`
	PrecursorMZ *float64               `json:"precursor_mz,omitempty"`
	Metadata    map[string]interface{} `json:"metadata"`
	Vector      models.SparseVector    `json:"vector"`
}

func newBoltStore(path string) (*boltStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create library directory: %w", err)
		}
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt store: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(boltEntriesBucket); err != nil {
			return err
		}
		meta, err := tx.CreateBucketIfNotExists(boltMetaBucket)
		if err != nil {
			return err
		}
		if meta.Get(boltVersionKey) == nil {
			return meta.Put(boltVersionKey, []byte(SchemaVersion))
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize bolt store: %w", err)
	}
	return &boltStore{db: db}, nil
}

func (s *boltStore) Upsert(_ context.Context, entry *models.LibraryEntry, overwrite bool) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(boltEntriesBucket)
		key := []byte(entry.Identifier)

		record := boltRecord{
			Identifier:  entry.Identifier,
			PrecursorMZ: entry.PrecursorMZ,
			Metadata:    entry.Metadata,
			Vector:      entry.Vector,
		}
		if record.Metadata == nil {
			record.Metadata = map[string]interface{}{}
		}
		if record.Vector == nil {
			record.Vector = models.SparseVector{}
		}

		if existing := b.Get(key); existing != nil {
			if !overwrite {
				return fmt.Errorf("%w: %s", ErrDuplicateIdentifier, entry.Identifier)
			}
			var old boltRecord
			if err := json.Unmarshal(existing, &old); err != nil {
				return fmt.Errorf("failed to decode existing record: %w", err)
			}
			// Keeps the original insertion position.
			record.Seq = old.Seq
		} else {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			record.Seq = seq
		}

		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}
		return b.Put(key, data)
	})
}

func (s *boltStore) Get(_ context.Context, identifier string) (*models.LibraryEntry, error) {
	var entry *models.LibraryEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(boltEntriesBucket).Get([]byte(identifier))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, identifier)
		}
		record, err := decodeBoltRecord(data)
		if err != nil {
			return err
		}
		entry = record.toEntry()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *boltStore) Entries(_ context.Context) ([]*models.LibraryEntry, error) {
	var records []boltRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(boltEntriesBucket).ForEach(func(_, v []byte) error {
			record, err := decodeBoltRecord(v)
			if err != nil {
				return err
			}
			records = append(records, *record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })

	entries := make([]*models.LibraryEntry, len(records))
	for i := range records {
		entries[i] = records[i].toEntry()
	}
	return entries, nil
}

func (s *boltStore) Remove(_ context.Context, identifier string) (bool, error) {
	removed := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(boltEntriesBucket)
		key := []byte(identifier)
		if b.Get(key) == nil {
			return nil
		}
		removed = true
		return b.Delete(key)
	})
	return removed, err
}

func (s *boltStore) Count(_ context.Context) (int64, error) {
	var count int64
	err := s.db.View(func(tx *bbolt.Tx) error {
		count = int64(tx.Bucket(boltEntriesBucket).Stats().KeyN)
		return nil
	})
	return count, err
}

func (s *boltStore) SchemaVersion(_ context.Context) (string, error) {
	var version string
	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(boltMetaBucket).Get(boltVersionKey); v != nil {
			version = string(v)
		}
		return nil
	})
	return version, err
}

func (s *boltStore) Close() error {
	return s.db.Close()
}

func decodeBoltRecord(data []byte) (*boltRecord, error) {
	var record boltRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &record, nil
}

func (r *boltRecord) toEntry() *models.LibraryEntry {
	return &models.LibraryEntry{
		Identifier:  r.Identifier,
		PrecursorMZ: r.PrecursorMZ,
		Metadata:    r.Metadata,
		Vector:      r.Vector,
	}
}
