// Package library stores spectral library entries: identifier, precursor,
// metadata, and the precomputed sparse vector. Two backends expose the
// same logical behavior, a SQLite table and a bbolt document store,
// selected by the destination path at open time.
package library

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/internal/vectorize"
)

// SchemaVersion tags the on-disk layout so future readers can detect
// incompatible files. Unknown fields in stored records are ignored and
// missing optional fields default to absent.
const SchemaVersion = "1.0"

var (
	// ErrDuplicateIdentifier is returned by Upsert when overwrite is false
	// and the identifier already exists.
	ErrDuplicateIdentifier = errors.New("library: identifier already exists")
	// ErrNotFound is returned by Get when no entry has the identifier.
	ErrNotFound = errors.New("library: entry not found")
)

// Store is the backend contract. Entries returns a snapshot in insertion
// order; replacing an entry keeps its original position.
type Store interface {
	Upsert(ctx context.Context, entry *models.LibraryEntry, overwrite bool) error
	Get(ctx context.Context, identifier string) (*models.LibraryEntry, error)
	Entries(ctx context.Context) ([]*models.LibraryEntry, error)
	Remove(ctx context.Context, identifier string) (bool, error)
	Count(ctx context.Context) (int64, error)
	SchemaVersion(ctx context.Context) (string, error)
	Close() error
}

// Library wraps a Store with single-writer serialization. Readers always
// operate on snapshots, so an index built from Entries never observes a
// partial write.
type Library struct {
	store  Store
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

// Open creates or opens a library at path. Paths ending in .db, .sqlite,
// or .sqlite3 use the SQLite backend; everything else uses bbolt.
func Open(path string, logger *zap.Logger) (*Library, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		store Store
		err   error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		store, err = newSQLiteStore(path)
	default:
		store, err = newBoltStore(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open library %s: %w", path, err)
	}
	return &Library{store: store, path: path, logger: logger}, nil
}

// Path returns the on-disk location of the library.
func (l *Library) Path() string { return l.path }

// Upsert inserts or replaces an entry by identifier. With overwrite=false
// an existing identifier fails with ErrDuplicateIdentifier instead of
// silently dropping data.
func (l *Library) Upsert(ctx context.Context, entry *models.LibraryEntry, overwrite bool) error {
	if entry.Identifier == "" {
		return errors.New("library: entry identifier must not be empty")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Upsert(ctx, entry, overwrite)
}

// Get returns the entry with the identifier, or ErrNotFound.
func (l *Library) Get(ctx context.Context, identifier string) (*models.LibraryEntry, error) {
	return l.store.Get(ctx, identifier)
}

// Entries returns a snapshot of all entries in insertion order. The
// snapshot is restartable: iterating it never touches the store again.
func (l *Library) Entries(ctx context.Context) ([]*models.LibraryEntry, error) {
	return l.store.Entries(ctx)
}

// Remove deletes an entry. Returns false when the identifier was absent.
func (l *Library) Remove(ctx context.Context, identifier string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Remove(ctx, identifier)
}

// Count returns the number of stored entries.
func (l *Library) Count(ctx context.Context) (int64, error) {
	return l.store.Count(ctx)
}

// SchemaVersion reads the version marker persisted with the library.
func (l *Library) SchemaVersion(ctx context.Context) (string, error) {
	return l.store.SchemaVersion(ctx)
}

// Close releases the backend.
func (l *Library) Close() error {
	return l.store.Close()
}

// AddSpectrum vectorizes a spectrum and stores the derived entry. The
// identifier comes from the metadata name when present, otherwise a UUID.
// Peak statistics are recorded into the metadata here because raw peaks
// are not persisted.
func (l *Library) AddSpectrum(ctx context.Context, s *models.Spectrum, v vectorize.Vectorizer, overwrite bool) (*models.LibraryEntry, error) {
	metadata := sanitizeMetadata(s.Metadata)
	identifier := identifierFor(metadata)

	vector, stats := v.Vectorize(s)
	vectorize.StatsToMetadata(stats, metadata)

	var precursor *float64
	if mz, ok := s.Precursor(); ok {
		p := mz
		precursor = &p
	}

	entry := &models.LibraryEntry{
		Identifier:  identifier,
		PrecursorMZ: precursor,
		Metadata:    metadata,
		Vector:      vector,
	}
	if err := l.Upsert(ctx, entry, overwrite); err != nil {
		return nil, err
	}
	l.logger.Debug("added spectrum",
		zap.String("identifier", identifier),
		zap.Int("peaks", stats.PeakCount),
		zap.String("vectorizer", v.Name()))
	return entry, nil
}

// sanitizeMetadata copies metadata, dropping nil values.
func sanitizeMetadata(metadata map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		if v == nil {
			continue
		}
		out[k] = v
	}
	return out
}

func identifierFor(metadata map[string]interface{}) string {
	for _, key := range []string{"name", "compound_name", "spectrum_id"} {
		if v, ok := metadata[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return "spectrum-" + uuid.NewString()
}
