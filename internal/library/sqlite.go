package library

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/ruiji/internal/models"
)

// sqliteStore implements Store on a SQLite table. The seq column records
// insertion order; overwrites keep the original seq so iteration order is
// stable across replacements.
type sqliteStore struct {
	db *sql.DB
}

func newSQLiteStore(path string) (*sqliteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create library directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := initSQLiteSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

func initSQLiteSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		identifier TEXT UNIQUE NOT NULL,
		precursor_mz REAL,
		metadata TEXT NOT NULL,
		vector TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_identifier ON entries(identifier);

	CREATE TABLE IF NOT EXISTS library_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return err
	}
	_, err := db.Exec(
		`INSERT OR IGNORE INTO library_meta (key, value) VALUES ('schema_version', ?)`,
		SchemaVersion,
	)
	return err
}

func (s *sqliteStore) Upsert(ctx context.Context, entry *models.LibraryEntry, overwrite bool) error {
	metadataJSON, vectorJSON, err := encodeEntry(entry)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entries WHERE identifier = ?`, entry.Identifier,
	).Scan(&exists)
	if err != nil {
		return err
	}

	if exists > 0 {
		if !overwrite {
			return fmt.Errorf("%w: %s", ErrDuplicateIdentifier, entry.Identifier)
		}
		// Keeps seq, preserving the entry's insertion position.
		_, err = tx.ExecContext(ctx,
			`UPDATE entries SET precursor_mz = ?, metadata = ?, vector = ? WHERE identifier = ?`,
			entry.PrecursorMZ, metadataJSON, vectorJSON, entry.Identifier,
		)
	} else {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO entries (identifier, precursor_mz, metadata, vector) VALUES (?, ?, ?, ?)`,
			entry.Identifier, entry.PrecursorMZ, metadataJSON, vectorJSON,
		)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) Get(ctx context.Context, identifier string) (*models.LibraryEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT identifier, precursor_mz, metadata, vector FROM entries WHERE identifier = ?`,
		identifier,
	)
	entry, err := scanEntry(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, identifier)
	}
	return entry, err
}

func (s *sqliteStore) Entries(ctx context.Context) ([]*models.LibraryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT identifier, precursor_mz, metadata, vector FROM entries ORDER BY seq`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.LibraryEntry
	for rows.Next() {
		entry, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *sqliteStore) Remove(ctx context.Context, identifier string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE identifier = ?`, identifier)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&count)
	return count, err
}

func (s *sqliteStore) SchemaVersion(ctx context.Context) (string, error) {
	var version string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM library_meta WHERE key = 'schema_version'`,
	).Scan(&version)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return version, err
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

func encodeEntry(entry *models.LibraryEntry) (metadataJSON, vectorJSON string, err error) {
	metadata := entry.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	mb, err := json.Marshal(metadata)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	vector := entry.Vector
	if vector == nil {
		vector = models.SparseVector{}
	}
	vb, err := json.Marshal(vector)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal vector: %w", err)
	}
	return string(mb), string(vb), nil
}

func scanEntry(scan func(dest ...interface{}) error) (*models.LibraryEntry, error) {
	var (
		entry        models.LibraryEntry
		precursor    sql.NullFloat64
		metadataJSON string
		vectorJSON   string
	)
	if err := scan(&entry.Identifier, &precursor, &metadataJSON, &vectorJSON); err != nil {
		return nil, err
	}
	if precursor.Valid {
		mz := precursor.Float64
		entry.PrecursorMZ = &mz
	}
	if err := json.Unmarshal([]byte(metadataJSON), &entry.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	if err := json.Unmarshal([]byte(vectorJSON), &entry.Vector); err != nil {
		return nil, fmt.Errorf("failed to unmarshal vector: %w", err)
	}
	return &entry, nil
}
