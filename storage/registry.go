// Package storage persists client identities, file records and received file
// contents. The SQLite store implements vault.Registry.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"govault/models"
	"govault/vault"
)

// DefaultDBFileName is the SQLite filename under the data directory.
const DefaultDBFileName = "govault.db"

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS clients (
  id          BLOB(16) PRIMARY KEY,
  name        TEXT NOT NULL UNIQUE,
  public_key  BLOB,
  session_key BLOB,
  last_seen   INTEGER NOT NULL
);
`,
	`
CREATE TABLE IF NOT EXISTS files (
  client_id   BLOB(16) NOT NULL REFERENCES clients(id),
  filename    TEXT NOT NULL,
  size        INTEGER NOT NULL,
  checksum    INTEGER NOT NULL,
  stored_path TEXT NOT NULL DEFAULT '',
  received_at INTEGER NOT NULL,
  PRIMARY KEY (client_id, filename)
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_files_client
ON files (client_id, received_at DESC);
`,
}

// Store is a thin wrapper around a SQLite connection implementing vault.Registry.
type Store struct {
	db        *sql.DB
	closeOnce sync.Once
}

// Open opens (or creates) the database under the given data directory and runs migrations.
func Open(dataDir string) (*Store, string, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, "", fmt.Errorf("create storage directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DefaultDBFileName)
	store, err := OpenPath(dbPath)
	if err != nil {
		return nil, "", err
	}

	return store, dbPath, nil
}

// OpenPath opens SQLite at an explicit path and runs schema migrations.
func OpenPath(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", filepath.ToSlash(dbPath))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	store := &Store{db: db}
	if err := store.enableWALMode(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.applyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	var closeErr error
	s.closeOnce.Do(func() {
		closeErr = s.db.Close()
	})
	return closeErr
}

func (s *Store) applyMigrations() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if version >= len(migrations) {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i := version; i < len(migrations); i++ {
		if _, err := tx.Exec(migrations[i]); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d;", i+1)); err != nil {
			return fmt.Errorf("set schema version %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration transaction: %w", err)
	}

	return nil
}

func (s *Store) enableWALMode() error {
	var journalMode string
	if err := s.db.QueryRow("PRAGMA journal_mode=WAL;").Scan(&journalMode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	if !strings.EqualFold(journalMode, "wal") {
		return fmt.Errorf("enable WAL mode: unexpected journal mode %q", journalMode)
	}
	return nil
}

// FindClient returns the client registered under id.
func (s *Store) FindClient(id models.ClientID) (models.Client, error) {
	row := s.db.QueryRow(
		`SELECT id, name, public_key, session_key, last_seen FROM clients WHERE id = ?;`,
		id[:],
	)
	return scanClient(row)
}

// FindClientByName returns the client registered under name.
func (s *Store) FindClientByName(name string) (models.Client, error) {
	row := s.db.QueryRow(
		`SELECT id, name, public_key, session_key, last_seen FROM clients WHERE name = ?;`,
		name,
	)
	return scanClient(row)
}

// UpsertClient creates or replaces the record for the client's identifier.
func (s *Store) UpsertClient(client models.Client) error {
	_, err := s.db.Exec(
		`INSERT INTO clients (id, name, public_key, session_key, last_seen)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name,
		   public_key = excluded.public_key,
		   session_key = excluded.session_key,
		   last_seen = excluded.last_seen;`,
		client.ID[:],
		client.Name,
		nullBytes(client.PublicKey),
		nullBytes(client.SessionKey),
		client.LastSeen.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert client %s: %w", client.ID, err)
	}
	return nil
}

// RecordFile creates or supersedes the file record for (client, filename).
func (s *Store) RecordFile(file models.File) error {
	_, err := s.db.Exec(
		`INSERT INTO files (client_id, filename, size, checksum, stored_path, received_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(client_id, filename) DO UPDATE SET
		   size = excluded.size,
		   checksum = excluded.checksum,
		   stored_path = excluded.stored_path,
		   received_at = excluded.received_at;`,
		file.ClientID[:],
		file.Filename,
		int64(file.Size),
		int64(file.Checksum),
		file.StoredPath,
		file.ReceivedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record file %q for client %s: %w", file.Filename, file.ClientID, err)
	}
	return nil
}

// FindFile returns the file record for (id, filename).
func (s *Store) FindFile(id models.ClientID, filename string) (models.File, error) {
	row := s.db.QueryRow(
		`SELECT client_id, filename, size, checksum, stored_path, received_at
		 FROM files WHERE client_id = ? AND filename = ?;`,
		id[:], filename,
	)

	var (
		file       models.File
		clientID   []byte
		size       int64
		checksum   int64
		receivedAt int64
	)
	err := row.Scan(&clientID, &file.Filename, &size, &checksum, &file.StoredPath, &receivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.File{}, vault.ErrNotFound
	}
	if err != nil {
		return models.File{}, fmt.Errorf("scan file row: %w", err)
	}

	file.ClientID = models.ClientIDFromBytes(clientID)
	file.Size = uint32(size)
	file.Checksum = uint32(checksum)
	file.ReceivedAt = time.UnixMilli(receivedAt)
	return file, nil
}

func scanClient(row *sql.Row) (models.Client, error) {
	var (
		client     models.Client
		id         []byte
		publicKey  []byte
		sessionKey []byte
		lastSeen   int64
	)
	err := row.Scan(&id, &client.Name, &publicKey, &sessionKey, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Client{}, vault.ErrNotFound
	}
	if err != nil {
		return models.Client{}, fmt.Errorf("scan client row: %w", err)
	}

	client.ID = models.ClientIDFromBytes(id)
	client.PublicKey = publicKey
	client.SessionKey = sessionKey
	client.LastSeen = time.UnixMilli(lastSeen)
	return client, nil
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
