// Package sqlite is the persistent credential store. Credentials are
// bcrypt-hashed on write; the memory store keeps the demo plaintext
// comparison, this one does not.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"

	"github.com/vovakirdan/pipechat-server/internal/proto"
	"github.com/vovakirdan/pipechat-server/internal/store"
)

// bcryptCost balances hashing time against login latency.
const bcryptCost = 10

// Identity numbering starts at 1000, matching the memory store.
const firstUserID = 1000

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	username        TEXT NOT NULL UNIQUE,
	credential_hash TEXT NOT NULL,
	active          BOOLEAN NOT NULL DEFAULT 1,
	registered_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and applies the schema.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		if _, err := db.Exec(schema); err != nil {
			return err
		}
		// Start identity numbering at firstUserID. sqlite_sequence
		// exists as soon as an AUTOINCREMENT table is defined.
		_, err := db.Exec(
			`INSERT INTO sqlite_sequence (name, seq)
			 SELECT 'users', ? WHERE NOT EXISTS
			 (SELECT 1 FROM sqlite_sequence WHERE name = 'users')`,
			firstUserID-1)
		return err
	})
}

// NewWithSetup opens the database and runs a setup function.
// Useful for tests to apply schema without migrations.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// LookupByName retrieves a user by username.
func (s *SQLiteStore) LookupByName(ctx context.Context, username string) (*store.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, username, credential_hash, active, registered_at
		 FROM users WHERE username = ?`, username))
}

// LookupByID retrieves a user by numeric identity.
func (s *SQLiteStore) LookupByID(ctx context.Context, id int64) (*store.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, username, credential_hash, active, registered_at
		 FROM users WHERE id = ?`, id))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*store.User, error) {
	var u store.User
	err := row.Scan(&u.ID, &u.Username, &u.Credential, &u.Active, &u.RegisteredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// Add registers a new active user, hashing the credential.
func (s *SQLiteStore) Add(ctx context.Context, username, credential string) (*store.User, error) {
	if !proto.ValidUsername(username) {
		return nil, store.ErrInvalidUsername
	}
	if _, err := s.LookupByName(ctx, username); err == nil {
		return nil, store.ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(credential), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash credential: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, credential_hash) VALUES (?, ?)`,
		username, string(hash))
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}
	return s.LookupByID(ctx, id)
}

// Authenticate verifies the credential against the stored bcrypt hash.
func (s *SQLiteStore) Authenticate(ctx context.Context, username, credential string) bool {
	u, err := s.LookupByName(ctx, username)
	if err != nil || !u.Active {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(u.Credential), []byte(credential)) == nil
}

// SetActive flips the account's active flag.
func (s *SQLiteStore) SetActive(ctx context.Context, username string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET active = ? WHERE username = ?`, active, username)
	if err != nil {
		return fmt.Errorf("update active: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrUserNotFound
	}
	return nil
}

// Count returns the number of registered users.
func (s *SQLiteStore) Count(ctx context.Context) int {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0
	}
	return n
}
