package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fitroom/backend/internal/domain"
)

// SQLiteStore persists sessions across restarts. Only the encrypted
// credential and its hash are written; pair it with a configured master
// secret, otherwise decryption fails after a restart anyway.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the session database at dsn.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS sessions (
		token TEXT PRIMARY KEY,
		ciphertext BLOB NOT NULL,
		nonce BLOB NOT NULL,
		key_hash TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		last_accessed DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		client_ip TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT ''
	)`)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, token string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT token, ciphertext, nonce, key_hash,
		created_at, last_accessed, expires_at, client_ip, user_agent
		FROM sessions WHERE token = ?`, token)
	return scanSession(row)
}

func (s *SQLiteStore) Put(ctx context.Context, session *domain.Session) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO sessions
		(token, ciphertext, nonce, key_hash, created_at, last_accessed, expires_at, client_ip, user_agent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(token) DO UPDATE SET
			last_accessed = excluded.last_accessed,
			expires_at = excluded.expires_at,
			client_ip = excluded.client_ip,
			user_agent = excluded.user_agent`,
		session.Token, session.Credential.Ciphertext, session.Credential.Nonce,
		session.KeyHash, session.CreatedAt, session.LastAccessed, session.ExpiresAt,
		session.ClientIP, session.UserAgent)
	if err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, token string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Oldest(ctx context.Context) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT token, ciphertext, nonce, key_hash,
		created_at, last_accessed, expires_at, client_ip, user_agent
		FROM sessions ORDER BY created_at ASC LIMIT 1`)
	return scanSession(row)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanSession(row *sql.Row) (*domain.Session, error) {
	var sess domain.Session
	err := row.Scan(&sess.Token, &sess.Credential.Ciphertext, &sess.Credential.Nonce,
		&sess.KeyHash, &sess.CreatedAt, &sess.LastAccessed, &sess.ExpiresAt,
		&sess.ClientIP, &sess.UserAgent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	return &sess, nil
}
