// Package sqlite persists users and community posts. Single-writer WAL
// database, one connection, prepared statements per call.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"beuhouse-backend/internal/model"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("sqlite: not found")

// ErrConflict is returned when a unique constraint rejects an insert
// (duplicate username or email).
var ErrConflict = errors.New("sqlite: already exists")

// Config configures the content store.
type Config struct {
	DBPath string // e.g. "data/beuhouse.db"
}

// Store is the users + posts database.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// New opens the database in WAL mode and creates the schema.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			username      TEXT    NOT NULL UNIQUE,
			email         TEXT    NOT NULL UNIQUE,
			password_hash TEXT    NOT NULL,
			totp_secret   TEXT    NOT NULL DEFAULT '',
			created_at    INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS posts (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			author_id  INTEGER NOT NULL REFERENCES users(id),
			section    TEXT    NOT NULL,
			title      TEXT    NOT NULL,
			body       TEXT    NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_posts_section ON posts(section, created_at DESC);
	`)
	return err
}

// CreateUser inserts a user and returns its id.
func (s *Store) CreateUser(ctx context.Context, u *model.User) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, email, password_hash, totp_secret, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.Username, u.Email, u.PasswordHash, u.TOTPSecret, now.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrConflict
		}
		return 0, fmt.Errorf("sqlite insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	u.ID = id
	u.CreatedAt = now
	return id, nil
}

// UserByUsername looks a user up by username.
func (s *Store) UserByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, totp_secret, created_at FROM users WHERE username = ?`,
		username,
	))
}

// UserByID looks a user up by id.
func (s *Store) UserByID(ctx context.Context, id int64) (*model.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, totp_secret, created_at FROM users WHERE id = ?`,
		id,
	))
}

func (s *Store) scanUser(row *sql.Row) (*model.User, error) {
	var u model.User
	var created int64
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.TOTPSecret, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("sqlite scan user: %w", err)
	}
	u.CreatedAt = time.Unix(created, 0).UTC()
	return &u, nil
}

// SetTOTPSecret stores the user's 2FA secret (empty string disables it).
func (s *Store) SetTOTPSecret(ctx context.Context, userID int64, secret string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET totp_secret = ? WHERE id = ?`, secret, userID)
	if err != nil {
		return fmt.Errorf("sqlite set totp: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreatePost inserts a post and returns it with id and timestamps set.
func (s *Store) CreatePost(ctx context.Context, p *model.Post) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO posts (author_id, section, title, body, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		p.AuthorID, p.Section, p.Title, p.Body, now.Unix(), now.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite insert post: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	p.ID = id
	p.CreatedAt = now
	p.UpdatedAt = now
	return id, nil
}

// PostByID fetches one post joined with its author's username.
func (s *Store) PostByID(ctx context.Context, id int64) (*model.Post, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT p.id, p.author_id, u.username, p.section, p.title, p.body, p.created_at, p.updated_at
		FROM posts p JOIN users u ON u.id = p.author_id
		WHERE p.id = ?`, id)

	var p model.Post
	var created, updated int64
	err := row.Scan(&p.ID, &p.AuthorID, &p.Author, &p.Section, &p.Title, &p.Body, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("sqlite scan post: %w", err)
	}
	p.CreatedAt = time.Unix(created, 0).UTC()
	p.UpdatedAt = time.Unix(updated, 0).UTC()
	return &p, nil
}

// ListPosts returns posts in a section, newest first.
func (s *Store) ListPosts(ctx context.Context, section string, limit, offset int) ([]model.Post, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.author_id, u.username, p.section, p.title, p.body, p.created_at, p.updated_at
		FROM posts p JOIN users u ON u.id = p.author_id
		WHERE p.section = ?
		ORDER BY p.created_at DESC, p.id DESC
		LIMIT ? OFFSET ?`, section, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("sqlite list posts: %w", err)
	}
	defer rows.Close()

	var posts []model.Post
	for rows.Next() {
		var p model.Post
		var created, updated int64
		if err := rows.Scan(&p.ID, &p.AuthorID, &p.Author, &p.Section, &p.Title, &p.Body, &created, &updated); err != nil {
			return nil, fmt.Errorf("sqlite scan post: %w", err)
		}
		p.CreatedAt = time.Unix(created, 0).UTC()
		p.UpdatedAt = time.Unix(updated, 0).UTC()
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// UpdatePost rewrites title and body of a post owned by authorID.
func (s *Store) UpdatePost(ctx context.Context, id, authorID int64, title, body string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE posts SET title = ?, body = ?, updated_at = ? WHERE id = ? AND author_id = ?`,
		title, body, time.Now().UTC().Unix(), id, authorID,
	)
	if err != nil {
		return fmt.Errorf("sqlite update post: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeletePost removes a post owned by authorID.
func (s *Store) DeletePost(ctx context.Context, id, authorID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM posts WHERE id = ? AND author_id = ?`, id, authorID)
	if err != nil {
		return fmt.Errorf("sqlite delete post: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
