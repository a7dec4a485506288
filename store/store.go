// Package store persists submissions, users and settings in sqlite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"fa-rss/pkg/farss"
)

// Store wraps the sqlite database behind the read/write contract the
// ingestion core needs.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New opens (creating if necessary) the database at path and applies the
// schema. Use ":memory:" for an ephemeral store in tests.
func New(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// sqlite allows one writer; a single connection avoids SQLITE_BUSY and
	// keeps ":memory:" databases from silently splitting per connection.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	logger.Info("Database initialized", "path", path)
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS submissions (
		submission_id INTEGER PRIMARY KEY,
		username TEXT NOT NULL,
		gallery TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		download_url TEXT NOT NULL,
		thumbnail_url TEXT NOT NULL,
		posted_at DATETIME NOT NULL,
		rating TEXT NOT NULL,
		keywords TEXT NOT NULL DEFAULT '[]'
	);

	CREATE INDEX IF NOT EXISTS idx_submissions_user_gallery ON submissions(username, gallery, submission_id DESC);
	CREATE INDEX IF NOT EXISTS idx_submissions_rating ON submissions(rating);

	CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		initialised_date DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Submission returns a stored submission, or (nil, nil) when absent.
func (s *Store) Submission(ctx context.Context, id int64) (*farss.Submission, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT submission_id, username, gallery, title, description, download_url,
		        thumbnail_url, posted_at, rating, keywords
		 FROM submissions WHERE submission_id = ?`, id)
	sub, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get submission %d: %w", id, err)
	}
	return sub, nil
}

// SaveSubmission upserts a submission keyed by ID. Re-saving the same ID
// overwrites the row with the latest values and never duplicates it.
func (s *Store) SaveSubmission(ctx context.Context, sub *farss.Submission) error {
	keywords, err := json.Marshal(sub.Keywords)
	if err != nil {
		return fmt.Errorf("marshal keywords: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO submissions (
			submission_id, username, gallery, title, description, download_url,
			thumbnail_url, posted_at, rating, keywords
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(submission_id) DO UPDATE SET
			username = excluded.username,
			gallery = excluded.gallery,
			title = excluded.title,
			description = excluded.description,
			download_url = excluded.download_url,
			thumbnail_url = excluded.thumbnail_url,
			posted_at = excluded.posted_at,
			rating = excluded.rating,
			keywords = excluded.keywords`,
		sub.ID, farss.NormalizeUsername(sub.Username), sub.Gallery, sub.Title,
		sub.Description, sub.DownloadURL, sub.ThumbnailURL,
		sub.PostedAt.UTC().Format(time.RFC3339), sub.Rating, string(keywords))
	if err != nil {
		return fmt.Errorf("save submission %d: %w", sub.ID, err)
	}
	return nil
}

// RecentSubmissions lists the newest stored submissions, highest ID first.
func (s *Store) RecentSubmissions(ctx context.Context, limit int, sfwOnly bool) ([]farss.Submission, error) {
	query := `SELECT submission_id, username, gallery, title, description, download_url,
	                 thumbnail_url, posted_at, rating, keywords
	          FROM submissions`
	args := []any{}
	if sfwOnly {
		query += ` WHERE rating = ?`
		args = append(args, farss.RatingGeneral)
	}
	query += ` ORDER BY submission_id DESC LIMIT ?`
	args = append(args, limit)
	return s.querySubmissions(ctx, query, args...)
}

// GallerySubmissions lists a user's stored submissions for one gallery,
// highest ID first.
func (s *Store) GallerySubmissions(ctx context.Context, username, gallery string, limit int, sfwOnly bool) ([]farss.Submission, error) {
	query := `SELECT submission_id, username, gallery, title, description, download_url,
	                 thumbnail_url, posted_at, rating, keywords
	          FROM submissions WHERE username = ? AND gallery = ?`
	args := []any{farss.NormalizeUsername(username), gallery}
	if sfwOnly {
		query += ` AND rating = ?`
		args = append(args, farss.RatingGeneral)
	}
	query += ` ORDER BY submission_id DESC LIMIT ?`
	args = append(args, limit)
	return s.querySubmissions(ctx, query, args...)
}

func (s *Store) querySubmissions(ctx context.Context, query string, args ...any) ([]farss.Submission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn("Failed to close rows", "error", closeErr)
		}
	}()

	var subs []farss.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	return subs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (*farss.Submission, error) {
	var sub farss.Submission
	var postedAt, keywords string
	err := row.Scan(&sub.ID, &sub.Username, &sub.Gallery, &sub.Title, &sub.Description,
		&sub.DownloadURL, &sub.ThumbnailURL, &postedAt, &sub.Rating, &keywords)
	if err != nil {
		return nil, err
	}
	sub.PostedAt, err = time.Parse(time.RFC3339, postedAt)
	if err != nil {
		return nil, fmt.Errorf("parse posted_at: %w", err)
	}
	if err := json.Unmarshal([]byte(keywords), &sub.Keywords); err != nil {
		return nil, fmt.Errorf("parse keywords: %w", err)
	}
	return &sub, nil
}

// User returns an initialised-user marker, or (nil, nil) when the user has
// never been initialised.
func (s *Store) User(ctx context.Context, username string) (*farss.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT username, initialised_date FROM users WHERE username = ?`,
		farss.NormalizeUsername(username))
	var user farss.User
	var initialised string
	err := row.Scan(&user.Username, &initialised)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", username, err)
	}
	user.InitialisedAt, err = time.Parse(time.RFC3339, initialised)
	if err != nil {
		return nil, fmt.Errorf("parse initialised_date: %w", err)
	}
	return &user, nil
}

// SaveUser records the initialised-user marker. Insert-if-absent: a
// concurrent duplicate insert is a no-op, never an error.
func (s *Store) SaveUser(ctx context.Context, user *farss.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, initialised_date) VALUES (?, ?)
		 ON CONFLICT(username) DO NOTHING`,
		farss.NormalizeUsername(user.Username), user.InitialisedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save user %s: %w", user.Username, err)
	}
	return nil
}

// Setting returns a setting value, or ("", false) when unset.
func (s *Store) Setting(ctx context.Context, key string) (string, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key)
	var value string
	err := row.Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, true, nil
}

// SetSetting writes a setting value, replacing any previous one.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}
