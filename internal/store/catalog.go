package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Catalog is the SQLite-backed article registry. It owns article ids,
// ingestion status, and published blob metadata.
type Catalog struct {
	db *sql.DB
}

const catalogSchema = `
CREATE TABLE IF NOT EXISTS articles (
	id             TEXT PRIMARY KEY,
	title          TEXT NOT NULL,
	byline         TEXT NOT NULL DEFAULT '',
	source_url     TEXT NOT NULL DEFAULT '',
	body_text      TEXT NOT NULL DEFAULT '',
	chars          INTEGER NOT NULL DEFAULT 0,
	status         TEXT NOT NULL,
	failure_cause  TEXT NOT NULL DEFAULT '',
	created_at     INTEGER NOT NULL,
	audio_bytes    INTEGER NOT NULL DEFAULT 0,
	audio_duration INTEGER NOT NULL DEFAULT 0,
	audio_checksum TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_articles_status ON articles(status);
`

// OpenCatalog opens or creates the catalog database at path.
func OpenCatalog(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}

	// The catalog sees concurrent writers (pipeline workers); WAL plus
	// a busy timeout keeps them from failing on lock contention.
	if _, err := db.Exec("PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configuring catalog: %w", err)
	}

	if _, err := db.Exec(catalogSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing catalog schema: %w", err)
	}

	return &Catalog{db: db}, nil
}

// Close closes the underlying database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Create inserts a new article in pending status. The id must be fresh;
// ids are assigned exactly once and never change.
func (c *Catalog) Create(a Article) error {
	_, err := c.db.Exec(
		`INSERT INTO articles (id, title, byline, source_url, body_text, chars, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Title, a.Byline, a.SourceURL, a.Text, a.Chars, string(StatusPending), a.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("creating article: %w", err)
	}
	return nil
}

// Get returns the article with the given id, or ErrNotFound.
func (c *Catalog) Get(id string) (Article, error) {
	row := c.db.QueryRow(
		`SELECT id, title, byline, source_url, body_text, chars, status, failure_cause,
		        created_at, audio_bytes, audio_duration, audio_checksum
		 FROM articles WHERE id = ?`, id)
	return scanArticle(row)
}

// SetStatus moves an article to the given status, enforcing the state
// machine. Returns ErrBadTransition for a disallowed move and
// ErrNotFound for an unknown id.
func (c *Catalog) SetStatus(id string, to Status) error {
	return c.transition(id, to, "")
}

// MarkFailed moves an article to failed with the given cause.
func (c *Catalog) MarkFailed(id string, cause FailureCause) error {
	return c.transition(id, StatusFailed, cause)
}

// MarkReady moves an article to ready and records its blob metadata.
func (c *Catalog) MarkReady(id string, info BlobInfo) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("marking ready: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	cur, err := currentStatus(tx, id)
	if err != nil {
		return err
	}
	if !validTransition(cur, StatusReady) {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, cur, StatusReady)
	}

	_, err = tx.Exec(
		`UPDATE articles
		 SET status = ?, failure_cause = '', audio_bytes = ?, audio_duration = ?, audio_checksum = ?
		 WHERE id = ?`,
		string(StatusReady), info.ByteLen, info.Duration.Milliseconds(), info.Checksum, id,
	)
	if err != nil {
		return fmt.Errorf("marking ready: %w", err)
	}
	return tx.Commit()
}

// Retry moves a failed article back to pending so it can be
// resubmitted. Only failed articles may be retried.
func (c *Catalog) Retry(id string) error {
	return c.transition(id, StatusPending, "")
}

// UpdateText records the extracted document's metadata after extraction
// succeeds (pasted submissions carry text up front; URL submissions only
// learn it here).
func (c *Catalog) UpdateText(id, title, byline, sourceURL, text string) error {
	res, err := c.db.Exec(
		`UPDATE articles SET title = ?, byline = ?, source_url = ?, body_text = ?, chars = ? WHERE id = ?`,
		title, byline, sourceURL, text, len(text), id,
	)
	if err != nil {
		return fmt.Errorf("updating article text: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListReady returns all ready articles, most recently created first.
func (c *Catalog) ListReady() ([]Article, error) {
	return c.list(`WHERE status = ?`, string(StatusReady))
}

// List returns all articles, most recently created first.
func (c *Catalog) List() ([]Article, error) {
	return c.list("")
}

func (c *Catalog) list(where string, args ...any) ([]Article, error) {
	rows, err := c.db.Query(
		`SELECT id, title, byline, source_url, body_text, chars, status, failure_cause,
		        created_at, audio_bytes, audio_duration, audio_checksum
		 FROM articles `+where+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("listing articles: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Delete removes an article row. Returns ErrNotFound for unknown ids.
func (c *Catalog) Delete(id string) error {
	res, err := c.db.Exec(`DELETE FROM articles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting article: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (c *Catalog) transition(id string, to Status, cause FailureCause) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("transitioning article: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	cur, err := currentStatus(tx, id)
	if err != nil {
		return err
	}
	if !validTransition(cur, to) {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, cur, to)
	}

	_, err = tx.Exec(
		`UPDATE articles SET status = ?, failure_cause = ? WHERE id = ?`,
		string(to), string(cause), id,
	)
	if err != nil {
		return fmt.Errorf("transitioning article: %w", err)
	}
	return tx.Commit()
}

func currentStatus(tx *sql.Tx, id string) (Status, error) {
	var s string
	err := tx.QueryRow(`SELECT status FROM articles WHERE id = ?`, id).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading article status: %w", err)
	}
	return Status(s), nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanArticle(s scanner) (Article, error) {
	var (
		a           Article
		status      string
		cause       string
		createdAt   int64
		audioBytes  int64
		audioMillis int64
		checksum    string
	)
	err := s.Scan(&a.ID, &a.Title, &a.Byline, &a.SourceURL, &a.Text, &a.Chars,
		&status, &cause, &createdAt, &audioBytes, &audioMillis, &checksum)
	if errors.Is(err, sql.ErrNoRows) {
		return Article{}, ErrNotFound
	}
	if err != nil {
		return Article{}, fmt.Errorf("scanning article: %w", err)
	}

	a.Status = Status(status)
	a.FailureCause = FailureCause(cause)
	a.CreatedAt = time.UnixMilli(createdAt)
	if a.Status == StatusReady {
		a.Audio = &BlobInfo{
			ByteLen:  audioBytes,
			Duration: time.Duration(audioMillis) * time.Millisecond,
			Checksum: checksum,
		}
	}
	return a, nil
}
