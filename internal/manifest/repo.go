package manifest

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Entry is one manifest row.
type Entry struct {
	URL        string    `json:"url"`
	Folder     string    `json:"folder"`
	Name       string    `json:"name"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Size       int64     `json:"size"`
	Checksum   string    `json:"checksum"`
	StoredAt   time.Time `json:"stored_at"`
	AccessedAt time.Time `json:"accessed_at"`
}

// Stats summarizes the manifest.
type Stats struct {
	Count      int   `json:"count"`
	TotalBytes int64 `json:"total_bytes"`
}

// Bind records that e.URL is stored at (e.Folder, e.Name). The folder and
// name of an existing row are never changed; dimensions, size and checksum
// are refreshed.
func (db *DB) Bind(e Entry) error {
	now := time.Now().UTC()
	if e.StoredAt.IsZero() {
		e.StoredAt = now
	}
	if e.AccessedAt.IsZero() {
		e.AccessedAt = e.StoredAt
	}
	_, err := db.conn.Exec(`
		INSERT INTO assets (url, folder, name, width, height, size, checksum, stored_at, accessed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			width       = excluded.width,
			height      = excluded.height,
			size        = excluded.size,
			checksum    = excluded.checksum,
			stored_at   = excluded.stored_at,
			accessed_at = excluded.accessed_at
	`, e.URL, e.Folder, e.Name, e.Width, e.Height, e.Size, e.Checksum, e.StoredAt.UTC(), e.AccessedAt.UTC())
	if err != nil {
		return fmt.Errorf("manifest: bind %s: %w", e.URL, err)
	}
	return nil
}

// Lookup returns the row for url.
func (db *DB) Lookup(url string) (Entry, bool, error) {
	row := db.conn.QueryRow(`
		SELECT url, folder, name, width, height, size, checksum, stored_at, accessed_at
		FROM assets WHERE url = ?`, url)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("manifest: lookup %s: %w", url, err)
	}
	return e, true, nil
}

// Touch updates the access time of url.
func (db *DB) Touch(url string, at time.Time) error {
	if _, err := db.conn.Exec(`UPDATE assets SET accessed_at = ? WHERE url = ?`, at.UTC(), url); err != nil {
		return fmt.Errorf("manifest: touch %s: %w", url, err)
	}
	return nil
}

// DeleteByPath removes every row stored at (folder, name) and returns the
// URLs that were bound there.
func (db *DB) DeleteByPath(folder, name string) ([]string, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("manifest: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	rows, err := tx.Query(`SELECT url FROM assets WHERE folder = ? AND name = ?`, folder, name)
	if err != nil {
		return nil, fmt.Errorf("manifest: select by path: %w", err)
	}
	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			rows.Close()
			return nil, err
		}
		urls = append(urls, u)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(urls) == 0 {
		return nil, nil
	}
	if _, err := tx.Exec(`DELETE FROM assets WHERE folder = ? AND name = ?`, folder, name); err != nil {
		return nil, fmt.Errorf("manifest: delete by path: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("manifest: commit: %w", err)
	}
	return urls, nil
}

// List returns every row, most recently accessed first.
func (db *DB) List() ([]Entry, error) {
	rows, err := db.conn.Query(`
		SELECT url, folder, name, width, height, size, checksum, stored_at, accessed_at
		FROM assets ORDER BY accessed_at DESC, url`)
	if err != nil {
		return nil, fmt.Errorf("manifest: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Stats returns the row count and the sum of recorded sizes.
func (db *DB) Stats() (Stats, error) {
	var s Stats
	err := db.conn.QueryRow(`SELECT COUNT(*), COALESCE(SUM(size), 0) FROM assets`).Scan(&s.Count, &s.TotalBytes)
	if err != nil {
		return Stats{}, fmt.Errorf("manifest: stats: %w", err)
	}
	return s, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var e Entry
	err := s.Scan(&e.URL, &e.Folder, &e.Name, &e.Width, &e.Height, &e.Size, &e.Checksum, &e.StoredAt, &e.AccessedAt)
	return e, err
}
