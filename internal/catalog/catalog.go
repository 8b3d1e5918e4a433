package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a referenced audiobook row does not exist.
var ErrNotFound = errors.New("audiobook not found")

// Audiobook is one catalog row. ContentHash is nil until a hash-generation
// pass has computed it.
type Audiobook struct {
	ID               int64      `json:"id"`
	Title            string     `json:"title"`
	Author           string     `json:"author"`
	Narrator         string     `json:"narrator"`
	Path             string     `json:"path"`
	SizeBytes        int64      `json:"size_bytes"`
	DurationSeconds  float64    `json:"duration_seconds"`
	ContentHash      *string    `json:"content_hash"`
	PositionSeconds  float64    `json:"position_seconds"`
	PositionSyncedAt *time.Time `json:"position_synced_at"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Store provides catalog access over the shared SQLite handle.
type Store struct {
	db *sql.DB
}

// New creates a Store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const bookColumns = `id, title, author, narrator, path, size_bytes,
	duration_seconds, content_hash, position_seconds, position_synced_at,
	created_at, updated_at`

func scanBook(row interface{ Scan(...any) error }) (*Audiobook, error) {
	var (
		b        Audiobook
		hash     sql.NullString
		syncedAt sql.NullInt64
		created  int64
		updated  int64
	)
	err := row.Scan(&b.ID, &b.Title, &b.Author, &b.Narrator, &b.Path,
		&b.SizeBytes, &b.DurationSeconds, &hash, &b.PositionSeconds,
		&syncedAt, &created, &updated)
	if err != nil {
		return nil, err
	}
	if hash.Valid {
		b.ContentHash = &hash.String
	}
	if syncedAt.Valid {
		t := time.Unix(syncedAt.Int64, 0).UTC()
		b.PositionSyncedAt = &t
	}
	b.CreatedAt = time.Unix(created, 0).UTC()
	b.UpdatedAt = time.Unix(updated, 0).UTC()
	return &b, nil
}

// Insert creates a new row and fills b.ID and timestamps.
func (s *Store) Insert(ctx context.Context, b *Audiobook) error {
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO audiobooks
			(title, author, narrator, path, size_bytes, duration_seconds,
			 content_hash, position_seconds, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.Title, b.Author, b.Narrator, b.Path, b.SizeBytes, b.DurationSeconds,
		b.ContentHash, b.PositionSeconds, now.Unix(), now.Unix())
	if err != nil {
		return fmt.Errorf("insert audiobook %q: %w", b.Path, err)
	}
	b.ID, _ = res.LastInsertId()
	b.CreatedAt = now.UTC()
	b.UpdatedAt = now.UTC()
	return nil
}

// Get returns the row with the given id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id int64) (*Audiobook, error) {
	b, err := scanBook(s.db.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM audiobooks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get audiobook %d: %w", id, err)
	}
	return b, nil
}

// GetByPath returns the row with the given path, or ErrNotFound.
func (s *Store) GetByPath(ctx context.Context, path string) (*Audiobook, error) {
	b, err := scanBook(s.db.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM audiobooks WHERE path = ?`, path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get audiobook by path %q: %w", path, err)
	}
	return b, nil
}

// List returns rows in insertion (id) order.
func (s *Store) List(ctx context.Context, limit, offset int) ([]*Audiobook, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+bookColumns+` FROM audiobooks ORDER BY id LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list audiobooks: %w", err)
	}
	return collectBooks(rows)
}

// Count returns the total number of catalog rows.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audiobooks`).Scan(&n)
	return n, err
}

// Update rewrites the editable metadata fields of an existing row.
func (s *Store) Update(ctx context.Context, b *Audiobook) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE audiobooks
		SET title = ?, author = ?, narrator = ?, position_seconds = ?,
		    updated_at = ?
		WHERE id = ?`,
		b.Title, b.Author, b.Narrator, b.PositionSeconds,
		time.Now().Unix(), b.ID)
	if err != nil {
		return fmt.Errorf("update audiobook %d: %w", b.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the row with the given id. Returns ErrNotFound when the
// row is already gone.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audiobooks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete audiobook %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteByPath removes the row whose path matches. A missing row is not an
// error: path removals race with external catalog changes.
func (s *Store) DeleteByPath(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM audiobooks WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("delete audiobook by path %q: %w", path, err)
	}
	return nil
}

// ListMissingHash returns rows without a content hash, in id order.
func (s *Store) ListMissingHash(ctx context.Context) ([]*Audiobook, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+bookColumns+` FROM audiobooks WHERE content_hash IS NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list unhashed audiobooks: %w", err)
	}
	return collectBooks(rows)
}

// ListHashed returns rows that carry a content hash, in id order. The stable
// ordering makes duplicate keeper selection reproducible.
func (s *Store) ListHashed(ctx context.Context) ([]*Audiobook, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+bookColumns+` FROM audiobooks WHERE content_hash IS NOT NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list hashed audiobooks: %w", err)
	}
	return collectBooks(rows)
}

// SetContentHash stores the computed hash for a row.
func (s *Store) SetContentHash(ctx context.Context, id int64, hash string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE audiobooks SET content_hash = ?, updated_at = ? WHERE id = ?`,
		hash, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("set content hash for %d: %w", id, err)
	}
	return nil
}

// ListUnsyncedPositions returns rows whose playback position changed since
// the last cloud sync (or that were never synced), in id order.
func (s *Store) ListUnsyncedPositions(ctx context.Context) ([]*Audiobook, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+bookColumns+` FROM audiobooks
		 WHERE position_synced_at IS NULL OR position_synced_at < updated_at
		 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list unsynced positions: %w", err)
	}
	return collectBooks(rows)
}

// MarkPositionSynced records a successful cloud push for a row.
func (s *Store) MarkPositionSynced(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE audiobooks SET position_synced_at = ? WHERE id = ?`,
		at.Unix(), id)
	if err != nil {
		return fmt.Errorf("mark position synced for %d: %w", id, err)
	}
	return nil
}

func collectBooks(rows *sql.Rows) ([]*Audiobook, error) {
	defer rows.Close()
	var books []*Audiobook
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audiobook row: %w", err)
		}
		books = append(books, b)
	}
	return books, rows.Err()
}
