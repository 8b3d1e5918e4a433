package identity

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Entry is one indexed file in a tree.
type Entry struct {
	Path      string
	SizeBytes int64
	Checksum  string
}

// TreeIndex is the persistent checksum index for exactly one file tree.
// The "sources" and "library" trees each get their own instance over the
// shared database; rows are keyed by (tree, path) so the two indices can
// never bleed into each other.
type TreeIndex struct {
	db   *sql.DB
	tree string
}

// NewTreeIndex creates the index handle for tree.
func NewTreeIndex(db *sql.DB, tree string) *TreeIndex {
	return &TreeIndex{db: db, tree: tree}
}

// Tree returns the tree name this index is bound to.
func (ix *TreeIndex) Tree() string {
	return ix.tree
}

// Clear drops all entries for this tree. Other trees are untouched.
func (ix *TreeIndex) Clear(ctx context.Context) error {
	_, err := ix.db.ExecContext(ctx,
		`DELETE FROM tree_checksums WHERE tree = ?`, ix.tree)
	if err != nil {
		return fmt.Errorf("clear %s index: %w", ix.tree, err)
	}
	return nil
}

// Put upserts the checksum entry for a path.
func (ix *TreeIndex) Put(ctx context.Context, path string, size int64, checksum string) error {
	_, err := ix.db.ExecContext(ctx, `
		INSERT INTO tree_checksums (tree, path, size_bytes, checksum, indexed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (tree, path) DO UPDATE SET
			size_bytes = excluded.size_bytes,
			checksum   = excluded.checksum,
			indexed_at = excluded.indexed_at`,
		ix.tree, path, size, checksum, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("index %q in %s: %w", path, ix.tree, err)
	}
	return nil
}

// Delete drops the entry for a path, if present.
func (ix *TreeIndex) Delete(ctx context.Context, path string) error {
	_, err := ix.db.ExecContext(ctx,
		`DELETE FROM tree_checksums WHERE tree = ? AND path = ?`, ix.tree, path)
	if err != nil {
		return fmt.Errorf("unindex %q in %s: %w", path, ix.tree, err)
	}
	return nil
}

// Entries returns all entries in insertion (rowid) order. The stable order
// makes duplicate keeper selection reproducible across runs.
func (ix *TreeIndex) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := ix.db.QueryContext(ctx, `
		SELECT path, size_bytes, checksum
		FROM tree_checksums WHERE tree = ?
		ORDER BY rowid`, ix.tree)
	if err != nil {
		return nil, fmt.Errorf("list %s index: %w", ix.tree, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Path, &e.SizeBytes, &e.Checksum); err != nil {
			return nil, fmt.Errorf("scan %s index row: %w", ix.tree, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of indexed paths in this tree.
func (ix *TreeIndex) Count(ctx context.Context) (int, error) {
	var n int
	err := ix.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tree_checksums WHERE tree = ?`, ix.tree).Scan(&n)
	return n, err
}

// UniqueChecksums returns the number of distinct checksums in this tree.
func (ix *TreeIndex) UniqueChecksums(ctx context.Context) (int, error) {
	var n int
	err := ix.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT checksum) FROM tree_checksums WHERE tree = ?`, ix.tree).Scan(&n)
	return n, err
}
