package dedupe

import (
	"context"

	"shelfkeeper/internal/catalog"
	"shelfkeeper/internal/identity"
)

// Candidate is one item considered for duplicate grouping: either a catalog
// row (BookID set) or a bare indexed path (BookID zero).
type Candidate struct {
	BookID int64  `json:"book_id,omitempty"`
	Path   string `json:"path"`
	Size   int64  `json:"size_bytes"`
}

// Member is a candidate inside a group. Exactly one member per group is the
// keeper; removal requests must never target it.
type Member struct {
	Candidate
	Keeper bool `json:"is_keeper"`
}

// Group is a set of candidates sharing one identity key. Groups are
// computed per request and never persisted.
type Group struct {
	Key         string   `json:"identity_key"`
	Members     []Member `json:"members"`
	WastedBytes int64    `json:"wasted_bytes"`
}

// Summary aggregates a grouping pass.
type Summary struct {
	Groups         int   `json:"groups"`
	DuplicateFiles int   `json:"total_duplicate_files"`
	UniqueCount    int   `json:"unique_count"`
	WastedBytes    int64 `json:"wasted_bytes"`
}

// GroupBy partitions candidates by the identity returned from keyFn,
// preserving first-seen order. Candidates for which keyFn reports no usable
// identity are excluded. The first candidate seen for a key is the keeper,
// so grouping is deterministic for a given input order. Only groups with
// two or more members are returned. WastedBytes is the sum of non-keeper
// sizes: the space freed if every duplicate were removed.
func GroupBy(cands []Candidate, keyFn func(Candidate) (string, bool)) ([]Group, Summary) {
	byKey := make(map[string]int)
	var groups []Group

	for _, c := range cands {
		key, ok := keyFn(c)
		if !ok {
			continue
		}
		i, seen := byKey[key]
		if !seen {
			byKey[key] = len(groups)
			groups = append(groups, Group{
				Key:     key,
				Members: []Member{{Candidate: c, Keeper: true}},
			})
			continue
		}
		groups[i].Members = append(groups[i].Members, Member{Candidate: c})
		groups[i].WastedBytes += c.Size
	}

	sum := Summary{UniqueCount: len(byKey)}
	dups := groups[:0:0]
	for _, g := range groups {
		if len(g.Members) < 2 {
			continue
		}
		dups = append(dups, g)
		sum.Groups++
		sum.DuplicateFiles += len(g.Members) - 1
		sum.WastedBytes += g.WastedBytes
	}
	return dups, sum
}

// ByTitle groups catalog rows whose normalized titles collide. Rows whose
// title folds to an empty key do not participate.
func ByTitle(ctx context.Context, store *catalog.Store) ([]Group, Summary, error) {
	books, err := store.List(ctx, -1, 0)
	if err != nil {
		return nil, Summary{}, err
	}
	titleByID := make(map[int64]string, len(books))
	cands := make([]Candidate, 0, len(books))
	for _, b := range books {
		titleByID[b.ID] = identity.NormalizeTitle(b.Title)
		cands = append(cands, Candidate{BookID: b.ID, Path: b.Path, Size: b.SizeBytes})
	}
	groups, sum := GroupBy(cands, func(c Candidate) (string, bool) {
		key := titleByID[c.BookID]
		return key, key != ""
	})
	return groups, sum, nil
}

// ByHash groups catalog rows sharing a cached content hash. Rows without a
// computed hash do not participate.
func ByHash(ctx context.Context, store *catalog.Store) ([]Group, Summary, error) {
	books, err := store.ListHashed(ctx)
	if err != nil {
		return nil, Summary{}, err
	}
	hashByID := make(map[int64]string, len(books))
	cands := make([]Candidate, 0, len(books))
	for _, b := range books {
		hashByID[b.ID] = *b.ContentHash
		cands = append(cands, Candidate{BookID: b.ID, Path: b.Path, Size: b.SizeBytes})
	}
	groups, sum := GroupBy(cands, func(c Candidate) (string, bool) {
		return hashByID[c.BookID], true
	})
	return groups, sum, nil
}

// ByChecksum groups the indexed paths of exactly one tree by checksum.
// Indices of different trees are never mixed in a single call.
func ByChecksum(ctx context.Context, ix *identity.TreeIndex) ([]Group, Summary, error) {
	entries, err := ix.Entries(ctx)
	if err != nil {
		return nil, Summary{}, err
	}
	checksumByPath := make(map[string]string, len(entries))
	cands := make([]Candidate, 0, len(entries))
	for _, e := range entries {
		checksumByPath[e.Path] = e.Checksum
		cands = append(cands, Candidate{Path: e.Path, Size: e.SizeBytes})
	}
	groups, sum := GroupBy(cands, func(c Candidate) (string, bool) {
		return checksumByPath[c.Path], true
	})
	return groups, sum, nil
}
