// Package library implements the maintenance job bodies that run as
// background Operations: catalog rescans, content-hash generation, per-tree
// checksum index builds, duplicate deletion, and cloud position sync.
package library

import (
	"database/sql"
	"fmt"

	"shelfkeeper/internal/catalog"
	"shelfkeeper/internal/cloud"
	"shelfkeeper/internal/config"
	"shelfkeeper/internal/dedupe"
	"shelfkeeper/internal/identity"
)

// Runner owns the collaborators the job bodies need. It holds no mutable
// state of its own; all job state lives in the Operation that runs the body.
type Runner struct {
	cfg     *config.Config
	store   *catalog.Store
	remover *dedupe.Remover
	indices map[string]*identity.TreeIndex
	cloud   *cloud.Client // nil when no endpoint is configured
}

// NewRunner wires a Runner over the shared database handle. cloudClient may
// be nil; starting a cloud-sync Operation then fails synchronously.
func NewRunner(db *sql.DB, cfg *config.Config, cloudClient *cloud.Client) *Runner {
	store := catalog.New(db)
	return &Runner{
		cfg:     cfg,
		store:   store,
		remover: dedupe.NewRemover(store),
		indices: map[string]*identity.TreeIndex{
			"sources": identity.NewTreeIndex(db, "sources"),
			"library": identity.NewTreeIndex(db, "library"),
		},
		cloud: cloudClient,
	}
}

// Store exposes the catalog for the API layer.
func (r *Runner) Store() *catalog.Store { return r.store }

// Remover exposes the bulk remover for the API layer.
func (r *Runner) Remover() *dedupe.Remover { return r.remover }

// Index returns the checksum index bound to tree ("sources" or "library").
func (r *Runner) Index(tree string) (*identity.TreeIndex, error) {
	ix, ok := r.indices[tree]
	if !ok {
		return nil, fmt.Errorf("unknown tree %q", tree)
	}
	return ix, nil
}
