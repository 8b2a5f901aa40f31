// Package fs is the public face of the versioned filesystem: it opens the
// backing store, exposes revision queries and the transaction lifecycle,
// and owns the commit-time three-way merge. Path-level operations live on
// the tree roots it hands out (pkg/tree).
package fs

import (
	"context"
	"errors"
	"time"

	"github.com/branchfs/branchfs/internal/logger"
	"github.com/branchfs/branchfs/internal/metrics"
	"github.com/branchfs/branchfs/pkg/dag"
	"github.com/branchfs/branchfs/pkg/kv"
	"github.com/branchfs/branchfs/pkg/tables"
	"github.com/branchfs/branchfs/pkg/trail"
	"github.com/branchfs/branchfs/pkg/tree"
)

// DateProp is the revision/transaction property carrying the commit date.
// It is assigned at transaction creation and overwritten at commit time.
const DateProp = "date"

// Config configures an FS.
type Config struct {
	// Path is the database file the KV environment lives at.
	Path string

	// Logger defaults to the global logger when nil.
	Logger *logger.Logger

	// Metrics is optional; nil disables instrumentation.
	Metrics *metrics.Metrics
}

// FS is one open filesystem over a KV environment. It is safe for
// concurrent use: all mutation runs through trails.
type FS struct {
	db  *kv.DB
	tab *tables.Tables
	log *logger.Logger
	met *metrics.Metrics
}

// Open opens (or creates) the filesystem at cfg.Path. A fresh store is
// initialized with revision 0, whose root is an empty directory.
func Open(ctx context.Context, cfg Config) (*FS, error) {
	log := cfg.Logger
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	db := &kv.DB{Path: cfg.Path}
	if err := db.Open(); err != nil {
		return nil, err
	}

	f := &FS{db: db, tab: tables.New(), log: log, met: cfg.Metrics}
	if err := f.initialize(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.LogStoreOpen(cfg.Path)
	return f, nil
}

// initialize commits revision 0 on a store that has never held one.
func (f *FS) initialize(ctx context.Context) error {
	return trail.RunVoid(ctx, f.db, func(tr *trail.Trail) error {
		_, err := f.tab.Revisions.YoungestRevision(tr)
		if err == nil {
			return nil
		}
		if !errors.Is(err, tables.ErrNotInitialized) {
			return err
		}

		root := dag.NewDirectory(dag.RootID(), "", dag.CopyIDSentinel)
		if err := f.tab.Nodes.PutNodeRevision(tr, root); err != nil {
			return err
		}
		rev, err := f.tab.Revisions.PutRevision(tr, &tables.Revision{
			Root:  dag.RootID(),
			Props: map[string][]byte{DateProp: []byte(time.Now().UTC().Format(time.RFC3339Nano))},
		})
		if err != nil {
			return err
		}
		if rev != 0 {
			return errors.New("fs: initialization produced a non-zero first revision")
		}
		return nil
	})
}

// Close releases the underlying KV environment.
func (f *FS) Close() error {
	f.log.LogStoreClose(f.db.Path)
	return f.db.Close()
}

// YoungestRevision returns the highest committed revision number.
func (f *FS) YoungestRevision(ctx context.Context) (int64, error) {
	return trail.Run(ctx, f.db, func(tr *trail.Trail) (int64, error) {
		return f.tab.Revisions.YoungestRevision(tr)
	})
}

// RevisionRootID returns the node id of rev's root directory.
func (f *FS) RevisionRootID(ctx context.Context, rev int64) (dag.ID, error) {
	return trail.Run(ctx, f.db, func(tr *trail.Trail) (dag.ID, error) {
		return f.tab.Revisions.RevisionRoot(tr, rev)
	})
}

// Root opens the read-only tree of a committed revision.
func (f *FS) Root(rev int64) *tree.Root {
	return tree.RevisionRoot(f.db, f.tab, rev)
}

// RevisionProp returns one property of rev, nil if unset.
func (f *FS) RevisionProp(ctx context.Context, rev int64, key string) ([]byte, error) {
	props, err := f.RevisionProplist(ctx, rev)
	if err != nil {
		return nil, err
	}
	return props[key], nil
}

// RevisionProplist returns all properties of rev.
func (f *FS) RevisionProplist(ctx context.Context, rev int64) (map[string][]byte, error) {
	return trail.Run(ctx, f.db, func(tr *trail.Trail) (map[string][]byte, error) {
		r, err := f.tab.Revisions.GetRevision(tr, rev)
		if err != nil {
			return nil, err
		}
		return r.Props, nil
	})
}

// ChangeRevisionProp sets (or, when val is nil, removes) one property of a
// committed revision — the only in-place mutation a revision permits.
func (f *FS) ChangeRevisionProp(ctx context.Context, rev int64, key string, val []byte) error {
	return trail.RunVoid(ctx, f.db, func(tr *trail.Trail) error {
		return f.tab.Revisions.ChangeRevisionProp(tr, rev, key, val)
	})
}
