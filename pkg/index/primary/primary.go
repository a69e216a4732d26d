// Package primary implements the ID -> Path primary index: existence and
// enumeration queries over the live document set (spec.md §4.3).
package primary

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"sort"
	"sync"

	"github.com/kotadb/kotadb/pkg/btree"
	"github.com/kotadb/kotadb/pkg/fs"
	"github.com/kotadb/kotadb/pkg/kotaerr"
	"github.com/kotadb/kotadb/pkg/validated"
)

// Index is the ID -> Path primary index, backed by a persistent B+ tree
// with a JSON projection for reload.
//
// Query semantics: it answers only wildcard/empty-term queries, returning
// the live id set in ascending key order truncated to a limit. A non-empty
// search term always returns no results — substring/term search over
// content is the trigram index's job (pkg/index/trigram), not this one's.
type Index struct {
	mu   sync.RWMutex
	tree *btree.Tree[string, string]

	fsys       fs.FS
	writer     *fs.AtomicWriter
	projection string
}

// projectionEntry is one row of the on-disk JSON projection.
type projectionEntry struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

// Open loads the index's JSON projection from dbPath/index/primary.json, if
// present, and returns an Index ready for use.
func Open(fsys fs.FS, dbPath string) (*Index, error) {
	const op = "primary.Open"

	dir := filepath.Join(dbPath, "index")
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, kotaerr.New(op, kotaerr.Io, dir, err)
	}

	projectionPath := filepath.Join(dir, "primary.json")

	idx := &Index{
		tree:       btree.CreateEmpty[string, string](),
		fsys:       fsys,
		writer:     fs.NewAtomicWriter(fsys),
		projection: projectionPath,
	}

	exists, err := fsys.Exists(projectionPath)
	if err != nil {
		return nil, kotaerr.New(op, kotaerr.Io, projectionPath, err)
	}
	if !exists {
		return idx, nil
	}

	data, err := fsys.ReadFile(projectionPath)
	if err != nil {
		return nil, kotaerr.New(op, kotaerr.Io, projectionPath, err)
	}

	var entries []projectionEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, kotaerr.New(op, kotaerr.Corruption, projectionPath, err)
	}

	pairs := make([]btree.Pair[string, string], len(entries))
	for i, e := range entries {
		pairs[i] = btree.Pair[string, string]{Key: e.ID, Value: e.Path}
	}
	idx.tree = idx.tree.BulkInsert(pairs)

	return idx, nil
}

// Insert adds or overwrites id's path. Rejects a zero/nil id.
func (idx *Index) Insert(ctx context.Context, id validated.DocumentID, path validated.Path) error {
	const op = "primary.Insert"
	if err := ctx.Err(); err != nil {
		return kotaerr.New(op, kotaerr.Timeout, id.String(), err)
	}
	if id.IsZero() {
		return kotaerr.New(op, kotaerr.InvalidArgument, "", nil)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.tree = idx.tree.Insert(id.String(), path.String())

	if got, ok := idx.tree.Search(id.String()); !ok || got != path.String() {
		return kotaerr.New(op, kotaerr.Corruption, id.String(), nil)
	}

	return nil
}

// Update is an alias for Insert: overwrite semantics (spec.md §4.3).
func (idx *Index) Update(ctx context.Context, id validated.DocumentID, path validated.Path) error {
	return idx.Insert(ctx, id, path)
}

// Delete removes id. Returns NotFound if id was absent.
func (idx *Index) Delete(ctx context.Context, id validated.DocumentID) error {
	const op = "primary.Delete"
	if err := ctx.Err(); err != nil {
		return kotaerr.New(op, kotaerr.Timeout, id.String(), err)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.tree.Search(id.String()); !ok {
		return kotaerr.New(op, kotaerr.NotFound, id.String(), nil)
	}

	idx.tree = idx.tree.Delete(id.String())

	if _, stillThere := idx.tree.Search(id.String()); stillThere {
		return kotaerr.New(op, kotaerr.Corruption, id.String(), nil)
	}

	return nil
}

// Result is one hit from [Index.Search].
type Result struct {
	ID   string
	Path string
}

// Search answers only wildcard/empty-term queries: any non-empty term
// returns no results. Hits are returned in ascending key order, truncated
// to limit.
func (idx *Index) Search(ctx context.Context, term string, limit validated.Limit) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, kotaerr.New("primary.Search", kotaerr.Timeout, term, err)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if term != "" {
		return nil, nil
	}

	pairs := idx.tree.ExtractAllPairs()
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Key < pairs[j].Key })

	n := limit.Int()
	if n > len(pairs) {
		n = len(pairs)
	}

	out := make([]Result, n)
	for i := range n {
		out[i] = Result{ID: pairs[i].Key, Path: pairs[i].Value}
	}
	return out, nil
}

// Flush is a no-op: this index has no buffered writes of its own.
func (idx *Index) Flush(ctx context.Context) error {
	return ctx.Err()
}

// Sync persists the current tree contents to the JSON projection.
func (idx *Index) Sync(ctx context.Context) error {
	const op = "primary.Sync"
	if err := ctx.Err(); err != nil {
		return kotaerr.New(op, kotaerr.Timeout, "", err)
	}

	idx.mu.RLock()
	pairs := idx.tree.ExtractAllPairs()
	idx.mu.RUnlock()

	entries := make([]projectionEntry, len(pairs))
	for i, p := range pairs {
		entries[i] = projectionEntry{ID: p.Key, Path: p.Value}
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return kotaerr.New(op, kotaerr.Io, "", err)
	}

	if err := idx.writer.WriteWithDefaults(idx.projection, bytes.NewReader(data)); err != nil {
		return kotaerr.New(op, kotaerr.Io, idx.projection, err)
	}

	return nil
}

// Close syncs the projection.
func (idx *Index) Close() error {
	return idx.Sync(context.Background())
}
