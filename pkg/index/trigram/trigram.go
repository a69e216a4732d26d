// Package trigram implements the substring-search index: a postings list
// mapping case-folded 3-grams to the set of documents whose content
// contains them (spec.md §4.4).
package trigram

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	roaring "github.com/RoaringBitmap/roaring/v2"
	"github.com/kotadb/kotadb/pkg/btree"
	"github.com/kotadb/kotadb/pkg/fs"
	"github.com/kotadb/kotadb/pkg/kotaerr"
	"github.com/kotadb/kotadb/pkg/validated"
)

// Index maintains trigram -> postings and enough per-document state (path,
// content, and the document's own trigram set) to verify candidate matches
// and order results by path.
type Index struct {
	mu sync.RWMutex

	postings *btree.Tree[string, *roaring.Bitmap]

	idToNum map[string]uint32
	numToID map[uint32]string
	nextNum uint32

	paths    map[string]string
	content  map[string][]byte
	trigrams map[string]map[string]struct{} // id -> its own trigram set, for delete/update

	fsys       fs.FS
	writer     *fs.AtomicWriter
	projection string
}

// Open loads the index's JSON projection from dbPath/index/trigram.json, if
// present, replaying insert_with_content for every stored document to
// rebuild postings.
func Open(fsys fs.FS, dbPath string) (*Index, error) {
	const op = "trigram.Open"

	dir := filepath.Join(dbPath, "index")
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, kotaerr.New(op, kotaerr.Io, dir, err)
	}

	projectionPath := filepath.Join(dir, "trigram.json")

	idx := &Index{
		postings:   btree.CreateEmpty[string, *roaring.Bitmap](),
		idToNum:    make(map[string]uint32),
		numToID:    make(map[uint32]string),
		paths:      make(map[string]string),
		content:    make(map[string][]byte),
		trigrams:   make(map[string]map[string]struct{}),
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

	for _, e := range entries {
		path, perr := validated.NewPath(e.Path)
		if perr != nil {
			continue
		}
		idx.insertLocked(e.ID, path, e.Content)
	}

	return idx, nil
}

type projectionEntry struct {
	ID      string `json:"id"`
	Path    string `json:"path"`
	Content []byte `json:"content"`
}

// InsertWithContent tokenizes content to case-folded trigrams and records
// postings for id.
func (idx *Index) InsertWithContent(ctx context.Context, id validated.DocumentID, path validated.Path, content []byte) error {
	if err := ctx.Err(); err != nil {
		return kotaerr.New("trigram.InsertWithContent", kotaerr.Timeout, id.String(), err)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.insertLocked(id.String(), path, content)
	return nil
}

// UpdateWithContent atomically replaces id's postings with those derived
// from the new content.
func (idx *Index) UpdateWithContent(ctx context.Context, id validated.DocumentID, path validated.Path, content []byte) error {
	if err := ctx.Err(); err != nil {
		return kotaerr.New("trigram.UpdateWithContent", kotaerr.Timeout, id.String(), err)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.removeLocked(id.String())
	idx.insertLocked(id.String(), path, content)
	return nil
}

// Delete removes all postings for id.
func (idx *Index) Delete(ctx context.Context, id validated.DocumentID) error {
	if err := ctx.Err(); err != nil {
		return kotaerr.New("trigram.Delete", kotaerr.Timeout, id.String(), err)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.removeLocked(id.String())
	return nil
}

// insertLocked must be called with idx.mu held.
func (idx *Index) insertLocked(id string, path validated.Path, content []byte) {
	num, ok := idx.idToNum[id]
	if !ok {
		num = idx.nextNum
		idx.nextNum++
		idx.idToNum[id] = num
		idx.numToID[num] = id
	}

	grams := tokenizeTrigrams(content)
	idx.trigrams[id] = grams
	idx.paths[id] = path.String()
	idx.content[id] = content

	for g := range grams {
		bm, found := idx.postings.Search(g)
		if !found {
			bm = roaring.New()
		}
		bm.Add(num)
		idx.postings = idx.postings.Insert(g, bm)
	}
}

// removeLocked must be called with idx.mu held.
func (idx *Index) removeLocked(id string) {
	num, ok := idx.idToNum[id]
	if !ok {
		return
	}

	for g := range idx.trigrams[id] {
		if bm, found := idx.postings.Search(g); found {
			bm.Remove(num)
			if bm.IsEmpty() {
				idx.postings = idx.postings.Delete(g)
			} else {
				idx.postings = idx.postings.Insert(g, bm)
			}
		}
	}

	delete(idx.trigrams, id)
	delete(idx.paths, id)
	delete(idx.content, id)
	delete(idx.idToNum, id)
	delete(idx.numToID, num)
}

// Result is one hit from [Index.Search].
type Result struct {
	ID   string
	Path string
}

// Search computes the candidate set as the intersection of postings for
// the query's trigrams (or, for queries shorter than 3 runes, every
// indexed document — there is no trigram to index against), verifies a
// substring match on stored content, and returns hits ordered by ascending
// path, truncated to limit. An empty query returns no results.
func (idx *Index) Search(ctx context.Context, query validated.SearchQuery, limit validated.Limit) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, kotaerr.New("trigram.Search", kotaerr.Timeout, query.String(), err)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	term := query.String()
	if term == "" {
		return nil, nil
	}
	needle := strings.ToLower(term)

	var candidateIDs []string
	queryGrams := tokenizeTrigrams([]byte(term))

	if len(queryGrams) == 0 {
		// Query shorter than one trigram: no postings to intersect, so
		// every currently-indexed document is a candidate.
		candidateIDs = make([]string, 0, len(idx.content))
		for id := range idx.content {
			candidateIDs = append(candidateIDs, id)
		}
	} else {
		var intersection *roaring.Bitmap
		for g := range queryGrams {
			bm, found := idx.postings.Search(g)
			if !found {
				intersection = roaring.New()
				break
			}
			if intersection == nil {
				intersection = bm.Clone()
			} else {
				intersection.And(bm)
			}
		}
		if intersection != nil {
			it := intersection.Iterator()
			for it.HasNext() {
				candidateIDs = append(candidateIDs, idx.numToID[it.Next()])
			}
		}
	}

	var hits []Result
	for _, id := range candidateIDs {
		body := idx.content[id]
		if bytes.Contains(bytes.ToLower(body), []byte(needle)) {
			hits = append(hits, Result{ID: id, Path: idx.paths[id]})
		}
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Path < hits[j].Path })

	n := limit.Int()
	if n > len(hits) {
		n = len(hits)
	}
	return hits[:n], nil
}

// tokenizeTrigrams lowercases content and extracts case-folded 3-grams over
// its runes. strings.ToLower replaces each invalid UTF-8 byte with U+FFFD,
// so a malformed byte takes part in trigrams as U+FFFD.
func tokenizeTrigrams(content []byte) map[string]struct{} {
	s := strings.ToLower(string(content))

	var runes []rune
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size <= 1 {
			i++
			continue
		}
		runes = append(runes, r)
		i += size
	}

	grams := make(map[string]struct{})
	for i := 0; i+3 <= len(runes); i++ {
		grams[string(runes[i:i+3])] = struct{}{}
	}
	return grams
}

// Flush is a no-op: this index has no buffered writes of its own.
func (idx *Index) Flush(ctx context.Context) error {
	return ctx.Err()
}

// Sync persists the current document set to the JSON projection, from
// which postings are rebuilt on the next Open.
func (idx *Index) Sync(ctx context.Context) error {
	const op = "trigram.Sync"
	if err := ctx.Err(); err != nil {
		return kotaerr.New(op, kotaerr.Timeout, "", err)
	}

	idx.mu.RLock()
	entries := make([]projectionEntry, 0, len(idx.content))
	for id, body := range idx.content {
		entries = append(entries, projectionEntry{ID: id, Path: idx.paths[id], Content: body})
	}
	idx.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

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
