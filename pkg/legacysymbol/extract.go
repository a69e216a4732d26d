package legacysymbol

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"time"

	"github.com/kotadb/kotadb/pkg/kotaerr"
	"github.com/kotadb/kotadb/pkg/parser"
	"github.com/kotadb/kotadb/pkg/validated"
)

// ExtractSymbols derives, persists, and indexes one Entry per declaration
// in analysis, returning their ids in declaration order.
func (s *Store) ExtractSymbols(ctx context.Context, filePath string, analysis *parser.DependencyAnalysis, repository string) ([]validated.DocumentID, error) {
	if err := ctx.Err(); err != nil {
		return nil, kotaerr.New("legacysymbol.ExtractSymbols", kotaerr.Timeout, filePath, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.extractSymbolsLocked(filePath, analysis, repository)
}

// extractSymbolsLocked assumes s.mu is held. Errors returned here leave the
// store partially updated (some symbols from analysis may already be
// persisted/indexed); callers that need all-or-nothing semantics use
// UpdateFileSymbols instead, which snapshots and rolls back around this
// call.
func (s *Store) extractSymbolsLocked(filePath string, analysis *parser.DependencyAnalysis, repository string) ([]validated.DocumentID, error) {
	ids := make([]validated.DocumentID, 0, len(analysis.Symbols))
	// lastIDForName tracks the most recently seen declaration with a given
	// simple name in this file, so later symbols can resolve their parent
	// id from ParentName. Mirrors pkg/depgraph.Build's simple-name index,
	// scoped to a single file instead of the whole batch.
	lastIDForName := make(map[string]validated.DocumentID, len(analysis.Symbols))

	for _, sym := range analysis.Symbols {
		parentNameKey := sym.ParentName

		var parentID *validated.DocumentID
		if parentNameKey != "" {
			if pid, ok := lastIDForName[parentNameKey]; ok {
				p := pid
				parentID = &p
			}
		}

		id := parser.SymbolID(filePath, parentNameKey, sym.Name, sym.Kind, sym.StartLine, sym.StartColumn)
		qualified := buildQualifiedName(filePath, parentNameKey, sym.Name)

		entry := &Entry{
			ID:            id,
			Repository:    repository,
			FilePath:      filePath,
			Kind:          sym.Kind,
			Name:          sym.Name,
			StartLine:     sym.StartLine,
			EndLine:       sym.EndLine,
			StartColumn:   sym.StartColumn,
			QualifiedName: qualified,
			ParentID:      parentID,
			Dependencies:  dependenciesFor(sym, analysis),
			Dependents:    make(map[validated.DocumentID]struct{}),
			ExtractedAt:   time.Now().UTC(),
			ContentHash:   contentHash(filePath, parentNameKey, sym),
		}

		if parentID != nil {
			if parent, ok := s.cache.Peek(*parentID); ok {
				parent.Children = append(parent.Children, id)
			}
		}

		lastIDForName[sym.Name] = id
		ids = append(ids, id)

		if err := s.persist(entry); err != nil {
			return nil, err
		}
		s.indexEntry(entry)
	}

	s.byFile[filePath] = append([]validated.DocumentID(nil), ids...)
	if repository != "" {
		files := s.repos[repository]
		if files == nil {
			files = make(map[string]struct{})
			s.repos[repository] = files
		}
		files[filePath] = struct{}{}
	}

	return ids, nil
}

// buildQualifiedName mirrors pkg/depgraph.Build's "file::[parent::]name"
// scheme, so the same declaration gets the same qualified name whether it
// is seen by the live extractor or this legacy store.
func buildQualifiedName(filePath, parentName, name string) string {
	if parentName != "" {
		return filePath + "::" + parentName + "::" + name
	}
	return filePath + "::" + name
}

// dependenciesFor collects the names referenced from within sym's line
// range, deduplicated and sorted. This reuses the parser's already-resolved
// reference list rather than re-deriving call/type/macro usage from raw
// text the way the original store did, since that text is no longer
// available this far from the parse tree and pkg/parser's extraction is
// more accurate anyway.
func dependenciesFor(sym parser.ExtractedSymbol, analysis *parser.DependencyAnalysis) []string {
	seen := make(map[string]struct{})
	var deps []string

	for _, ref := range analysis.References {
		if ref.Line < sym.StartLine || ref.Line > sym.EndLine {
			continue
		}
		if _, ok := seen[ref.Name]; ok {
			continue
		}
		seen[ref.Name] = struct{}{}
		deps = append(deps, ref.Name)
	}

	sort.Strings(deps)
	return deps
}

// contentHash hashes the declaration's identity tuple. The original hashed
// the symbol's raw source text for change detection; that text isn't
// retained this far from the parse tree here, so the identity tuple
// (file/parent/name/kind/position) stands in — adequate since the only use
// is detecting whether a re-extraction produced a different declaration at
// the same position, and parser.SymbolID already hashes the same tuple for
// id derivation.
func contentHash(filePath, parentName string, sym parser.ExtractedSymbol) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%d\x00%d\x00%d\x00%d", filePath, parentName, sym.Name, sym.Kind, sym.StartLine, sym.StartColumn, sym.EndLine)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// UpdateFileSymbols atomically replaces filePath's symbols: it snapshots
// the current entries and name-index state, removes them from memory,
// extracts analysis as if fresh, and only deletes the old on-disk files
// once extraction succeeds. If extraction fails, the snapshot is restored
// and the old on-disk files are left untouched (spec.md §4.11's
// all-or-nothing replacement with rollback).
func (s *Store) UpdateFileSymbols(ctx context.Context, filePath string, analysis *parser.DependencyAnalysis, repository string) error {
	const op = "legacysymbol.UpdateFileSymbols"

	if err := ctx.Err(); err != nil {
		return kotaerr.New(op, kotaerr.Timeout, filePath, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	oldIDs := append([]validated.DocumentID(nil), s.byFile[filePath]...)
	oldEntries := make([]*Entry, 0, len(oldIDs))
	oldNameSnapshot := make(map[string][]validated.DocumentID, len(oldIDs))

	for _, id := range oldIDs {
		e, ok := s.cache.Peek(id)
		if !ok {
			continue
		}
		oldEntries = append(oldEntries, e)
		if _, seen := oldNameSnapshot[e.QualifiedName]; !seen {
			oldNameSnapshot[e.QualifiedName] = append([]validated.DocumentID(nil), s.byName[e.QualifiedName]...)
		}
	}

	for _, e := range oldEntries {
		s.removeFromIndex(e.ID)
	}
	delete(s.byFile, filePath)

	newIDs, err := s.extractSymbolsLocked(filePath, analysis, repository)
	if err != nil {
		// Rollback: restore the old entries, byFile mapping, and
		// byName snapshot exactly as they were before this call.
		s.byFile[filePath] = oldIDs
		for _, e := range oldEntries {
			s.cache.Add(e.ID, e)
		}
		for name, ids := range oldNameSnapshot {
			s.byName[name] = ids
		}
		return err
	}

	// Success: the new symbols are live, so the old on-disk files can now
	// be removed, except those of ids the new extraction reused, whose
	// files it has just rewritten. Deletion failures are logged, not
	// propagated — the old entries are already gone from the in-memory
	// index either way.
	live := make(map[validated.DocumentID]struct{}, len(newIDs))
	for _, id := range newIDs {
		live[id] = struct{}{}
	}
	for _, e := range oldEntries {
		if _, reused := live[e.ID]; reused {
			continue
		}
		if delErr := s.deleteFile(e); delErr != nil {
			s.logger.Warn().Err(delErr).Str("id", e.ID.String()).Msg("legacysymbol: failed to delete superseded symbol file")
		}
	}

	return nil
}
