package legacysymbol

import (
	"github.com/kotadb/kotadb/pkg/symbol"
	"github.com/kotadb/kotadb/pkg/validated"
)

// estimateSize approximates e's in-memory footprint for the MaxMemoryBytes
// budget: a fixed base overhead plus every variable-length field it owns.
func estimateSize(e *Entry) int {
	const baseOverhead = 256 // struct + map/slice headers, roughly

	size := baseOverhead + len(e.FilePath) + len(e.Name) + len(e.QualifiedName) + len(e.ContentHash)
	size += len(e.Children) * 16
	size += len(e.Dependents) * 16
	for _, dep := range e.Dependencies {
		size += len(dep)
	}
	return size
}

// indexEntry adds e to the in-memory index, evicting least-recently-used
// entries first if doing so would exceed MaxMemoryBytes (MaxSymbols is
// enforced automatically by the LRU cache's own capacity on Add).
func (s *Store) indexEntry(e *Entry) {
	size := estimateSize(e)

	for s.estimatedMemory+size > s.cfg.MaxMemoryBytes && s.cache.Len() > 0 {
		s.cache.RemoveOldest()
	}
	if s.estimatedMemory+size > s.cfg.MaxMemoryBytes {
		s.logger.Warn().Str("id", e.ID.String()).Msg("legacysymbol: cannot index symbol, memory limit too small for a single entry")
		return
	}

	s.cache.Add(e.ID, e)
	s.byName[e.QualifiedName] = append(s.byName[e.QualifiedName], e.ID)
	s.estimatedMemory += size
}

// removeFromIndex drops id from the cache and its secondary indices
// without touching its on-disk file. The eviction callback handles byName
// and the memory estimate.
func (s *Store) removeFromIndex(id validated.DocumentID) {
	s.cache.Remove(id)
}

// Get returns the entry for id without affecting its LRU position, for
// read paths that shouldn't count as a "use" (e.g. listing).
func (s *Store) Get(id validated.DocumentID) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Peek(id)
}

// GetTouch returns the entry for id and marks it most-recently-used.
func (s *Store) GetTouch(id validated.DocumentID) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Get(id)
}

// FindByName returns every in-memory entry whose qualified name is name.
func (s *Store) FindByName(name string) []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.byName[name]
	out := make([]*Entry, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.cache.Peek(id); ok {
			out = append(out, e)
		}
	}
	return out
}

// FindByKind returns every in-memory entry of the given kind.
func (s *Store) FindByKind(kind symbol.Kind) []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Entry
	for _, id := range s.cache.Keys() {
		e, ok := s.cache.Peek(id)
		if ok && e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// FindByFile returns every in-memory entry extracted from filePath, in
// extraction order.
func (s *Store) FindByFile(filePath string) []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.byFile[filePath]
	out := make([]*Entry, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.cache.Peek(id); ok {
			out = append(out, e)
		}
	}
	return out
}

// IndexedFiles returns every file path with at least one tracked symbol.
func (s *Store) IndexedFiles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.byFile))
	for path := range s.byFile {
		out = append(out, path)
	}
	return out
}

// MemoryUsage reports estimated bytes used, the configured limit, and the
// usage percentage.
func (s *Store) MemoryUsage() (used, limit int, percent float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.estimatedMemory, s.cfg.MaxMemoryBytes, float64(s.estimatedMemory) / float64(s.cfg.MaxMemoryBytes) * 100
}
