package legacysymbol

import (
	"strings"

	"github.com/kotadb/kotadb/pkg/depgraph"
	"github.com/kotadb/kotadb/pkg/validated"
)

// AddRelation records relation and marks its target's Dependents set so a
// reload can reconstruct the relationship list without a separate relation
// file (mirrors the original's dependents-field-as-source-of-truth
// design).
func (s *Store) AddRelation(relation Relation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if target, ok := s.cache.Peek(relation.ToID); ok {
		if target.Dependents == nil {
			target.Dependents = make(map[validated.DocumentID]struct{})
		}
		target.Dependents[relation.FromID] = struct{}{}
	}

	s.relationships = append(s.relationships, relation)
}

// BuildRelationships derives a Relation for every (entry, dependency name)
// pair whose dependency resolves to a known symbol, replacing the set an
// earlier call derived (the relations carrying "dependency_name"
// metadata). Relations without that metadata, such as those added via
// AddRelation or rebuilt from Dependents at Open, are kept.
func (s *Store) BuildRelationships() {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.relationships[:0]
	for _, rel := range s.relationships {
		if _, derived := rel.Metadata["dependency_name"]; !derived {
			kept = append(kept, rel)
		}
	}
	s.relationships = kept

	for _, id := range s.cache.Keys() {
		entry, ok := s.cache.Peek(id)
		if !ok {
			continue
		}
		for _, dep := range entry.Dependencies {
			for _, targetID := range s.findSymbolsByNamePattern(dep) {
				if targetID == entry.ID {
					continue
				}
				relation := Relation{
					FromID: entry.ID,
					ToID:   targetID,
					Type:   depgraph.RelationCalls,
					Metadata: map[string]string{
						"dependency_name": dep,
						"from_file":       entry.FilePath,
					},
				}
				if target, ok := s.cache.Peek(targetID); ok {
					if target.Dependents == nil {
						target.Dependents = make(map[validated.DocumentID]struct{})
					}
					target.Dependents[entry.ID] = struct{}{}
				}
				s.relationships = append(s.relationships, relation)
			}
		}
	}
}

// findSymbolsByNamePattern resolves a dependency name to candidate symbol
// ids: exact qualified-name match first, then any entry whose simple name
// matches or whose qualified name ends in "::pattern".
func (s *Store) findSymbolsByNamePattern(pattern string) []validated.DocumentID {
	seen := make(map[validated.DocumentID]struct{})
	var matches []validated.DocumentID

	add := func(id validated.DocumentID) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		matches = append(matches, id)
	}

	for _, id := range s.byName[pattern] {
		add(id)
	}

	suffix := "::" + pattern
	for _, id := range s.cache.Keys() {
		entry, ok := s.cache.Peek(id)
		if !ok {
			continue
		}
		if entry.Name == pattern || strings.HasSuffix(entry.QualifiedName, suffix) {
			add(id)
		}
	}

	return matches
}

// reconstructRelationshipsFromDependents rebuilds s.relationships from
// every loaded entry's Dependents set, since that set — not a separate
// relation file — is what's actually persisted to disk.
func (s *Store) reconstructRelationshipsFromDependents() {
	s.relationships = s.relationships[:0]

	for _, id := range s.cache.Keys() {
		entry, ok := s.cache.Peek(id)
		if !ok {
			continue
		}
		for dependentID := range entry.Dependents {
			s.relationships = append(s.relationships, Relation{
				FromID: dependentID,
				ToID:   entry.ID,
				Type:   depgraph.RelationCalls,
			})
		}
	}
}

// FindDependents returns every entry that depends on targetID (reverse
// edges).
func (s *Store) FindDependents(targetID validated.DocumentID) []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Entry
	for _, rel := range s.relationships {
		if rel.ToID != targetID {
			continue
		}
		if e, ok := s.cache.Peek(rel.FromID); ok {
			out = append(out, e)
		}
	}
	return out
}

// FindDependencies returns every entry sourceID depends on (forward
// edges).
func (s *Store) FindDependencies(sourceID validated.DocumentID) []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Entry
	for _, rel := range s.relationships {
		if rel.FromID != sourceID {
			continue
		}
		if e, ok := s.cache.Peek(rel.ToID); ok {
			out = append(out, e)
		}
	}
	return out
}

// RelationshipsFor returns every relation touching symbolID, as either
// endpoint.
func (s *Store) RelationshipsFor(symbolID validated.DocumentID) []Relation {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Relation
	for _, rel := range s.relationships {
		if rel.FromID == symbolID || rel.ToID == symbolID {
			out = append(out, rel)
		}
	}
	return out
}

// RelationshipCount returns the total number of tracked relations.
func (s *Store) RelationshipCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.relationships)
}
