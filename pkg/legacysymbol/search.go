package legacysymbol

import (
	"sort"
	"strings"
)

// Search returns up to limit entries matching query, ranked by a simple
// name-similarity score: exact match scores highest, then prefix, then
// substring, then a character-overlap fuzzy fallback below
// MinFuzzyOverlap is excluded entirely.
func (s *Store) Search(query string, limit int) []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	queryLower := strings.ToLower(query)
	thresholds := s.cfg.Search

	type scored struct {
		entry *Entry
		score float32
	}
	var results []scored

	for _, id := range s.cache.Keys() {
		entry, ok := s.cache.Peek(id)
		if !ok {
			continue
		}
		nameLower := strings.ToLower(entry.Name)

		switch {
		case nameLower == queryLower:
			results = append(results, scored{entry, thresholds.ExactMatch})
		case strings.HasPrefix(nameLower, queryLower):
			results = append(results, scored{entry, thresholds.PrefixMatch})
		case strings.Contains(nameLower, queryLower):
			results = append(results, scored{entry, thresholds.ContainsMatch})
		default:
			overlap := charOverlap(nameLower, queryLower)
			if overlap > thresholds.MinFuzzyOverlap {
				results = append(results, scored{entry, overlap * thresholds.FuzzyMultiplier})
			}
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].score > results[j].score })

	if limit > len(results) {
		limit = len(results)
	}
	if limit < 0 {
		limit = 0
	}

	out := make([]*Entry, limit)
	for i := 0; i < limit; i++ {
		out[i] = results[i].entry
	}
	return out
}

// charOverlap is the Jaccard similarity of a and b's character sets: the
// same coarse fuzzy-match heuristic the original store used, good enough
// as a last-resort ranking signal below substring matching.
func charOverlap(a, b string) float32 {
	setA := make(map[rune]struct{})
	for _, r := range a {
		setA[r] = struct{}{}
	}
	setB := make(map[rune]struct{})
	for _, r := range b {
		setB[r] = struct{}{}
	}

	intersection := 0
	for r := range setA {
		if _, ok := setB[r]; ok {
			intersection++
		}
	}

	union := len(setA)
	for r := range setB {
		if _, ok := setA[r]; !ok {
			union++
		}
	}

	if union == 0 {
		return 0
	}
	return float32(intersection) / float32(union)
}
