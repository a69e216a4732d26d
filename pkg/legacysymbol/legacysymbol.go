// Package legacysymbol implements the older JSON-per-symbol store
// (spec.md §4.11): one JSON file per symbol, an in-memory index bounded by
// an LRU eviction policy, and a flat relation list. It predates the binary
// symbol format in pkg/symbol and is kept only so databases written before
// that format existed stay readable; new extraction pipelines should write
// pkg/symbol instead.
//
// Grounded on original_source/src/symbol_storage.rs.
package legacysymbol

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/kotadb/kotadb/pkg/depgraph"
	"github.com/kotadb/kotadb/pkg/symbol"
	"github.com/kotadb/kotadb/pkg/validated"
)

// Relation labels reuse pkg/depgraph's Relation type so a "calls" edge
// means the same thing whether it came from the live extractor or this
// legacy store. Imports/Extends/ChildOf have no equivalent in depgraph
// (which only ever sees resolved references, not declarations), so they're
// declared here.
const (
	RelationImports = depgraph.Relation("Imports")
	RelationExtends = depgraph.Relation("Extends")
	RelationChildOf = depgraph.Relation("ChildOf")
)

// Entry is one symbol record, mirroring the original SymbolEntry but with
// Dependencies derived from the already-resolved parser output instead of
// the original's regex-based text scanning (pkg/parser already extracts
// references properly; re-deriving them with string heuristics here would
// just be a second, less accurate implementation of the same thing).
type Entry struct {
	ID            validated.DocumentID
	Repository    string // empty if not ingested from a repository
	FilePath      string
	Kind          symbol.Kind
	Name          string
	StartLine     uint32
	EndLine       uint32
	StartColumn   uint32
	QualifiedName string
	ParentID      *validated.DocumentID
	Children      []validated.DocumentID
	Dependencies  []string
	Dependents    map[validated.DocumentID]struct{}
	ExtractedAt   time.Time
	ContentHash   string
}

// Relation is an edge between two Entries, built from Dependencies by
// BuildRelationships or added directly by a caller with richer context.
type Relation struct {
	FromID   validated.DocumentID
	ToID     validated.DocumentID
	Type     depgraph.Relation
	Metadata map[string]string
}

// SearchThresholds configures Search's fuzzy-match scoring.
type SearchThresholds struct {
	ExactMatch      float32
	PrefixMatch     float32
	ContainsMatch   float32
	MinFuzzyOverlap float32
	FuzzyMultiplier float32
}

// DefaultSearchThresholds matches the original store's tuning.
func DefaultSearchThresholds() SearchThresholds {
	return SearchThresholds{
		ExactMatch:      1.0,
		PrefixMatch:     0.8,
		ContainsMatch:   0.6,
		MinFuzzyOverlap: 0.5,
		FuzzyMultiplier: 0.5,
	}
}

// Config bounds the in-memory index.
type Config struct {
	// MaxSymbols caps the number of entries kept in memory; the least
	// recently used is evicted first (default 100,000).
	MaxSymbols int
	// MaxMemoryBytes additionally bounds estimated memory use (default
	// 500MiB); entries are evicted until both limits are satisfied.
	MaxMemoryBytes int
	Search         SearchThresholds
}

// DefaultConfig matches the original store's defaults.
func DefaultConfig() Config {
	return Config{
		MaxSymbols:     100_000,
		MaxMemoryBytes: 500 << 20,
		Search:         DefaultSearchThresholds(),
	}
}

const legacySymbolsDirName = "legacy_symbols"

// Store is the legacy JSON-per-symbol store. All methods are safe for
// concurrent use.
type Store struct {
	mu     sync.Mutex
	dbPath string
	cfg    Config
	logger zerolog.Logger

	// cache is the authoritative in-memory map AND the LRU eviction
	// queue at once: Add/Get/Peek reorder entries, RemoveOldest/the
	// eviction callback evict the least recently touched one when the
	// store is over MaxSymbols or MaxMemoryBytes.
	cache  *lru.Cache[validated.DocumentID, *Entry]
	byName map[string][]validated.DocumentID
	byFile map[string][]validated.DocumentID
	repos  map[string]map[string]struct{}

	relationships   []Relation
	estimatedMemory int
}

// Open loads an existing legacy store from dbPath, or starts a fresh empty
// one if none exists yet. Corrupt per-symbol files are skipped with a
// warning rather than failing Open outright, matching the original's
// best-effort load_symbols.
func Open(dbPath string, cfg Config, logger zerolog.Logger) (*Store, error) {
	if cfg.MaxSymbols <= 0 {
		cfg.MaxSymbols = 1
	}
	if cfg.MaxMemoryBytes <= 0 {
		cfg.MaxMemoryBytes = 1
	}

	s := &Store{
		dbPath: dbPath,
		cfg:    cfg,
		logger: logger,
		byName: make(map[string][]validated.DocumentID),
		byFile: make(map[string][]validated.DocumentID),
		repos:  make(map[string]map[string]struct{}),
	}

	cache, err := lru.NewWithEvict[validated.DocumentID, *Entry](cfg.MaxSymbols, s.onEvicted)
	if err != nil {
		return nil, err
	}
	s.cache = cache

	if err := s.loadAll(); err != nil {
		return nil, err
	}
	s.reconstructRelationshipsFromDependents()

	return s, nil
}

// onEvicted is the LRU cache's eviction callback: it keeps byName and the
// memory estimate consistent whenever an entry leaves the cache, whether
// because it aged out or because it was removed explicitly.
func (s *Store) onEvicted(id validated.DocumentID, e *Entry) {
	ids := removeID(s.byName[e.QualifiedName], id)
	if len(ids) == 0 {
		delete(s.byName, e.QualifiedName)
	} else {
		s.byName[e.QualifiedName] = ids
	}

	size := estimateSize(e)
	if s.estimatedMemory >= size {
		s.estimatedMemory -= size
	} else {
		s.estimatedMemory = 0
	}
}

func removeID(ids []validated.DocumentID, target validated.DocumentID) []validated.DocumentID {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// Close is a no-op: every write already lands on disk via an atomic
// rename in persist(), so there is nothing buffered to flush.
func (s *Store) Close() error {
	return nil
}
