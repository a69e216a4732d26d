// Package engine implements the hybrid relationship query engine: it
// answers FindCallers/ImpactAnalysis queries by combining the fast binary
// symbol reader with a dependency graph, extracting the graph on demand
// when it isn't already cached (spec.md §4.9).
package engine

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/kotadb/kotadb/pkg/depgraph"
	"github.com/kotadb/kotadb/pkg/fs"
	"github.com/kotadb/kotadb/pkg/kotaerr"
	"github.com/kotadb/kotadb/pkg/storage"
	"github.com/kotadb/kotadb/pkg/symbol"
)

// maxExtractFileBytes skips any source file larger than this during
// on-demand extraction, mirroring the original extractor's 10 MiB cap.
const maxExtractFileBytes = 10 << 20

// symbolFileName/graphFileName are the two optional artifacts the engine
// tries to open under dbPath, either of which may be absent.
const (
	symbolFileName = "symbols.kota"
	graphFileName  = "dependency_graph.bin"
)

// allowedExtractExtensions is the fixed allow-list of source file
// extensions the on-demand extractor will parse.
var allowedExtractExtensions = map[string]bool{
	"rs": true, "py": true, "js": true, "ts": true, "cpp": true,
	"c": true, "h": true, "hpp": true, "java": true, "go": true, "rb": true,
}

// Config configures query behavior.
type Config struct {
	// MaxDepth bounds ImpactAnalysis's breadth-first traversal.
	MaxDepth int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{MaxDepth: 10}
}

// Engine is the hybrid relationship query engine for a single database.
type Engine struct {
	fsys   fs.FS
	dbPath string
	cfg    Config
	logger zerolog.Logger

	reader  *symbol.Reader
	store   *storage.FileStorage

	graphMu sync.RWMutex
	graph   *depgraph.Graph

	extractGroup singleflight.Group
}

// New opens an engine rooted at dbPath. symbols.kota and
// dependency_graph.bin are each opened best-effort: either file may be
// absent, and a corrupt file is logged and treated the same as absent
// rather than failing New (spec.md §8 S6: "the engine falls back to
// 'unavailable' ... and does NOT crash").
func New(fsys fs.FS, dbPath string, cfg Config, logger zerolog.Logger) (*Engine, error) {
	const op = "engine.New"

	e := &Engine{fsys: fsys, dbPath: dbPath, cfg: cfg, logger: logger}

	symbolPath := filepath.Join(dbPath, symbolFileName)
	if exists, err := fsys.Exists(symbolPath); err != nil {
		return nil, kotaerr.New(op, kotaerr.Io, symbolPath, err)
	} else if exists {
		reader, err := symbol.Open(fsys, symbolPath)
		if err != nil {
			logger.Warn().Str("path", symbolPath).Err(err).Msg("engine: failed to load binary symbols, continuing without them")
		} else {
			e.reader = reader
		}
	}

	graphPath := filepath.Join(dbPath, graphFileName)
	if exists, err := fsys.Exists(graphPath); err != nil {
		return nil, kotaerr.New(op, kotaerr.Io, graphPath, err)
	} else if exists {
		g, err := depgraph.Load(fsys, graphPath)
		if err != nil {
			logger.Warn().Str("path", graphPath).Err(err).Msg("engine: failed to load dependency graph, will extract on demand")
		} else {
			e.graph = g
		}
	}

	st, err := storage.Open(fsys, dbPath, storage.DefaultConfig(), logger)
	if err != nil {
		return nil, kotaerr.New(op, kotaerr.Io, dbPath, err)
	}
	e.store = st

	return e, nil
}

// Store returns the engine's underlying document store, so a caller that
// already has an Engine open doesn't need a second FileStorage instance
// contending for the same WAL file (pkg/kotadb wires the facade's Storage
// surface around this instead of calling storage.Open a second time).
func (e *Engine) Store() *storage.FileStorage {
	return e.store
}

// Reader returns the engine's binary symbol reader, or nil if symbols.kota
// wasn't present at New. Exposed so a caller sharing the engine's store
// (pkg/kotadb) can close the reader itself without also double-closing the
// shared store via Close.
func (e *Engine) Reader() *symbol.Reader {
	return e.reader
}

// Close releases the engine's open resources.
func (e *Engine) Close() error {
	var err error
	if e.reader != nil {
		if cerr := e.reader.Close(); cerr != nil {
			err = cerr
		}
	}
	if e.store != nil {
		if cerr := e.store.Close(); cerr != nil {
			err = cerr
		}
	}
	return err
}

// RelationshipMatch is one caller/dependent found by a query.
type RelationshipMatch struct {
	SymbolName    string
	QualifiedName string
	SymbolType    symbol.Kind
	FilePath      string
	Line          uint32
	Relation      depgraph.Relation
	Context       string
}

// Stats summarizes one query's cost and result shape.
type Stats struct {
	DirectCount     int
	IndirectCount   int
	SymbolsAnalyzed int
	ExecutionTimeMs float64
	Truncated       bool
}

// Result is the outcome of a FindCallers or ImpactAnalysis query.
type Result struct {
	Matches []RelationshipMatch
	Stats   Stats
}

// LimitResults trims r's matches to n, preserving discovery order, and
// adjusts DirectCount/IndirectCount to match (direct matches are kept
// first). It reports whether the result was truncated by the trim.
func (r Result) LimitResults(n int) Result {
	if n < 0 || len(r.Matches) <= n {
		return r
	}

	trimmed := append([]RelationshipMatch(nil), r.Matches[:n]...)
	direct := r.Stats.DirectCount
	if direct > n {
		direct = n
	}

	out := r
	out.Matches = trimmed
	out.Stats.DirectCount = direct
	out.Stats.IndirectCount = len(trimmed) - direct
	out.Stats.Truncated = true
	return out
}

func qualifiedSimpleName(qualified string) string {
	if idx := strings.LastIndex(qualified, "::"); idx >= 0 {
		return qualified[idx+2:]
	}
	return qualified
}

func warnIfSlow(logger zerolog.Logger, op string, elapsed time.Duration) {
	if elapsed > 10*time.Millisecond {
		logger.Warn().Str("op", op).Dur("elapsed", elapsed).Msg("engine: query exceeded 10ms latency budget")
	}
}
