package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kotadb/kotadb/pkg/depgraph"
	"github.com/kotadb/kotadb/pkg/kotaerr"
	"github.com/kotadb/kotadb/pkg/parser"
)

// ensureDependencyGraph returns the cached graph, extracting it on demand
// from storage if it isn't cached yet. Concurrent callers against a
// missing graph are deduplicated by extractGroup so exactly one extraction
// runs at a time for this engine instance (spec.md §5).
func (e *Engine) ensureDependencyGraph(ctx context.Context) (*depgraph.Graph, error) {
	e.graphMu.RLock()
	g := e.graph
	e.graphMu.RUnlock()
	if g != nil {
		return g, nil
	}

	v, err, _ := e.extractGroup.Do(e.dbPath, func() (interface{}, error) {
		e.graphMu.RLock()
		g := e.graph
		e.graphMu.RUnlock()
		if g != nil {
			return g, nil
		}

		built, err := e.extractOnDemand(ctx)
		if err != nil {
			return nil, err
		}

		e.graphMu.Lock()
		e.graph = built
		e.graphMu.Unlock()
		return built, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*depgraph.Graph), nil
}

// extractOnDemand collects allow-listed source files from storage, runs the
// extractor over each, builds a fresh graph, and caches it to
// dependency_graph.bin on a best-effort basis (a save failure doesn't fail
// the query — the graph still answers queries from memory).
func (e *Engine) extractOnDemand(ctx context.Context) (*depgraph.Graph, error) {
	const op = "engine.extractOnDemand"

	docs, err := e.store.ListAll(ctx)
	if err != nil {
		return nil, kotaerr.New(op, kotaerr.Io, e.dbPath, err)
	}

	var analyses []parser.DependencyAnalysis
	for _, doc := range docs {
		if ctx.Err() != nil {
			return nil, kotaerr.New(op, kotaerr.Timeout, e.dbPath, ctx.Err())
		}

		path := doc.Path.String()
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
		if !allowedExtractExtensions[ext] {
			continue
		}
		if len(doc.Content) > maxExtractFileBytes {
			continue
		}

		language, ok := parser.LanguageForExtension(ext)
		if !ok {
			continue
		}

		analysis, err := parser.Extract(ctx, normalizeRepoPath(path), language, doc.Content)
		if err != nil {
			e.logger.Warn().Str("path", path).Err(err).Msg("engine: skipping file that failed extraction")
			continue
		}
		analyses = append(analyses, *analysis)
	}

	if len(analyses) == 0 {
		return nil, kotaerr.New(op, kotaerr.Unavailable, e.dbPath, fmt.Errorf("no source files found for relationship extraction"))
	}

	g := depgraph.Build(analyses)

	graphPath := filepath.Join(e.dbPath, graphFileName)
	if err := depgraph.Save(e.fsys, graphPath, g); err != nil {
		e.logger.Warn().Str("path", graphPath).Err(err).Msg("engine: failed to cache extracted dependency graph")
	}

	return g, nil
}

// normalizeRepoPath cleans a stored document path into the repo-relative
// form the extractor's qualified-name scheme expects.
func normalizeRepoPath(p string) string {
	cleaned := filepath.ToSlash(filepath.Clean(p))
	cleaned = strings.TrimPrefix(cleaned, "/")
	cleaned = strings.TrimPrefix(cleaned, "./")
	return cleaned
}
