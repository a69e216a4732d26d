// Package kotadb is the facade spec.md §6 describes: it wires the storage
// engine, the two indices, the hybrid relationship engine, and the legacy
// symbol store together behind one handle, so an adapter (HTTP/MCP/CLI,
// all out of scope here) only ever needs to open one Database and call its
// Storage/Index/RelationshipEngine surfaces.
package kotadb

import (
	"context"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/kotadb/kotadb/pkg/document"
	"github.com/kotadb/kotadb/pkg/engine"
	"github.com/kotadb/kotadb/pkg/fs"
	"github.com/kotadb/kotadb/pkg/index/primary"
	"github.com/kotadb/kotadb/pkg/index/trigram"
	"github.com/kotadb/kotadb/pkg/kotaerr"
	"github.com/kotadb/kotadb/pkg/legacysymbol"
	"github.com/kotadb/kotadb/pkg/storage"
	"github.com/kotadb/kotadb/pkg/validated"
	"github.com/kotadb/kotadb/pkg/wrappers"
)

// Config aggregates every component's configuration under one call to
// Open. Zero-value Registerer gets a private prometheus.Registry, so two
// Databases opened in the same process (e.g. in tests) never collide on
// metric registration.
type Config struct {
	Storage      storage.Config
	Wrappers     wrappers.StorageConfig
	Engine       engine.Config
	Legacy       legacysymbol.Config
	EnableLegacy bool
	Registerer   prometheus.Registerer
}

// DefaultConfig returns the stock composition every component already
// defaults to.
func DefaultConfig() Config {
	return Config{
		Storage:  storage.DefaultConfig(),
		Wrappers: wrappers.DefaultStorageConfig(),
		Engine:   engine.DefaultConfig(),
		Legacy:   legacysymbol.DefaultConfig(),
	}
}

// Database is the facade: one open handle over a <db_path> directory tree
// per spec.md §6's on-disk layout.
type Database struct {
	dbPath string
	fsys   fs.FS
	logger zerolog.Logger

	// Documents is the facade's Storage surface (insert/get/update/delete/
	// list_all/sync/flush/close), composed via wrappers.NewDefaultStorage
	// in the fixed Traced->Validated->Retryable->Cached->Buffered->raw
	// order spec.md §4.10 names.
	Documents wrappers.Storage

	// Paths and Content are the facade's two Index surfaces: primary
	// (id -> path existence/enumeration) and trigram (substring content
	// search), each metered the same way.
	Paths   *wrappers.MeteredPrimaryIndex
	Content *wrappers.MeteredTrigramIndex

	// Relationships is the facade's RelationshipEngine surface
	// (FindCallers/ImpactAnalysis via ExecuteQuery, GetStats).
	Relationships *engine.Engine

	// Legacy is the deprecated JSON-per-symbol store, opened only when
	// Config.EnableLegacy is set; nil otherwise. New callers should prefer
	// the binary symbol format pkg/symbol/pkg/depgraph produce instead.
	Legacy *legacysymbol.Store

	rawStorage *storage.FileStorage
	rawPrimary *primary.Index
	rawTrigram *trigram.Index
}

// Open assembles a Database rooted at dbPath, creating the directory tree
// if it doesn't exist yet.
func Open(dbPath string, cfg Config, logger zerolog.Logger) (*Database, error) {
	const op = "kotadb.Open"

	fsys := fs.NewReal()
	if err := fsys.MkdirAll(dbPath, 0o755); err != nil {
		return nil, kotaerr.New(op, kotaerr.Io, dbPath, err)
	}

	// engine.New opens its own FileStorage rooted at dbPath; reuse that
	// instance for the facade's Storage surface instead of opening a
	// second one, since two FileStorage instances would both try to own
	// the same WAL file.
	eng, err := engine.New(fsys, dbPath, cfg.Engine, logger)
	if err != nil {
		return nil, err
	}
	rawStorage := eng.Store()

	rawPrimary, err := primary.Open(fsys, dbPath)
	if err != nil {
		_ = eng.Close()
		return nil, err
	}

	rawTrigram, err := trigram.Open(fsys, dbPath)
	if err != nil {
		_ = eng.Close()
		_ = rawPrimary.Close()
		return nil, err
	}

	registerer := cfg.Registerer
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	indexMetrics := wrappers.NewIndexMetrics(registerer, "kotadb")

	db := &Database{
		dbPath:        dbPath,
		fsys:          fsys,
		logger:        logger,
		Documents:     wrappers.NewDefaultStorage(rawStorage, cfg.Wrappers, logger),
		Paths:         wrappers.NewMeteredPrimaryIndex(rawPrimary, indexMetrics),
		Content:       wrappers.NewMeteredTrigramIndex(rawTrigram, indexMetrics),
		Relationships: eng,
		rawStorage:    rawStorage,
		rawPrimary:    rawPrimary,
		rawTrigram:    rawTrigram,
	}

	if cfg.EnableLegacy {
		legacy, err := legacysymbol.Open(filepath.Join(dbPath, "legacy"), cfg.Legacy, logger)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		db.Legacy = legacy
	}

	return db, nil
}

// Ingest inserts doc into the document store and both indices as one unit,
// the common case for a document-ingestion adapter: a document is only
// useful once it's both retrievable by id and searchable by path/content.
func (db *Database) Ingest(ctx context.Context, doc document.Document) error {
	if err := db.Documents.Insert(ctx, doc); err != nil {
		return err
	}
	if err := db.Paths.Insert(ctx, doc.ID, doc.Path); err != nil {
		return err
	}
	if err := db.Content.InsertWithContent(ctx, doc.ID, doc.Path, doc.Content); err != nil {
		return err
	}
	return nil
}

// Reingest replaces doc's stored content and both indices' projections of
// it.
func (db *Database) Reingest(ctx context.Context, doc document.Document) error {
	if err := db.Documents.Update(ctx, doc); err != nil {
		return err
	}
	if err := db.Paths.Update(ctx, doc.ID, doc.Path); err != nil {
		return err
	}
	if err := db.Content.UpdateWithContent(ctx, doc.ID, doc.Path, doc.Content); err != nil {
		return err
	}
	return nil
}

// Evict removes a document from storage and both indices, tolerating
// indices that never saw the id (e.g. ingested before indexing was added).
func (db *Database) Evict(ctx context.Context, id validated.DocumentID) (bool, error) {
	existed, err := db.Documents.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	if delErr := db.Paths.Delete(ctx, id); delErr != nil && kotaerr.Of(delErr) != kotaerr.NotFound {
		return existed, delErr
	}
	if delErr := db.Content.Delete(ctx, id); delErr != nil && kotaerr.Of(delErr) != kotaerr.NotFound {
		return existed, delErr
	}
	return existed, nil
}

// Stats folds every component's stats into one snapshot, for an adapter's
// health/debug endpoint.
type Stats struct {
	Engine engine.EngineStats
	Legacy *legacysymbol.Stats
}

// Stats reports a combined snapshot of the engine and, if enabled, the
// legacy store.
func (db *Database) Stats() Stats {
	s := Stats{Engine: db.Relationships.GetStats()}
	if db.Legacy != nil {
		legacyStats := db.Legacy.Stats()
		s.Legacy = &legacyStats
	}
	return s
}

// Sync flushes every component to durable storage.
func (db *Database) Sync(ctx context.Context) error {
	if err := db.Documents.Sync(ctx); err != nil {
		return err
	}
	if err := db.Paths.Sync(ctx); err != nil {
		return err
	}
	return db.Content.Sync(ctx)
}

// Close releases every component's resources. It attempts to close all of
// them even if one fails, returning the first error encountered.
//
// Documents and Relationships share one underlying FileStorage (see Open),
// so only Documents.Close is called for it; the engine's binary symbol
// reader, which Relationships otherwise owns exclusively, is closed
// directly via its Reader accessor instead of Relationships.Close to avoid
// closing that shared store twice.
func (db *Database) Close() error {
	var first error
	record := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	record(db.Documents.Close())
	record(db.Paths.Close())
	record(db.Content.Close())
	if reader := db.Relationships.Reader(); reader != nil {
		record(reader.Close())
	}
	if db.Legacy != nil {
		record(db.Legacy.Close())
	}
	return first
}
