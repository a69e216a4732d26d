// Package storage implements KotaDB's page-backed document store: durable
// insert/get/update/delete/list_all/sync/flush/close over [document.Document]
// values, with an append-only WAL for crash recovery (spec.md §4.2).
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/kotadb/kotadb/pkg/document"
	"github.com/kotadb/kotadb/pkg/fs"
	"github.com/kotadb/kotadb/pkg/kotaerr"
	"github.com/kotadb/kotadb/pkg/validated"
	"github.com/rs/zerolog"
)

// Config configures a FileStorage instance.
type Config struct {
	// RotateAtBytes is the WAL size threshold that triggers a checkpoint +
	// rotation. Zero disables size-based rotation.
	RotateAtBytes int64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{RotateAtBytes: 64 << 20}
}

const (
	pagesDirName    = "pages"
	metaDirName     = "meta"
	walDirName      = "wal"
	walFileName     = "wal.log"
	walLockFileName = "wal.lock"
)

// lockTimeout bounds how long a WAL operation waits to acquire the
// cross-process file lock before giving up.
const lockTimeout = 10 * time.Second

// FileStorage is the raw, page-backed document store. It is the innermost
// component in the standard wrapper stack (spec.md §4.10); tracing,
// validation, retry, caching, and buffering are added by pkg/wrappers, not
// here.
type FileStorage struct {
	mu     sync.RWMutex
	fsys   fs.FS
	writer *fs.AtomicWriter
	locker *fs.Locker
	logger zerolog.Logger

	root     string
	pagesDir string
	metaDir  string
	lockPath string // dedicated flock target, distinct from the WAL file rotate() replaces

	wal *wal
	cfg Config

	docs map[string]document.Document // key: DocumentID string
}

// Open opens or creates a FileStorage rooted at dbPath/storage, replaying
// its WAL per spec.md §4.2/§8.
func Open(fsys fs.FS, dbPath string, cfg Config, logger zerolog.Logger) (*FileStorage, error) {
	const op = "storage.Open"

	root := filepath.Join(dbPath, "storage")
	pagesDir := filepath.Join(root, pagesDirName)
	metaDir := filepath.Join(root, metaDirName)
	walDir := filepath.Join(root, walDirName)

	for _, dir := range []string{pagesDir, metaDir, walDir} {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return nil, kotaerr.New(op, kotaerr.Io, dir, err)
		}
	}

	s := &FileStorage{
		fsys:     fsys,
		writer:   fs.NewAtomicWriter(fsys),
		locker:   fs.NewLocker(fsys),
		logger:   logger,
		root:     root,
		pagesDir: pagesDir,
		metaDir:  metaDir,
		lockPath: filepath.Join(walDir, walLockFileName),
		cfg:      cfg,
		docs:     make(map[string]document.Document),
	}

	if err := s.loadCheckpoint(); err != nil {
		return nil, kotaerr.New(op, kotaerr.Io, dbPath, err)
	}

	// Hold the cross-process WAL lock across open+replay so a concurrent
	// writer elsewhere can't append while this process is reading the log.
	lock, err := s.locker.LockWithTimeout(s.lockPath, lockTimeout)
	if err != nil {
		return nil, kotaerr.New(op, kotaerr.Io, s.lockPath, err)
	}

	walPath := filepath.Join(walDir, walFileName)
	w, ops, err := openWAL(fsys, walPath, cfg.RotateAtBytes)
	closeErr := lock.Close()
	if err != nil {
		return nil, kotaerr.New(op, kotaerr.Io, walPath, err)
	}
	if closeErr != nil {
		return nil, kotaerr.New(op, kotaerr.Io, s.lockPath, closeErr)
	}
	s.wal = w

	for _, o := range ops {
		s.applyReplayedOp(o)
	}

	return s, nil
}

// loadCheckpoint reads the materialized meta/*.json baseline written by the
// most recent checkpoint (rotate), before WAL replay layers on more recent
// operations.
func (s *FileStorage) loadCheckpoint() error {
	entries, err := s.fsys.ReadDir(s.metaDir)
	if err != nil {
		return fmt.Errorf("reading meta dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		data, err := s.fsys.ReadFile(filepath.Join(s.metaDir, entry.Name()))
		if err != nil {
			return fmt.Errorf("reading meta file %q: %w", entry.Name(), err)
		}

		var dto walDocDTO
		if err := json.Unmarshal(data, &dto); err != nil {
			s.logger.Warn().Str("file", entry.Name()).Err(err).Msg("storage: skipping corrupt meta file")
			continue
		}

		content, err := s.fsys.ReadFile(s.pagePath(dto.ID))
		if err != nil {
			s.logger.Warn().Str("id", dto.ID).Err(err).Msg("storage: meta file has no matching page file")
			continue
		}
		dto.Content = content

		doc, err := fromDTO(dto)
		if err != nil {
			s.logger.Warn().Str("id", dto.ID).Err(err).Msg("storage: skipping corrupt document")
			continue
		}

		s.docs[dto.ID] = doc
	}

	return nil
}

func (s *FileStorage) applyReplayedOp(o walOp) {
	switch o.Kind {
	case walInsert, walUpdate:
		if o.Doc == nil {
			return
		}
		doc, err := fromDTO(*o.Doc)
		if err != nil {
			s.logger.Warn().Str("id", o.ID).Err(err).Msg("storage: skipping corrupt wal op on replay")
			return
		}
		s.docs[o.ID] = doc
	case walDelete:
		delete(s.docs, o.ID)
	}
}

func (s *FileStorage) pagePath(id string) string { return filepath.Join(s.pagesDir, id+".page") }
func (s *FileStorage) metaPath(id string) string  { return filepath.Join(s.metaDir, id+".json") }

// Insert durably adds doc. Fails with Conflict if doc.ID already exists.
func (s *FileStorage) Insert(ctx context.Context, doc document.Document) error {
	const op = "storage.Insert"
	if err := ctx.Err(); err != nil {
		return kotaerr.New(op, kotaerr.Timeout, doc.ID.String(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := doc.ID.String()
	if _, exists := s.docs[id]; exists {
		return kotaerr.New(op, kotaerr.Conflict, id, nil)
	}

	if err := s.writeOp(walInsert, id, doc); err != nil {
		return kotaerr.New(op, kotaerr.Io, id, err)
	}

	s.docs[id] = doc
	return nil
}

// Get returns doc, true if present, or zero-value, false otherwise.
func (s *FileStorage) Get(ctx context.Context, id validated.DocumentID) (document.Document, bool, error) {
	if err := ctx.Err(); err != nil {
		return document.Document{}, false, kotaerr.New("storage.Get", kotaerr.Timeout, id.String(), err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[id.String()]
	return doc, ok, nil
}

// Update replaces doc in place. doc.ID must already exist.
func (s *FileStorage) Update(ctx context.Context, doc document.Document) error {
	const op = "storage.Update"
	if err := ctx.Err(); err != nil {
		return kotaerr.New(op, kotaerr.Timeout, doc.ID.String(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := doc.ID.String()
	existing, ok := s.docs[id]
	if !ok {
		return kotaerr.New(op, kotaerr.NotFound, id, nil)
	}

	doc.Timestamps = existing.Timestamps.Bump(time.Now())

	if err := s.writeOp(walUpdate, id, doc); err != nil {
		return kotaerr.New(op, kotaerr.Io, id, err)
	}

	s.docs[id] = doc
	return nil
}

// Delete removes id, returning whether it existed.
func (s *FileStorage) Delete(ctx context.Context, id validated.DocumentID) (bool, error) {
	const op = "storage.Delete"
	if err := ctx.Err(); err != nil {
		return false, kotaerr.New(op, kotaerr.Timeout, id.String(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := id.String()
	if _, ok := s.docs[key]; !ok {
		return false, nil
	}

	if err := s.appendWAL(walOp{Kind: walDelete, ID: key}); err != nil {
		return false, kotaerr.New(op, kotaerr.Io, key, err)
	}

	delete(s.docs, key)
	_ = s.fsys.Remove(s.pagePath(key))
	_ = s.fsys.Remove(s.metaPath(key))

	s.maybeRotate()

	return true, nil
}

// ListAll returns a stable snapshot of every live document.
func (s *FileStorage) ListAll(ctx context.Context) ([]document.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, kotaerr.New("storage.ListAll", kotaerr.Timeout, "", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]document.Document, 0, len(s.docs))
	for _, d := range s.docs {
		out = append(out, d)
	}
	return out, nil
}

// Sync makes all prior successful writes durable.
func (s *FileStorage) Sync(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return kotaerr.New("storage.Sync", kotaerr.Timeout, "", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.wal.sync(); err != nil {
		return kotaerr.New("storage.Sync", kotaerr.Io, "", err)
	}
	return nil
}

// Flush applies pending buffered writes. FileStorage materializes writes
// eagerly (buffering is the Buffered wrapper's responsibility, spec.md
// §4.10), so Flush is a no-op here beyond honoring cancellation.
func (s *FileStorage) Flush(ctx context.Context) error {
	return ctx.Err()
}

// Close syncs and releases all resources.
func (s *FileStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	syncErr := s.wal.sync()
	closeErr := s.wal.close()
	if syncErr != nil {
		return syncErr
	}
	return closeErr
}

// writeOp appends a WAL frame and materializes the page/meta files for doc.
// Caller must hold s.mu.
func (s *FileStorage) writeOp(kind walOpKind, id string, doc document.Document) error {
	dto := toDTO(doc)
	if err := s.appendWAL(walOp{Kind: kind, ID: id, Doc: &dto}); err != nil {
		return err
	}

	if err := s.writer.WriteWithDefaults(s.pagePath(id), bytes.NewReader(doc.Content)); err != nil {
		return fmt.Errorf("writing page file: %w", err)
	}

	metaDTO := dto
	metaDTO.Content = nil
	metaBytes, err := json.Marshal(metaDTO)
	if err != nil {
		return fmt.Errorf("marshaling meta: %w", err)
	}
	if err := s.writer.WriteWithDefaults(s.metaPath(id), bytes.NewReader(metaBytes)); err != nil {
		return fmt.Errorf("writing meta file: %w", err)
	}

	s.maybeRotate()

	return nil
}

// appendWAL appends op to the WAL under the cross-process WAL lock, so a
// sibling process's reader/writer never observes a partially written frame.
func (s *FileStorage) appendWAL(op walOp) error {
	lock, err := s.locker.LockWithTimeout(s.lockPath, lockTimeout)
	if err != nil {
		return fmt.Errorf("acquiring wal lock: %w", err)
	}
	defer lock.Close()

	return s.wal.append(op)
}

// maybeRotate checkpoints and truncates the WAL once it crosses the
// configured size threshold. Caller must hold s.mu. Rotation itself closes
// and reopens the WAL file, so it also runs under the cross-process lock.
func (s *FileStorage) maybeRotate() {
	if !s.wal.shouldRotate() {
		return
	}

	lock, err := s.locker.LockWithTimeout(s.lockPath, lockTimeout)
	if err != nil {
		s.logger.Warn().Err(err).Msg("storage: acquiring wal lock for rotation failed, continuing with current wal")
		return
	}
	defer lock.Close()

	if err := s.wal.rotate(); err != nil {
		s.logger.Warn().Err(err).Msg("storage: wal rotation failed, continuing with current wal")
	}
}
