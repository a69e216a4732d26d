package wrappers

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kotadb/kotadb/pkg/document"
	"github.com/kotadb/kotadb/pkg/kotaerr"
	"github.com/kotadb/kotadb/pkg/validated"
)

// BufferedConfig bounds the in-memory write queue.
type BufferedConfig struct {
	// MaxQueued is the queue capacity; a write that would exceed it blocks
	// until a flush makes room (spec.md §5's back-pressure policy).
	MaxQueued int
	// FlushInterval additionally flushes on a timer, independent of size.
	FlushInterval time.Duration
	Logger        zerolog.Logger
}

// DefaultBufferedConfig returns sensible defaults.
func DefaultBufferedConfig() BufferedConfig {
	return BufferedConfig{MaxQueued: 256, FlushInterval: 200 * time.Millisecond}
}

type bufferedOpKind int

const (
	bufferedInsert bufferedOpKind = iota
	bufferedUpdate
	bufferedDelete
)

type bufferedOp struct {
	kind bufferedOpKind
	id   string
	doc  document.Document
}

// BufferedStorage coalesces insert/update/delete into a bounded in-memory
// queue, flushing on size OR interval. Get serves unflushed writes
// ("read-your-writes") by scanning the buffer in reverse before falling
// through to the inner store; ListAll explicitly does not see
// not-yet-flushed writes and is therefore a potentially stale snapshot,
// per spec.md §4.10/§5.
type BufferedStorage struct {
	inner  Storage
	cfg    BufferedConfig
	mu     sync.Mutex
	notFull *sync.Cond
	queue  []bufferedOp
	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewBufferedStorage wraps inner with a bounded write buffer and starts
// its background flush timer.
func NewBufferedStorage(inner Storage, cfg BufferedConfig) *BufferedStorage {
	if cfg.MaxQueued <= 0 {
		cfg.MaxQueued = 1
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 200 * time.Millisecond
	}

	b := &BufferedStorage{
		inner:  inner,
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}
	b.notFull = sync.NewCond(&b.mu)

	b.ticker = time.NewTicker(cfg.FlushInterval)
	b.wg.Add(1)
	go b.flushLoop()

	return b
}

func (b *BufferedStorage) flushLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ticker.C:
			if err := b.Flush(context.Background()); err != nil {
				b.cfg.Logger.Warn().Err(err).Msg("buffered: periodic flush failed")
			}
		case <-b.stopCh:
			return
		}
	}
}

// enqueue appends op, blocking while the queue is at capacity until a
// flush makes room or ctx is cancelled. The write that fills the queue
// flushes it before returning.
func (b *BufferedStorage) enqueue(ctx context.Context, op bufferedOp) error {
	b.mu.Lock()
	for len(b.queue) >= b.cfg.MaxQueued {
		if ctx.Err() != nil {
			b.mu.Unlock()
			return kotaerr.New("buffered.enqueue", kotaerr.Timeout, op.id, ctx.Err())
		}
		b.notFull.Wait()
	}
	b.queue = append(b.queue, op)
	full := len(b.queue) >= b.cfg.MaxQueued
	b.mu.Unlock()
	if full {
		return b.Flush(ctx)
	}
	return nil
}

func (b *BufferedStorage) Insert(ctx context.Context, doc document.Document) error {
	return b.enqueue(ctx, bufferedOp{kind: bufferedInsert, id: doc.ID.String(), doc: doc})
}

func (b *BufferedStorage) Update(ctx context.Context, doc document.Document) error {
	return b.enqueue(ctx, bufferedOp{kind: bufferedUpdate, id: doc.ID.String(), doc: doc})
}

func (b *BufferedStorage) Delete(ctx context.Context, id validated.DocumentID) (bool, error) {
	_, existed, err := b.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if !existed {
		return false, nil
	}
	if err := b.enqueue(ctx, bufferedOp{kind: bufferedDelete, id: id.String()}); err != nil {
		return false, err
	}
	return true, nil
}

// Get scans the buffered queue in reverse (most recent write wins) before
// falling through to the inner store, so a read immediately following a
// buffered write observes it.
func (b *BufferedStorage) Get(ctx context.Context, id validated.DocumentID) (document.Document, bool, error) {
	key := id.String()

	b.mu.Lock()
	for i := len(b.queue) - 1; i >= 0; i-- {
		op := b.queue[i]
		if op.id != key {
			continue
		}
		b.mu.Unlock()
		switch op.kind {
		case bufferedDelete:
			return document.Document{}, false, nil
		default:
			return op.doc, true, nil
		}
	}
	b.mu.Unlock()

	return b.inner.Get(ctx, id)
}

// ListAll returns the inner store's view only; it may be stale relative to
// unflushed buffered writes (spec.md §4.10 calls this out explicitly).
func (b *BufferedStorage) ListAll(ctx context.Context) ([]document.Document, error) {
	return b.inner.ListAll(ctx)
}

func (b *BufferedStorage) Sync(ctx context.Context) error {
	if err := b.Flush(ctx); err != nil {
		return err
	}
	return b.inner.Sync(ctx)
}

// Flush drains the queue into the inner store in FIFO order and wakes any
// writers blocked on a full queue.
func (b *BufferedStorage) Flush(ctx context.Context) error {
	b.mu.Lock()
	pending := b.queue
	b.queue = nil
	b.notFull.Broadcast()
	b.mu.Unlock()

	for _, op := range pending {
		var err error
		switch op.kind {
		case bufferedInsert:
			err = b.inner.Insert(ctx, op.doc)
		case bufferedUpdate:
			err = b.inner.Update(ctx, op.doc)
		case bufferedDelete:
			id, idErr := validated.NewDocumentIDFromString(op.id)
			if idErr != nil {
				err = idErr
				break
			}
			_, err = b.inner.Delete(ctx, id)
		}
		if err != nil {
			return err
		}
	}
	return b.inner.Flush(ctx)
}

// Close drains then closes the inner store.
func (b *BufferedStorage) Close() error {
	close(b.stopCh)
	b.ticker.Stop()
	b.wg.Wait()

	if err := b.Flush(context.Background()); err != nil {
		return err
	}
	return b.inner.Close()
}
