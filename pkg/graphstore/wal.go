package graphstore

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"sync"

	"github.com/kotadb/kotadb/pkg/fs"
)

// walOpKind tags the kind of logical operation recorded in a WAL entry.
type walOpKind string

const (
	opNodeInsert walOpKind = "node_insert"
	opNodeUpdate walOpKind = "node_update"
	opNodeDelete walOpKind = "node_delete"
	opEdgeInsert walOpKind = "edge_insert"
	opEdgeDelete walOpKind = "edge_delete"
	opCheckpoint walOpKind = "checkpoint"
)

// walEntry is the JSON payload of one WAL frame, replayed in order on Open.
type walEntry struct {
	Kind   walOpKind `json:"kind"`
	Node   wireNode  `json:"node,omitempty"`
	NodeID string    `json:"node_id,omitempty"`
	Edge   wireEdge  `json:"edge,omitempty"`
	FromID string    `json:"from_id,omitempty"`
	ToID   string    `json:"to_id,omitempty"`
}

var walCRCTable = crc32.MakeTable(crc32.Castagnoli)

// walLog is an append-only, size-prefixed, CRC-checked frame log, the same
// layout as pkg/storage's WAL: [u64 LE frameLen][frameLen bytes JSON][u32 LE
// crc32C(frame bytes)]. A corrupt or truncated trailing frame is dropped and
// everything before it is kept.
type walLog struct {
	mu           sync.Mutex
	fsys         fs.FS
	path         string
	file         fs.File
	bytesWritten int64
}

func openWAL(fsys fs.FS, path string) (*walLog, []walEntry, error) {
	entries, truncateAt, err := replayWAL(fsys, path)
	if err != nil {
		return nil, nil, err
	}

	if truncateAt >= 0 {
		if err := truncateWALFile(fsys, path, truncateAt); err != nil {
			return nil, nil, fmt.Errorf("truncating graph wal at corrupt frame: %w", err)
		}
	}

	file, err := fsys.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening graph wal: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, nil, fmt.Errorf("stat graph wal: %w", err)
	}

	return &walLog{fsys: fsys, path: path, file: file, bytesWritten: info.Size()}, entries, nil
}

// maxWALFrameBytes bounds a single frame so a corrupt length prefix can't
// trigger an unbounded read.
const maxWALFrameBytes = 64 << 20

func replayWAL(fsys fs.FS, path string) ([]walEntry, int64, error) {
	exists, err := fsys.Exists(path)
	if err != nil {
		return nil, -1, fmt.Errorf("checking graph wal existence: %w", err)
	}
	if !exists {
		return nil, -1, nil
	}

	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, -1, fmt.Errorf("reading graph wal: %w", err)
	}

	var entries []walEntry
	offset := int64(0)

	for offset < int64(len(data)) {
		if len(data)-int(offset) < 8 {
			return entries, offset, nil
		}

		frameLen := binary.LittleEndian.Uint64(data[offset : offset+8])
		bodyStart := offset + 8
		bodyEnd := bodyStart + int64(frameLen)
		crcEnd := bodyEnd + 4

		if frameLen > maxWALFrameBytes || crcEnd > int64(len(data)) {
			return entries, offset, nil
		}

		body := data[bodyStart:bodyEnd]
		wantCRC := binary.LittleEndian.Uint32(data[bodyEnd:crcEnd])
		if crc32.Checksum(body, walCRCTable) != wantCRC {
			return entries, offset, nil
		}

		var entry walEntry
		if err := json.Unmarshal(body, &entry); err != nil {
			return entries, offset, nil
		}

		entries = append(entries, entry)
		offset = crcEnd
	}

	return entries, -1, nil
}

func truncateWALFile(fsys fs.FS, path string, size int64) error {
	f, err := fsys.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	tr, ok := f.(interface{ Truncate(int64) error })
	if !ok {
		return fmt.Errorf("graphstore: wal file does not support truncate")
	}
	return tr.Truncate(size)
}

func (w *walLog) append(entry walEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling graph wal entry: %w", err)
	}

	var buf bytes.Buffer
	var lenPrefix [8]byte
	binary.LittleEndian.PutUint64(lenPrefix[:], uint64(len(body)))
	buf.Write(lenPrefix[:])
	buf.Write(body)

	var crcSuffix [4]byte
	binary.LittleEndian.PutUint32(crcSuffix[:], crc32.Checksum(body, walCRCTable))
	buf.Write(crcSuffix[:])

	w.mu.Lock()
	defer w.mu.Unlock()

	n, err := w.file.Write(buf.Bytes())
	if err != nil {
		return fmt.Errorf("appending graph wal frame: %w", err)
	}
	w.bytesWritten += int64(n)
	return nil
}

// truncate empties the WAL after its contents have been checkpointed into
// fresh page files.
func (w *walLog) truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.Close(); err != nil {
		return fmt.Errorf("closing graph wal before truncate: %w", err)
	}

	f, err := w.fsys.OpenFile(w.path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("reopening graph wal after truncate: %w", err)
	}
	w.file = f
	w.bytesWritten = 0
	return nil
}

func (w *walLog) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
