package symbol

import (
	"bytes"
	"encoding/binary"

	"github.com/kotadb/kotadb/pkg/fs"
)

// interner deduplicates strings into one append-only buffer, separating
// entries with a NUL byte per spec.md §6's table layout. Offset/length
// pairs recorded for each string are self-sufficient for slicing the
// buffer regardless of the separators.
type interner struct {
	buf     []byte
	offsets map[string]uint32
}

func newInterner() *interner {
	return &interner{offsets: make(map[string]uint32)}
}

func (in *interner) intern(s string) (off, length uint32) {
	if existing, ok := in.offsets[s]; ok {
		return existing, uint32(len(s))
	}

	off = uint32(len(in.buf))
	in.buf = append(in.buf, s...)
	in.buf = append(in.buf, 0)
	in.offsets[s] = off
	return off, uint32(len(s))
}

// Write serializes symbols to path as a complete symbols.kota file,
// overwriting any existing file atomically.
func Write(fsys fs.FS, path string, symbols []Symbol) error {
	names := newInterner()
	paths := newInterner()

	records := make([]rawRecord, len(symbols))
	for i, s := range symbols {
		nameOff, nameLen := names.intern(s.Name)
		pathOff, pathLen := paths.intern(s.Path)

		var parentID [16]byte
		if s.ParentID != nil {
			parentID = [16]byte(s.ParentID.UUID())
		}

		records[i] = rawRecord{
			id:        [16]byte(s.ID.UUID()),
			kind:      uint8(s.Kind),
			nameOff:   nameOff,
			nameLen:   nameLen,
			pathOff:   pathOff,
			pathLen:   pathLen,
			startLine: s.StartLine,
			endLine:   s.EndLine,
			parentID:  parentID,
		}
	}

	var buf bytes.Buffer
	buf.WriteString(magic)

	var u32 [4]byte
	var u64 [8]byte

	binary.LittleEndian.PutUint32(u32[:], formatVersion)
	buf.Write(u32[:])

	binary.LittleEndian.PutUint64(u64[:], uint64(len(symbols)))
	buf.Write(u64[:])

	binary.LittleEndian.PutUint32(u32[:], uint32(len(names.buf)))
	buf.Write(u32[:])
	buf.Write(names.buf)

	binary.LittleEndian.PutUint32(u32[:], uint32(len(paths.buf)))
	buf.Write(u32[:])
	buf.Write(paths.buf)

	recBuf := make([]byte, recordSize)
	for _, r := range records {
		encodeRecord(recBuf, r)
		buf.Write(recBuf)
	}

	writer := fs.NewAtomicWriter(fsys)
	return writer.WriteWithDefaults(path, bytes.NewReader(buf.Bytes()))
}
