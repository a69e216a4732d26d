package symbol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"syscall"

	"github.com/google/uuid"
	"github.com/kotadb/kotadb/pkg/fs"
	"github.com/kotadb/kotadb/pkg/kotaerr"
	"github.com/kotadb/kotadb/pkg/validated"
)

// Reader is an opened, memory-mapped symbols.kota file.
//
// It exposes O(1)-ish access by record index, O(1) average lookup by id
// via an in-memory hash side-table built at Open, and a linear scan for
// lookup by name. All offsets into the interned name/path tables are
// bounds-checked on every access per spec.md §4.5.
type Reader struct {
	file fs.File
	data []byte

	namesTable []byte
	pathsTable []byte

	recordsOffset int
	count         uint64

	idIndex map[string]int // canonical uuid string -> record index
}

// Open memory-maps path read-only; there is no fallback to reading the
// file, so an mmap failure is returned as an Io error. Fails with
// Corruption if the file is shorter than the header, the magic is wrong,
// or the version is unsupported.
func Open(fsys fs.FS, path string) (*Reader, error) {
	const op = "symbol.Open"

	f, err := fsys.Open(path)
	if err != nil {
		return nil, kotaerr.New(op, kotaerr.Io, path, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, kotaerr.New(op, kotaerr.Io, path, err)
	}

	size := int(info.Size())
	if size < minHeaderSize {
		_ = f.Close()
		return nil, kotaerr.New(op, kotaerr.Corruption, path, fmt.Errorf("file size %d smaller than minimum header %d", size, minHeaderSize))
	}

	data, err := syscall.Mmap(int(f.Fd()), 0, size, syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, kotaerr.New(op, kotaerr.Io, path, fmt.Errorf("mmap: %w", err))
	}

	r, err := parseHeader(data)
	if err != nil {
		_ = syscall.Munmap(data)
		_ = f.Close()
		return nil, kotaerr.New(op, kotaerr.Corruption, path, err)
	}
	r.file = f
	r.data = data

	r.idIndex = make(map[string]int, r.count)
	for i := uint64(0); i < r.count; i++ {
		rec, err := r.rawRecordAt(int(i))
		if err != nil {
			_ = r.Close()
			return nil, kotaerr.New(op, kotaerr.Corruption, path, err)
		}
		r.idIndex[uuid.UUID(rec.id).String()] = int(i)
	}

	return r, nil
}

func parseHeader(data []byte) (*Reader, error) {
	if !bytes.Equal(data[:8], []byte(magic)) {
		return nil, fmt.Errorf("bad magic %q", data[:8])
	}

	version := binary.LittleEndian.Uint32(data[8:12])
	if version != formatVersion {
		return nil, fmt.Errorf("unsupported version %d", version)
	}

	count := binary.LittleEndian.Uint64(data[12:20])

	offset := 20
	if offset+4 > len(data) {
		return nil, fmt.Errorf("truncated names table length")
	}
	namesLen := binary.LittleEndian.Uint32(data[offset:])
	offset += 4
	if offset+int(namesLen) > len(data) {
		return nil, fmt.Errorf("names table length %d exceeds file size", namesLen)
	}
	namesTable := data[offset : offset+int(namesLen)]
	offset += int(namesLen)

	if offset+4 > len(data) {
		return nil, fmt.Errorf("truncated paths table length")
	}
	pathsLen := binary.LittleEndian.Uint32(data[offset:])
	offset += 4
	if offset+int(pathsLen) > len(data) {
		return nil, fmt.Errorf("paths table length %d exceeds file size", pathsLen)
	}
	pathsTable := data[offset : offset+int(pathsLen)]
	offset += int(pathsLen)

	wantRecordsBytes := uint64(offset) + count*uint64(recordSize)
	if wantRecordsBytes > uint64(len(data)) {
		return nil, fmt.Errorf("symbol_count %d implies %d record bytes, file has %d remaining", count, count*uint64(recordSize), len(data)-offset)
	}

	return &Reader{
		namesTable:    namesTable,
		pathsTable:    pathsTable,
		recordsOffset: offset,
		count:         count,
	}, nil
}

// SymbolCount returns the number of symbols in the file.
func (r *Reader) SymbolCount() int { return int(r.count) }

func (r *Reader) rawRecordAt(i int) (rawRecord, error) {
	if i < 0 || uint64(i) >= r.count {
		return rawRecord{}, fmt.Errorf("record index %d out of range [0,%d)", i, r.count)
	}
	start := r.recordsOffset + i*recordSize
	return decodeRecord(r.data[start : start+recordSize]), nil
}

// GetSymbol returns the symbol stored at index, bounds-checking every
// offset/length it references into the interned tables.
func (r *Reader) GetSymbol(index int) (Symbol, error) {
	const op = "symbol.GetSymbol"

	rec, err := r.rawRecordAt(index)
	if err != nil {
		return Symbol{}, kotaerr.New(op, kotaerr.InvalidArgument, "", err)
	}

	return r.toSymbol(rec)
}

func (r *Reader) toSymbol(rec rawRecord) (Symbol, error) {
	const op = "symbol.toSymbol"

	if err := boundsCheckTableRef(rec.nameOff, rec.nameLen, uint32(len(r.namesTable))); err != nil {
		return Symbol{}, kotaerr.New(op, kotaerr.Corruption, "", err)
	}
	if err := boundsCheckTableRef(rec.pathOff, rec.pathLen, uint32(len(r.pathsTable))); err != nil {
		return Symbol{}, kotaerr.New(op, kotaerr.Corruption, "", err)
	}

	name := string(r.namesTable[rec.nameOff : rec.nameOff+rec.nameLen])
	path := string(r.pathsTable[rec.pathOff : rec.pathOff+rec.pathLen])

	id, err := validated.NewDocumentID(uuid.UUID(rec.id))
	if err != nil {
		return Symbol{}, kotaerr.New(op, kotaerr.Corruption, "", err)
	}

	var parentID *validated.DocumentID
	if rec.parentID != ([16]byte{}) {
		p, err := validated.NewDocumentID(uuid.UUID(rec.parentID))
		if err != nil {
			return Symbol{}, kotaerr.New(op, kotaerr.Corruption, "", err)
		}
		parentID = &p
	}

	return Symbol{
		ID:        id,
		Kind:      Kind(rec.kind),
		Name:      name,
		Path:      path,
		StartLine: rec.startLine,
		EndLine:   rec.endLine,
		ParentID:  parentID,
	}, nil
}

// IterSymbols returns every symbol in record order.
func (r *Reader) IterSymbols() ([]Symbol, error) {
	out := make([]Symbol, 0, r.count)
	for i := 0; i < int(r.count); i++ {
		sym, err := r.GetSymbol(i)
		if err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, nil
}

// FindSymbol looks up id via the in-memory hash side-table built at Open.
func (r *Reader) FindSymbol(id validated.DocumentID) (Symbol, bool, error) {
	idx, ok := r.idIndex[id.String()]
	if !ok {
		return Symbol{}, false, nil
	}
	sym, err := r.GetSymbol(idx)
	if err != nil {
		return Symbol{}, false, err
	}
	return sym, true, nil
}

// FindSymbolByName scans records in order and returns the first symbol
// whose name matches.
func (r *Reader) FindSymbolByName(name string) (Symbol, bool, error) {
	for i := 0; i < int(r.count); i++ {
		rec, err := r.rawRecordAt(i)
		if err != nil {
			return Symbol{}, false, kotaerr.New("symbol.FindSymbolByName", kotaerr.Corruption, name, err)
		}
		if err := boundsCheckTableRef(rec.nameOff, rec.nameLen, uint32(len(r.namesTable))); err != nil {
			return Symbol{}, false, kotaerr.New("symbol.FindSymbolByName", kotaerr.Corruption, name, err)
		}
		if string(r.namesTable[rec.nameOff:rec.nameOff+rec.nameLen]) == name {
			sym, err := r.toSymbol(rec)
			if err != nil {
				return Symbol{}, false, err
			}
			return sym, true, nil
		}
	}
	return Symbol{}, false, nil
}

// Close unmaps the file and releases its descriptor.
func (r *Reader) Close() error {
	var mmapErr error
	if r.data != nil {
		mmapErr = syscall.Munmap(r.data)
		r.data = nil
	}

	var closeErr error
	if r.file != nil {
		closeErr = r.file.Close()
		r.file = nil
	}

	if mmapErr != nil {
		return mmapErr
	}
	return closeErr
}
