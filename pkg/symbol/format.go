package symbol

import (
	"encoding/binary"
	"fmt"

	"github.com/kotadb/kotadb/pkg/kotaerr"
)

// magic identifies a symbols.kota file. version is bumped on any
// incompatible layout change.
const (
	magic         = "KOTASYMB"
	formatVersion = uint32(1)
)

// recordSize is the fixed, on-disk size of one symbol record:
//
//	id          16B
//	kind         1B
//	_pad         3B
//	name_off     4B
//	name_len     4B
//	path_off     4B
//	path_len     4B
//	start_line   4B
//	end_line     4B
//	parent_id   16B
const recordSize = 16 + 1 + 3 + 4 + 4 + 4 + 4 + 4 + 4 + 16

const (
	recOffID        = 0
	recOffKind      = 16
	recOffNameOff   = 20
	recOffNameLen   = 24
	recOffPathOff   = 28
	recOffPathLen   = 32
	recOffStartLine = 36
	recOffEndLine   = 40
	recOffParentID  = 44
)

// minHeaderSize is the smallest a well-formed file can be: magic + version +
// count + two zero-length table length prefixes.
const minHeaderSize = 8 + 4 + 8 + 4 + 4

func encodeRecord(buf []byte, rec rawRecord) {
	copy(buf[recOffID:recOffID+16], rec.id[:])
	buf[recOffKind] = rec.kind
	binary.LittleEndian.PutUint32(buf[recOffNameOff:], rec.nameOff)
	binary.LittleEndian.PutUint32(buf[recOffNameLen:], rec.nameLen)
	binary.LittleEndian.PutUint32(buf[recOffPathOff:], rec.pathOff)
	binary.LittleEndian.PutUint32(buf[recOffPathLen:], rec.pathLen)
	binary.LittleEndian.PutUint32(buf[recOffStartLine:], rec.startLine)
	binary.LittleEndian.PutUint32(buf[recOffEndLine:], rec.endLine)
	copy(buf[recOffParentID:recOffParentID+16], rec.parentID[:])
}

type rawRecord struct {
	id        [16]byte
	kind      uint8
	nameOff   uint32
	nameLen   uint32
	pathOff   uint32
	pathLen   uint32
	startLine uint32
	endLine   uint32
	parentID  [16]byte // all-zero = no parent
}

func decodeRecord(buf []byte) rawRecord {
	var rec rawRecord
	copy(rec.id[:], buf[recOffID:recOffID+16])
	rec.kind = buf[recOffKind]
	rec.nameOff = binary.LittleEndian.Uint32(buf[recOffNameOff:])
	rec.nameLen = binary.LittleEndian.Uint32(buf[recOffNameLen:])
	rec.pathOff = binary.LittleEndian.Uint32(buf[recOffPathOff:])
	rec.pathLen = binary.LittleEndian.Uint32(buf[recOffPathLen:])
	rec.startLine = binary.LittleEndian.Uint32(buf[recOffStartLine:])
	rec.endLine = binary.LittleEndian.Uint32(buf[recOffEndLine:])
	copy(rec.parentID[:], buf[recOffParentID:recOffParentID+16])
	return rec
}

// boundsCheckTableRef verifies off/length describe a valid slice of a table
// of size tableLen. Every reader access must go through this: spec.md §4.5
// requires a hard error on any out-of-range offset/length.
func boundsCheckTableRef(off, length, tableLen uint32) error {
	if uint64(off)+uint64(length) > uint64(tableLen) {
		return fmt.Errorf("table reference [%d:%d+%d] exceeds table length %d: %w", off, off, length, tableLen, kotaerr.ErrCorruption)
	}
	return nil
}
