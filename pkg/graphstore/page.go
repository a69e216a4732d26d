package graphstore

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/rs/zerolog"

	"github.com/kotadb/kotadb/pkg/fs"
)

// pageMagic identifies a graph page file (spec.md §6: "KOTGRAPH" magic).
var pageMagic = [8]byte{'K', 'O', 'T', 'G', 'R', 'A', 'P', 'H'}

// pageHeaderSize is magic(8) + pageID(4) + recordCount(4) + freeOffset(4) +
// crc32(4) of the record body.
const pageHeaderSize = 8 + 4 + 4 + 4 + 4

var pageCRCTable = crc32.MakeTable(crc32.Castagnoli)

// writePage serializes records (each pre-encoded as a JSON payload) into a
// single page file: header, then one [u32 LE size][payload] per record.
func writePage(writer *fs.AtomicWriter, path string, payloads [][]byte) error {
	var body bytes.Buffer
	for _, p := range payloads {
		var size [4]byte
		binary.LittleEndian.PutUint32(size[:], uint32(len(p)))
		body.Write(size[:])
		body.Write(p)
	}

	var header bytes.Buffer
	header.Write(pageMagic[:])

	var pageID, recordCount, freeOffset, crc [4]byte
	binary.LittleEndian.PutUint32(pageID[:], 0)
	binary.LittleEndian.PutUint32(recordCount[:], uint32(len(payloads)))
	binary.LittleEndian.PutUint32(freeOffset[:], uint32(pageHeaderSize+body.Len()))
	binary.LittleEndian.PutUint32(crc[:], crc32.Checksum(body.Bytes(), pageCRCTable))
	header.Write(pageID[:])
	header.Write(recordCount[:])
	header.Write(freeOffset[:])
	header.Write(crc[:])

	var out bytes.Buffer
	out.Write(header.Bytes())
	out.Write(body.Bytes())

	return writer.WriteWithDefaults(path, bytes.NewReader(out.Bytes()))
}

// readPage validates a page's header and CRC and returns its raw record
// payloads. A magic or CRC mismatch is not an error: per spec.md §6 the page
// is skipped with a warning and treated as empty, since a checkpoint is
// always reproducible from the WAL plus the surviving pages.
func readPage(fsys fs.FS, path string, logger zerolog.Logger) ([][]byte, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	if len(data) < pageHeaderSize {
		logger.Warn().Str("file", path).Msg("graphstore: skipping truncated page")
		return nil, nil
	}
	if !bytes.Equal(data[:8], pageMagic[:]) {
		logger.Warn().Str("file", path).Msg("graphstore: skipping page with bad magic")
		return nil, nil
	}

	recordCount := binary.LittleEndian.Uint32(data[12:16])
	wantCRC := binary.LittleEndian.Uint32(data[20:24])
	body := data[pageHeaderSize:]

	if crc32.Checksum(body, pageCRCTable) != wantCRC {
		logger.Warn().Str("file", path).Msg("graphstore: skipping page with crc32 mismatch")
		return nil, nil
	}

	payloads := make([][]byte, 0, recordCount)
	offset := 0
	for offset < len(body) {
		if len(body)-offset < 4 {
			logger.Warn().Str("file", path).Msg("graphstore: skipping trailing partial record")
			break
		}
		size := binary.LittleEndian.Uint32(body[offset : offset+4])
		offset += 4
		if offset+int(size) > len(body) {
			logger.Warn().Str("file", path).Msg("graphstore: skipping trailing partial record")
			break
		}
		payloads = append(payloads, body[offset:offset+int(size)])
		offset += int(size)
	}

	return payloads, nil
}

func writeNodePage(writer *fs.AtomicWriter, path string, nodes []NodeRecord) error {
	payloads := make([][]byte, 0, len(nodes))
	for _, n := range nodes {
		p, err := json.Marshal(toWireNode(n))
		if err != nil {
			return fmt.Errorf("marshaling node page record: %w", err)
		}
		payloads = append(payloads, p)
	}
	return writePage(writer, path, payloads)
}

func writeEdgePage(writer *fs.AtomicWriter, path string, edges []EdgeRecord) error {
	payloads := make([][]byte, 0, len(edges))
	for _, e := range edges {
		p, err := json.Marshal(toWireEdge(e))
		if err != nil {
			return fmt.Errorf("marshaling edge page record: %w", err)
		}
		payloads = append(payloads, p)
	}
	return writePage(writer, path, payloads)
}

func readNodePage(fsys fs.FS, path string, logger zerolog.Logger) ([]NodeRecord, error) {
	payloads, err := readPage(fsys, path, logger)
	if err != nil {
		return nil, err
	}

	recs := make([]NodeRecord, 0, len(payloads))
	for _, p := range payloads {
		var w wireNode
		if err := json.Unmarshal(p, &w); err != nil {
			logger.Warn().Str("file", path).Err(err).Msg("graphstore: skipping corrupt node record")
			continue
		}
		n, err := fromWireNode(w)
		if err != nil {
			logger.Warn().Str("file", path).Err(err).Msg("graphstore: skipping node record with invalid id")
			continue
		}
		recs = append(recs, n)
	}
	return recs, nil
}

func readEdgePage(fsys fs.FS, path string, logger zerolog.Logger) ([]EdgeRecord, error) {
	payloads, err := readPage(fsys, path, logger)
	if err != nil {
		return nil, err
	}

	recs := make([]EdgeRecord, 0, len(payloads))
	for _, p := range payloads {
		var w wireEdge
		if err := json.Unmarshal(p, &w); err != nil {
			logger.Warn().Str("file", path).Err(err).Msg("graphstore: skipping corrupt edge record")
			continue
		}
		e, err := fromWireEdge(w)
		if err != nil {
			logger.Warn().Str("file", path).Err(err).Msg("graphstore: skipping edge record with invalid id")
			continue
		}
		recs = append(recs, e)
	}
	return recs, nil
}
