package parser

import (
	"crypto/sha256"
	"fmt"

	"github.com/google/uuid"

	"github.com/kotadb/kotadb/pkg/symbol"
	"github.com/kotadb/kotadb/pkg/validated"
)

// SymbolID derives a deterministic id for a declaration from its identity
// tuple, so re-extracting an unchanged file reproduces the same graph node
// id across runs. parentID is the empty string for file-level declarations.
//
// The hash is coerced into the shape of a v4 UUID (version nibble 4,
// variant bits 10) purely so every id in the system, deterministic or
// randomly generated, round-trips through validated.DocumentID the same
// way; the value itself carries no randomness.
func SymbolID(filePath, parentID, name string, kind symbol.Kind, startLine, startColumn uint32) validated.DocumentID {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%d\x00%d\x00%d", filePath, parentID, name, kind, startLine, startColumn)
	sum := h.Sum(nil)

	var b [16]byte
	copy(b[:], sum[:16])
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80

	id, err := validated.NewDocumentID(uuid.UUID(b))
	if err != nil {
		// b can only collide with uuid.Nil with probability 2^-122; if it
		// somehow does, flip a bit rather than propagate a hash-specific
		// zero value as an error callers have no way to act on.
		b[0] ^= 0x01
		id, _ = validated.NewDocumentID(uuid.UUID(b))
	}
	return id
}
