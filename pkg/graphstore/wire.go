package graphstore

import (
	"fmt"

	"github.com/kotadb/kotadb/pkg/depgraph"
	"github.com/kotadb/kotadb/pkg/symbol"
	"github.com/kotadb/kotadb/pkg/validated"
)

// wireNode/wireEdge are the JSON-safe projections of NodeRecord/EdgeRecord.
// validated.DocumentID has no exported fields, so ids round-trip as their
// canonical string form through both the WAL and the page files.
type wireNode struct {
	ID            string `json:"id,omitempty"`
	QualifiedName string `json:"qualified_name,omitempty"`
	SymbolType    uint8  `json:"symbol_type,omitempty"`
	FilePath      string `json:"file_path,omitempty"`
}

type wireEdge struct {
	FromID   string `json:"from_id,omitempty"`
	ToID     string `json:"to_id,omitempty"`
	Relation string `json:"relation,omitempty"`
	Line     uint32 `json:"line,omitempty"`
	Column   uint32 `json:"column,omitempty"`
	Context  string `json:"context,omitempty"`
}

func toWireNode(rec NodeRecord) wireNode {
	return wireNode{
		ID:            rec.ID.String(),
		QualifiedName: rec.QualifiedName,
		SymbolType:    uint8(rec.SymbolType),
		FilePath:      rec.FilePath,
	}
}

func fromWireNode(w wireNode) (NodeRecord, error) {
	id, err := validated.NewDocumentIDFromString(w.ID)
	if err != nil {
		return NodeRecord{}, fmt.Errorf("node id %q: %w", w.ID, err)
	}
	return NodeRecord{
		ID:            id,
		QualifiedName: w.QualifiedName,
		SymbolType:    symbol.Kind(w.SymbolType),
		FilePath:      w.FilePath,
	}, nil
}

func toWireEdge(rec EdgeRecord) wireEdge {
	return wireEdge{
		FromID:   rec.FromID.String(),
		ToID:     rec.ToID.String(),
		Relation: string(rec.Relation),
		Line:     rec.Line,
		Column:   rec.Column,
		Context:  rec.Context,
	}
}

func fromWireEdge(w wireEdge) (EdgeRecord, error) {
	fromID, err := validated.NewDocumentIDFromString(w.FromID)
	if err != nil {
		return EdgeRecord{}, fmt.Errorf("edge from_id %q: %w", w.FromID, err)
	}
	toID, err := validated.NewDocumentIDFromString(w.ToID)
	if err != nil {
		return EdgeRecord{}, fmt.Errorf("edge to_id %q: %w", w.ToID, err)
	}
	return EdgeRecord{
		FromID:   fromID,
		ToID:     toID,
		Relation: depgraph.Relation(w.Relation),
		Line:     w.Line,
		Column:   w.Column,
		Context:  w.Context,
	}, nil
}
