// Package document defines the Document type persisted by pkg/storage.
package document

import (
	"github.com/kotadb/kotadb/pkg/kotaerr"
	"github.com/kotadb/kotadb/pkg/validated"
)

// Document is an addressable unit of content with metadata.
//
// Size always equals len(Content); callers must use [New] or [Document.WithContent]
// to construct/update a Document so that invariant cannot be violated.
type Document struct {
	ID         validated.DocumentID
	Path       validated.Path
	Title      validated.Title
	Content    []byte
	Tags       []validated.Tag
	Timestamps validated.TimestampPair
	Size       int
	Embedding  []float32 // optional
}

// New constructs a Document, enforcing that Size == len(content).
func New(id validated.DocumentID, path validated.Path, title validated.Title, content []byte, tags []validated.Tag, ts validated.TimestampPair) (Document, error) {
	if id.IsZero() {
		return Document{}, kotaerr.New("document.New", kotaerr.InvalidArgument, "", nil)
	}

	return Document{
		ID:         id,
		Path:       path,
		Title:      title,
		Content:    content,
		Tags:       tags,
		Timestamps: ts,
		Size:       len(content),
	}, nil
}

// WithContent returns a copy of d with content replaced and Size
// recomputed, per spec.md §3's size invariant.
func (d Document) WithContent(content []byte) Document {
	d.Content = content
	d.Size = len(content)
	return d
}
