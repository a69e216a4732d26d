package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/kotadb/kotadb/pkg/document"
	"github.com/kotadb/kotadb/pkg/kotaerr"
	"github.com/kotadb/kotadb/pkg/validated"
)

// walDocDTO is the JSON-serializable projection of a document.Document used
// both in WAL frames and in meta/*.json sidecar files. Validated types are
// not directly JSON-friendly (their fields are unexported by design), so
// every on-disk boundary goes through this struct.
type walDocDTO struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Title     string    `json:"title"`
	Content   []byte    `json:"content"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Embedding []float32 `json:"embedding,omitempty"`
}

func toDTO(doc document.Document) walDocDTO {
	tags := make([]string, len(doc.Tags))
	for i, t := range doc.Tags {
		tags[i] = t.String()
	}

	return walDocDTO{
		ID:        doc.ID.String(),
		Path:      doc.Path.String(),
		Title:     doc.Title.String(),
		Content:   doc.Content,
		Tags:      tags,
		CreatedAt: doc.Timestamps.CreatedAt,
		UpdatedAt: doc.Timestamps.UpdatedAt,
		Embedding: doc.Embedding,
	}
}

// fromDTO reconstructs a document.Document, re-validating every field.
// A failure here indicates on-disk corruption (data that was valid when
// written no longer satisfies the validated-primitive invariants).
func fromDTO(dto walDocDTO) (document.Document, error) {
	const op = "storage.fromDTO"

	id, err := validated.NewDocumentIDFromString(dto.ID)
	if err != nil {
		return document.Document{}, kotaerr.New(op, kotaerr.Corruption, dto.ID, err)
	}

	path, err := validated.NewPath(dto.Path)
	if err != nil {
		return document.Document{}, kotaerr.New(op, kotaerr.Corruption, dto.ID, err)
	}

	title, err := validated.NewTitle(dto.Title)
	if err != nil {
		return document.Document{}, kotaerr.New(op, kotaerr.Corruption, dto.ID, err)
	}

	tags, err := validated.NewTagSet(dto.Tags)
	if err != nil {
		return document.Document{}, kotaerr.New(op, kotaerr.Corruption, dto.ID, err)
	}

	ts, err := validated.NewTimestampPair(dto.CreatedAt, dto.UpdatedAt)
	if err != nil {
		return document.Document{}, kotaerr.New(op, kotaerr.Corruption, dto.ID, err)
	}

	doc, err := document.New(id, path, title, dto.Content, tags, ts)
	if err != nil {
		return document.Document{}, kotaerr.New(op, kotaerr.Corruption, dto.ID, err)
	}
	doc.Embedding = dto.Embedding

	return doc, nil
}

func parseUUID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}
