package wrappers

import (
	"context"

	"github.com/kotadb/kotadb/pkg/document"
	"github.com/kotadb/kotadb/pkg/kotaerr"
	"github.com/kotadb/kotadb/pkg/validated"
)

// ValidatedStorage re-checks argument invariants at the trait boundary
// (spec.md §4.10), independent of whatever checks the caller already ran
// when constructing its validated primitives. This catches a doc built via
// struct literal rather than [document.New]/[document.Document.WithContent],
// which would otherwise slip the Size==len(Content) invariant past storage.
type ValidatedStorage struct {
	inner Storage
}

// NewValidatedStorage wraps inner with boundary validation.
func NewValidatedStorage(inner Storage) *ValidatedStorage {
	return &ValidatedStorage{inner: inner}
}

func validateDoc(op string, doc document.Document) error {
	if doc.ID.IsZero() {
		return kotaerr.New(op, kotaerr.InvalidArgument, "", nil)
	}
	if doc.Path.IsZero() {
		return kotaerr.New(op, kotaerr.InvalidArgument, doc.ID.String(), nil)
	}
	if doc.Size != len(doc.Content) {
		return kotaerr.New(op, kotaerr.InvalidArgument, doc.ID.String(), nil)
	}
	return nil
}

func (v *ValidatedStorage) Insert(ctx context.Context, doc document.Document) error {
	if err := validateDoc("validated.Insert", doc); err != nil {
		return err
	}
	return v.inner.Insert(ctx, doc)
}

func (v *ValidatedStorage) Get(ctx context.Context, id validated.DocumentID) (document.Document, bool, error) {
	if id.IsZero() {
		return document.Document{}, false, kotaerr.New("validated.Get", kotaerr.InvalidArgument, "", nil)
	}
	return v.inner.Get(ctx, id)
}

func (v *ValidatedStorage) Update(ctx context.Context, doc document.Document) error {
	if err := validateDoc("validated.Update", doc); err != nil {
		return err
	}
	return v.inner.Update(ctx, doc)
}

func (v *ValidatedStorage) Delete(ctx context.Context, id validated.DocumentID) (bool, error) {
	if id.IsZero() {
		return false, kotaerr.New("validated.Delete", kotaerr.InvalidArgument, "", nil)
	}
	return v.inner.Delete(ctx, id)
}

func (v *ValidatedStorage) ListAll(ctx context.Context) ([]document.Document, error) {
	return v.inner.ListAll(ctx)
}

func (v *ValidatedStorage) Sync(ctx context.Context) error {
	return v.inner.Sync(ctx)
}

func (v *ValidatedStorage) Flush(ctx context.Context) error {
	return v.inner.Flush(ctx)
}

func (v *ValidatedStorage) Close() error {
	return v.inner.Close()
}
