// Package validated constructs the typed, pre-validated primitives that
// every other KotaDB component accepts at its boundary: document ids,
// paths, titles, tags, search queries, limits, and page ids.
//
// Every constructor returns (zero value, error) on invalid input. Once
// constructed, a value is immutable and its invariants hold for its whole
// lifetime — later components never re-derive validity, only the
// Validated wrapper (pkg/wrappers) re-checks it at a component boundary.
package validated

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kotadb/kotadb/pkg/kotaerr"
)

// DocumentID is a non-nil 128-bit UUID identifying a document or symbol.
type DocumentID struct {
	v uuid.UUID
}

// NewDocumentID validates and wraps an existing UUID. The nil UUID is
// rejected.
func NewDocumentID(id uuid.UUID) (DocumentID, error) {
	if id == uuid.Nil {
		return DocumentID{}, kotaerr.New("validated.NewDocumentID", kotaerr.InvalidArgument, id.String(), nil)
	}
	return DocumentID{v: id}, nil
}

// NewDocumentIDFromString parses s as a UUID and validates it.
func NewDocumentIDFromString(s string) (DocumentID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return DocumentID{}, kotaerr.New("validated.NewDocumentIDFromString", kotaerr.InvalidArgument, s, err)
	}
	return NewDocumentID(id)
}

// NewDocumentIDGenerate mints a fresh random DocumentID.
func NewDocumentIDGenerate() DocumentID {
	return DocumentID{v: uuid.New()}
}

// UUID returns the underlying uuid.UUID.
func (d DocumentID) UUID() uuid.UUID { return d.v }

// String returns the canonical UUID string form.
func (d DocumentID) String() string { return d.v.String() }

// IsZero reports whether d was never validated (zero value).
func (d DocumentID) IsZero() bool { return d.v == uuid.Nil }

const maxPathLength = 4096

// pathReservedChars are rejected anywhere in a Path, per spec.md §3.
var pathReservedChars = "<>:\"|?*\x00\r\n"

// Path is a UTF-8, non-empty, traversal-free, forward-slash canonical
// filesystem path, bounded to maxPathLength bytes.
type Path struct {
	v string
}

// NewPath validates and canonicalizes raw into a Path.
//
// Backslashes are canonicalized to forward slashes before validation so
// callers on any platform produce the same canonical form; ".." traversal
// segments are rejected regardless of separator.
func NewPath(raw string) (Path, error) {
	const op = "validated.NewPath"

	if raw == "" {
		return Path{}, kotaerr.New(op, kotaerr.InvalidArgument, raw, nil)
	}
	if len(raw) > maxPathLength {
		return Path{}, kotaerr.New(op, kotaerr.InvalidArgument, raw, nil)
	}
	if !isValidUTF8(raw) {
		return Path{}, kotaerr.New(op, kotaerr.InvalidArgument, raw, nil)
	}
	if strings.ContainsAny(raw, pathReservedChars) {
		return Path{}, kotaerr.New(op, kotaerr.InvalidArgument, raw, nil)
	}

	canon := strings.ReplaceAll(raw, "\\", "/")
	for _, seg := range strings.Split(canon, "/") {
		if seg == ".." {
			return Path{}, kotaerr.New(op, kotaerr.InvalidArgument, raw, nil)
		}
	}

	return Path{v: canon}, nil
}

// String returns the canonical forward-slash path.
func (p Path) String() string { return p.v }

// IsZero reports whether p was never validated.
func (p Path) IsZero() bool { return p.v == "" }

const maxTitleLength = 1024

// Title is a non-empty, bounded-length UTF-8 document title.
type Title struct {
	v string
}

// NewTitle validates raw as a Title.
func NewTitle(raw string) (Title, error) {
	if raw == "" || len(raw) > maxTitleLength || !isValidUTF8(raw) {
		return Title{}, kotaerr.New("validated.NewTitle", kotaerr.InvalidArgument, raw, nil)
	}
	return Title{v: raw}, nil
}

func (t Title) String() string { return t.v }
func (t Title) IsZero() bool   { return t.v == "" }

const (
	maxTagLength    = 64
	maxTagsPerDoc   = 32
	minTagIDLength  = 1
	tagIdentChars   = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_-"
)

// Tag is an identifier-ish, bounded-length document label.
type Tag struct {
	v string
}

// NewTag validates raw as a Tag: non-empty, bounded, and composed only of
// ASCII letters, digits, underscore, or hyphen.
func NewTag(raw string) (Tag, error) {
	const op = "validated.NewTag"

	if len(raw) < minTagIDLength || len(raw) > maxTagLength {
		return Tag{}, kotaerr.New(op, kotaerr.InvalidArgument, raw, nil)
	}
	for _, r := range raw {
		if !strings.ContainsRune(tagIdentChars, r) {
			return Tag{}, kotaerr.New(op, kotaerr.InvalidArgument, raw, nil)
		}
	}
	return Tag{v: raw}, nil
}

func (t Tag) String() string { return t.v }

// NewTagSet validates a full set of raw tags, enforcing the bounded
// per-document count.
func NewTagSet(raws []string) ([]Tag, error) {
	if len(raws) > maxTagsPerDoc {
		return nil, kotaerr.New("validated.NewTagSet", kotaerr.InvalidArgument, "", nil)
	}
	tags := make([]Tag, 0, len(raws))
	for _, raw := range raws {
		tag, err := NewTag(raw)
		if err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

const minQueryLength = 1
const maxQueryLength = 256

// SearchQuery is a non-empty, bounded-length free-text query.
type SearchQuery struct {
	v string
}

// NewSearchQuery validates raw as a SearchQuery.
func NewSearchQuery(raw string) (SearchQuery, error) {
	if len(raw) < minQueryLength || len(raw) > maxQueryLength || !isValidUTF8(raw) {
		return SearchQuery{}, kotaerr.New("validated.NewSearchQuery", kotaerr.InvalidArgument, raw, nil)
	}
	return SearchQuery{v: raw}, nil
}

func (q SearchQuery) String() string { return q.v }

// Limit bounds the number of results a query may return, 1..=1000.
type Limit struct {
	v int
}

const (
	minLimit = 1
	maxLimit = 1000
)

// NewLimit validates n as a Limit.
func NewLimit(n int) (Limit, error) {
	if n < minLimit || n > maxLimit {
		return Limit{}, kotaerr.New("validated.NewLimit", kotaerr.InvalidArgument, "", nil)
	}
	return Limit{v: n}, nil
}

// Int returns the underlying limit value.
func (l Limit) Int() int { return l.v }

// DefaultLimit returns the maximum permitted Limit, used when a caller
// supplies none.
func DefaultLimit() Limit { return Limit{v: maxLimit} }

// PageID is a 1-based page number.
type PageID struct {
	v int
}

// NewPageID validates n (>= 1) as a PageID.
func NewPageID(n int) (PageID, error) {
	if n < 1 {
		return PageID{}, kotaerr.New("validated.NewPageID", kotaerr.InvalidArgument, "", nil)
	}
	return PageID{v: n}, nil
}

// Int returns the underlying 1-based page number.
func (p PageID) Int() int { return p.v }

// TimestampPair enforces CreatedAt <= UpdatedAt.
type TimestampPair struct {
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewTimestampPair validates created <= updated.
func NewTimestampPair(created, updated time.Time) (TimestampPair, error) {
	if updated.Before(created) {
		return TimestampPair{}, kotaerr.New("validated.NewTimestampPair", kotaerr.InvalidArgument, "", nil)
	}
	return TimestampPair{CreatedAt: created, UpdatedAt: updated}, nil
}

// Bump returns a copy with UpdatedAt advanced to at least the current
// UpdatedAt, strictly greater if now is not already strictly later
// (spec.md §4.2: "updated_at strictly >= previous updated_at; implementation
// bumps if equal").
func (p TimestampPair) Bump(now time.Time) TimestampPair {
	if !now.After(p.UpdatedAt) {
		now = p.UpdatedAt.Add(time.Nanosecond)
	}
	return TimestampPair{CreatedAt: p.CreatedAt, UpdatedAt: now}
}

func isValidUTF8(s string) bool {
	return utf8.ValidString(s)
}
