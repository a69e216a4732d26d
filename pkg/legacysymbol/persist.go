package legacysymbol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	atomicfile "github.com/natefinch/atomic"

	"github.com/kotadb/kotadb/pkg/kotaerr"
	"github.com/kotadb/kotadb/pkg/symbol"
	"github.com/kotadb/kotadb/pkg/validated"
)

// entryDTO is the JSON-serializable projection of Entry. Validated types
// and symbol.Kind are not directly JSON-friendly (or not stable across
// future Kind renumbering), so every on-disk boundary goes through this
// struct, the same discipline pkg/storage's walDocDTO follows.
type entryDTO struct {
	ID            string            `json:"id"`
	Repository    string            `json:"repository,omitempty"`
	FilePath      string            `json:"file_path"`
	Kind          string            `json:"kind"`
	Name          string            `json:"name"`
	StartLine     uint32            `json:"start_line"`
	EndLine       uint32            `json:"end_line"`
	StartColumn   uint32            `json:"start_column"`
	QualifiedName string            `json:"qualified_name"`
	ParentID      string            `json:"parent_id,omitempty"`
	Children      []string          `json:"children,omitempty"`
	Dependencies  []string          `json:"dependencies,omitempty"`
	Dependents    []string          `json:"dependents,omitempty"`
	ExtractedAt   time.Time         `json:"extracted_at"`
	ContentHash   string            `json:"content_hash"`
}

func toDTO(e *Entry) entryDTO {
	children := make([]string, len(e.Children))
	for i, id := range e.Children {
		children[i] = id.String()
	}

	dependents := make([]string, 0, len(e.Dependents))
	for id := range e.Dependents {
		dependents = append(dependents, id.String())
	}

	var parentID string
	if e.ParentID != nil {
		parentID = e.ParentID.String()
	}

	return entryDTO{
		ID:            e.ID.String(),
		Repository:    e.Repository,
		FilePath:      e.FilePath,
		Kind:          e.Kind.String(),
		Name:          e.Name,
		StartLine:     e.StartLine,
		EndLine:       e.EndLine,
		StartColumn:   e.StartColumn,
		QualifiedName: e.QualifiedName,
		ParentID:      parentID,
		Children:      children,
		Dependencies:  e.Dependencies,
		Dependents:    dependents,
		ExtractedAt:   e.ExtractedAt,
		ContentHash:   e.ContentHash,
	}
}

func fromDTO(dto entryDTO) (*Entry, error) {
	const op = "legacysymbol.fromDTO"

	id, err := validated.NewDocumentIDFromString(dto.ID)
	if err != nil {
		return nil, kotaerr.New(op, kotaerr.Corruption, dto.ID, err)
	}

	kind, ok := kindFromString(dto.Kind)
	if !ok {
		return nil, kotaerr.New(op, kotaerr.Corruption, dto.ID, fmt.Errorf("unknown kind %q", dto.Kind))
	}

	var parentID *validated.DocumentID
	if dto.ParentID != "" {
		pid, err := validated.NewDocumentIDFromString(dto.ParentID)
		if err != nil {
			return nil, kotaerr.New(op, kotaerr.Corruption, dto.ID, err)
		}
		parentID = &pid
	}

	children := make([]validated.DocumentID, 0, len(dto.Children))
	for _, s := range dto.Children {
		cid, err := validated.NewDocumentIDFromString(s)
		if err != nil {
			return nil, kotaerr.New(op, kotaerr.Corruption, dto.ID, err)
		}
		children = append(children, cid)
	}

	dependents := make(map[validated.DocumentID]struct{}, len(dto.Dependents))
	for _, s := range dto.Dependents {
		did, err := validated.NewDocumentIDFromString(s)
		if err != nil {
			return nil, kotaerr.New(op, kotaerr.Corruption, dto.ID, err)
		}
		dependents[did] = struct{}{}
	}

	return &Entry{
		ID:            id,
		Repository:    dto.Repository,
		FilePath:      dto.FilePath,
		Kind:          kind,
		Name:          dto.Name,
		StartLine:     dto.StartLine,
		EndLine:       dto.EndLine,
		StartColumn:   dto.StartColumn,
		QualifiedName: dto.QualifiedName,
		ParentID:      parentID,
		Children:      children,
		Dependencies:  dto.Dependencies,
		Dependents:    dependents,
		ExtractedAt:   dto.ExtractedAt,
		ContentHash:   dto.ContentHash,
	}, nil
}

func kindFromString(s string) (symbol.Kind, bool) {
	switch s {
	case "function":
		return symbol.KindFunction, true
	case "method":
		return symbol.KindMethod, true
	case "class":
		return symbol.KindClass, true
	case "struct":
		return symbol.KindStruct, true
	case "enum":
		return symbol.KindEnum, true
	case "variable":
		return symbol.KindVariable, true
	case "constant":
		return symbol.KindConstant, true
	case "module":
		return symbol.KindModule, true
	case "unknown":
		return symbol.KindUnknown, true
	default:
		return symbol.KindUnknown, false
	}
}

// SanitizePath resolves "." and ".." components out of an arbitrary
// (possibly attacker-controlled) path before it is used as a storage key,
// so a crafted file path can't escape the legacy symbols directory via
// "../../etc/passwd"-style traversal.
func SanitizePath(p string) string {
	normalized := strings.ReplaceAll(p, `\`, "/")
	parts := strings.Split(normalized, "/")

	resolved := make([]string, 0, len(parts))
	for _, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..":
			if len(resolved) > 0 {
				resolved = resolved[:len(resolved)-1]
			}
		default:
			resolved = append(resolved, part)
		}
	}

	return strings.Join(resolved, "/")
}

func (s *Store) entryPath(e *Entry) string {
	sanitized := filepath.FromSlash(SanitizePath(e.FilePath))
	return filepath.Join(s.dbPath, legacySymbolsDirName, sanitized, e.ID.String()+".json")
}

// persist writes e's JSON representation atomically (temp file + rename),
// creating any missing parent directories first.
func (s *Store) persist(e *Entry) error {
	const op = "legacysymbol.persist"

	path := s.entryPath(e)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return kotaerr.New(op, kotaerr.Io, e.ID.String(), err)
	}

	data, err := json.MarshalIndent(toDTO(e), "", "  ")
	if err != nil {
		return kotaerr.New(op, kotaerr.Io, e.ID.String(), err)
	}

	if err := atomicfile.WriteFile(path, bytes.NewReader(data)); err != nil {
		return kotaerr.New(op, kotaerr.Io, e.ID.String(), err)
	}
	return nil
}

// deleteFile removes e's on-disk JSON file, if present. A missing file is
// not an error.
func (s *Store) deleteFile(e *Entry) error {
	err := os.Remove(s.entryPath(e))
	if err != nil && !os.IsNotExist(err) {
		return kotaerr.New("legacysymbol.deleteFile", kotaerr.Io, e.ID.String(), err)
	}
	return nil
}

// loadAll walks dbPath/legacy_symbols, deserializing every *.json file it
// finds. A file that fails to parse is logged and skipped rather than
// failing the whole load, matching the original's per-document try/catch
// in load_symbols.
func (s *Store) loadAll() error {
	root := filepath.Join(s.dbPath, legacySymbolsDirName)

	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return kotaerr.New("legacysymbol.loadAll", kotaerr.Io, root, err)
	}
	if !info.IsDir() {
		return kotaerr.New("legacysymbol.loadAll", kotaerr.Corruption, root, fmt.Errorf("not a directory"))
	}

	loaded := 0
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}

		data, readErr := os.ReadFile(path)
		if readErr != nil {
			s.logger.Warn().Err(readErr).Str("path", path).Msg("legacysymbol: failed to read symbol file")
			return nil
		}

		var dto entryDTO
		if err := json.Unmarshal(data, &dto); err != nil {
			s.logger.Warn().Err(err).Str("path", path).Msg("legacysymbol: failed to parse symbol file")
			return nil
		}

		entry, err := fromDTO(dto)
		if err != nil {
			s.logger.Warn().Err(err).Str("path", path).Msg("legacysymbol: failed to deserialize symbol")
			return nil
		}

		s.indexEntry(entry)
		s.byFile[entry.FilePath] = append(s.byFile[entry.FilePath], entry.ID)
		if entry.Repository != "" {
			files := s.repos[entry.Repository]
			if files == nil {
				files = make(map[string]struct{})
				s.repos[entry.Repository] = files
			}
			files[entry.FilePath] = struct{}{}
		}
		loaded++
		return nil
	})
	if walkErr != nil {
		return kotaerr.New("legacysymbol.loadAll", kotaerr.Io, root, walkErr)
	}

	s.logger.Info().Int("count", loaded).Msg("legacysymbol: loaded symbols from storage")
	return nil
}
