// Package parser extracts per-file dependency information (imports,
// references, symbol declarations) from source code via tree-sitter, per
// spec.md §4.6. It does not build the cross-file graph itself — that is
// pkg/depgraph's job, consuming a batch of DependencyAnalysis values.
package parser

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/kotadb/kotadb/pkg/kotaerr"
	"github.com/kotadb/kotadb/pkg/symbol"
)

// ReferenceKind classifies how one piece of code refers to another.
type ReferenceKind uint8

const (
	ReferenceUnknown ReferenceKind = iota
	FunctionCall
	TypeUsage
	TraitImpl
	MacroInvocation
	FieldAccess
	MethodCall
)

func (k ReferenceKind) String() string {
	switch k {
	case FunctionCall:
		return "FunctionCall"
	case TypeUsage:
		return "TypeUsage"
	case TraitImpl:
		return "TraitImpl"
	case MacroInvocation:
		return "MacroInvocation"
	case FieldAccess:
		return "FieldAccess"
	case MethodCall:
		return "MethodCall"
	default:
		return "Unknown"
	}
}

// Reference is one occurrence of code referring to a name, resolved or not.
type Reference struct {
	Kind   ReferenceKind
	Name   string
	Line   uint32
	Column uint32
}

// Import is a file-scoped import; Items is the set of names it brings into
// scope (empty means "import everything under Path", e.g. a wildcard or a
// whole-module import).
type Import struct {
	Path  string
	Items []string
}

// ExtractedSymbol is one declaration found in a file, not yet assigned a
// graph node id (that happens during resolution in pkg/depgraph, since the
// id depends on the parent symbol's identity within the same batch).
type ExtractedSymbol struct {
	Name        string
	Kind        symbol.Kind
	StartLine   uint32
	StartColumn uint32
	EndLine     uint32
	// ParentName is the enclosing symbol's name (e.g. the class/struct a
	// method belongs to), empty for file-level declarations.
	ParentName string
}

// DependencyAnalysis is the full per-file extraction result.
type DependencyAnalysis struct {
	FilePath   string
	Language   string
	Imports    []Import
	References []Reference
	Symbols    []ExtractedSymbol
}

// Extract parses source with the tree-sitter grammar for language and walks
// the resulting tree, classifying nodes per the language's node table.
// Unsupported languages return an InvalidArgument error.
func Extract(ctx context.Context, filePath, language string, source []byte) (*DependencyAnalysis, error) {
	const op = "parser.Extract"

	lang, table, err := languageFor(language)
	if err != nil {
		return nil, kotaerr.New(op, kotaerr.InvalidArgument, filePath, err)
	}

	p := sitter.NewParser()
	p.SetLanguage(lang)

	tree, err := p.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, kotaerr.New(op, kotaerr.Io, filePath, fmt.Errorf("tree-sitter parse: %w", err))
	}
	defer tree.Close()

	w := &walker{
		table:  table,
		source: source,
		result: &DependencyAnalysis{FilePath: filePath, Language: language},
	}
	w.walk(tree.RootNode(), nil)

	return w.result, nil
}
