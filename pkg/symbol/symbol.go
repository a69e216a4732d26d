// Package symbol implements the binary symbol format: a dense,
// mmap-friendly store of extracted code symbols with interned name/path
// string tables (spec.md §4.5).
package symbol

import "github.com/kotadb/kotadb/pkg/validated"

// Kind classifies a Symbol's syntactic category.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindFunction
	KindMethod
	KindClass
	KindStruct
	KindEnum
	KindVariable
	KindConstant
	KindModule
)

// String renders k for logging/debugging.
func (k Kind) String() string {
	switch k {
	case KindFunction:
		return "function"
	case KindMethod:
		return "method"
	case KindClass:
		return "class"
	case KindStruct:
		return "struct"
	case KindEnum:
		return "enum"
	case KindVariable:
		return "variable"
	case KindConstant:
		return "constant"
	case KindModule:
		return "module"
	default:
		return "unknown"
	}
}

// Symbol is a named code entity extracted from a source file.
type Symbol struct {
	ID        validated.DocumentID
	Kind      Kind
	Name      string
	Path      string
	StartLine uint32
	EndLine   uint32
	ParentID  *validated.DocumentID // nil if this symbol has no parent
}
