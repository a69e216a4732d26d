package parser

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/kotadb/kotadb/pkg/symbol"
)

// enclosingDecl tracks the nearest enclosing declaration while walking, so a
// nested function_item inside an impl_item (Rust) or a method inside a
// class_body (JS/Java) is classified Method rather than Function, and so
// each symbol records its ParentName. References are not attributed here.
type enclosingDecl struct {
	name string
}

type walker struct {
	table  *nodeTable
	source []byte
	result *DependencyAnalysis

	// skipAsFieldAccess marks field-access-shaped nodes already consumed
	// as the callee of a call expression, so they aren't double-recorded
	// as a bare FieldAccess reference.
	skipAsFieldAccess map[uint32]bool
}

func (w *walker) walk(n *sitter.Node, parent *enclosingDecl) {
	if n == nil {
		return
	}

	nodeType := n.Type()
	t := w.table

	switch {
	case t.imports[nodeType]:
		if imp, ok := w.extractImport(n); ok {
			w.result.Imports = append(w.result.Imports, imp)
		}

	case nodeType == "type_spec":
		// Go nests the declared name and the underlying type shape under
		// a type_spec ("type Widget struct {...}"): the struct_type node
		// itself carries no name, so it's classified here instead of via
		// the generic bucket below.
		w.walkGoTypeSpec(n, parent)
		return

	case t.structs[nodeType] || t.enums[nodeType] || t.classes[nodeType] || t.methods[nodeType] || t.functions[nodeType]:
		name := w.fieldText(n, t.nameField(nodeType))
		if name != "" {
			kind := symbolKindFor(t, nodeType, parent != nil && (t.methods[nodeType] || t.functions[nodeType]))
			sym := ExtractedSymbol{
				Name:        name,
				Kind:        kind,
				StartLine:   n.StartPoint().Row + 1,
				StartColumn: n.StartPoint().Column + 1,
				EndLine:     n.EndPoint().Row + 1,
			}
			if parent != nil {
				sym.ParentName = parent.name
			}
			w.result.Symbols = append(w.result.Symbols, sym)

			child := &enclosingDecl{name: name}
			w.walkChildren(n, child)
			return
		}

	case t.traitImpls[nodeType]:
		if traitName := w.fieldText(n, "trait"); traitName != "" {
			w.result.References = append(w.result.References, Reference{
				Kind:   TraitImpl,
				Name:   traitName,
				Line:   n.StartPoint().Row + 1,
				Column: n.StartPoint().Column + 1,
			})
		}

	case t.macros[nodeType]:
		if name := w.fieldText(n, "macro"); name != "" {
			w.result.References = append(w.result.References, Reference{
				Kind:   MacroInvocation,
				Name:   name,
				Line:   n.StartPoint().Row + 1,
				Column: n.StartPoint().Column + 1,
			})
		}

	case t.calls[nodeType]:
		w.extractCall(n)

	case t.fieldAccs[nodeType]:
		if w.skipAsFieldAccess == nil || !w.skipAsFieldAccess[n.StartByte()] {
			if name := w.rightmostName(n); name != "" {
				w.result.References = append(w.result.References, Reference{
					Kind:   FieldAccess,
					Name:   name,
					Line:   n.StartPoint().Row + 1,
					Column: n.StartPoint().Column + 1,
				})
			}
		}

	case t.typeIdents[nodeType]:
		w.result.References = append(w.result.References, Reference{
			Kind:   TypeUsage,
			Name:   n.Content(w.source),
			Line:   n.StartPoint().Row + 1,
			Column: n.StartPoint().Column + 1,
		})
	}

	w.walkChildren(n, parent)
}

func (w *walker) walkGoTypeSpec(n *sitter.Node, parent *enclosingDecl) {
	name := w.fieldText(n, "name")
	underlying := n.ChildByFieldName("type")
	if name == "" || underlying == nil {
		w.walkChildren(n, parent)
		return
	}

	var kind symbol.Kind
	switch underlying.Type() {
	case "struct_type":
		kind = symbol.KindStruct
	case "interface_type":
		kind = symbol.KindClass
	default:
		// Type alias / defined scalar type (e.g. "type ID int"): record
		// as a module-level declaration rather than dropping it.
		kind = symbol.KindConstant
	}

	w.result.Symbols = append(w.result.Symbols, ExtractedSymbol{
		Name:        name,
		Kind:        kind,
		StartLine:   n.StartPoint().Row + 1,
		StartColumn: n.StartPoint().Column + 1,
		EndLine:     n.EndPoint().Row + 1,
		ParentName:  parentName(parent),
	})

	child := &enclosingDecl{name: name}
	w.walkChildren(underlying, child)
}

func parentName(parent *enclosingDecl) string {
	if parent == nil {
		return ""
	}
	return parent.name
}

func (w *walker) walkChildren(n *sitter.Node, parent *enclosingDecl) {
	count := int(n.NamedChildCount())
	for i := 0; i < count; i++ {
		w.walk(n.NamedChild(i), parent)
	}
}

func (w *walker) fieldText(n *sitter.Node, field string) string {
	if field == "" {
		return ""
	}
	child := n.ChildByFieldName(field)
	if child == nil {
		return ""
	}
	return child.Content(w.source)
}

// extractCall classifies a call-shaped node as FunctionCall or MethodCall
// depending on whether its callee expression is itself a field-access shape
// (obj.method()) and records the referenced name.
func (w *walker) extractCall(n *sitter.Node) {
	fn := n.ChildByFieldName("function")
	if fn == nil {
		fn = n.ChildByFieldName("method")
	}
	if fn == nil {
		return
	}

	kind := FunctionCall
	name := fn.Content(w.source)

	if w.table.fieldAccs[fn.Type()] {
		kind = MethodCall
		name = w.rightmostName(fn)
		if w.skipAsFieldAccess == nil {
			w.skipAsFieldAccess = make(map[uint32]bool)
		}
		w.skipAsFieldAccess[fn.StartByte()] = true
	}

	if name == "" {
		return
	}

	w.result.References = append(w.result.References, Reference{
		Kind:   kind,
		Name:   name,
		Line:   n.StartPoint().Row + 1,
		Column: n.StartPoint().Column + 1,
	})
}

// rightmostName extracts the trailing identifier of a field-access-shaped
// node (obj.field.method -> "method"), falling back to the node's own text.
func (w *walker) rightmostName(n *sitter.Node) string {
	for _, field := range []string{"property", "field", "attribute", "name"} {
		if child := n.ChildByFieldName(field); child != nil {
			return child.Content(w.source)
		}
	}
	text := n.Content(w.source)
	if idx := strings.LastIndexAny(text, ".:"); idx >= 0 && idx+1 < len(text) {
		return text[idx+1:]
	}
	return text
}

// extractImport pulls a dotted/quoted import target out of a grammar's
// import-shaped node, trying the field names real grammars use for it.
func (w *walker) extractImport(n *sitter.Node) (Import, bool) {
	for _, field := range []string{"path", "source", "argument", "module_name", "name"} {
		if child := n.ChildByFieldName(field); child != nil {
			return Import{Path: unquote(child.Content(w.source))}, true
		}
	}

	// Grammars without a named field for the import target (e.g. Go's
	// import_spec is itself the string literal, or wraps one unnamed
	// child) fall back to the node's own text.
	if n.NamedChildCount() > 0 {
		return Import{Path: unquote(n.NamedChild(0).Content(w.source))}, true
	}
	return Import{Path: unquote(n.Content(w.source))}, true
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	s = strings.TrimPrefix(s, "<")
	s = strings.TrimSuffix(s, ">")
	return s
}
