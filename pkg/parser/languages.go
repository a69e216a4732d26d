package parser

import (
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/ruby"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/kotadb/kotadb/pkg/symbol"
)

// nodeTable classifies tree-sitter node type names for one language. A node
// whose Type() appears in none of these sets is walked for children only.
type nodeTable struct {
	imports    map[string]bool
	functions  map[string]bool
	methods    map[string]bool
	classes    map[string]bool
	structs    map[string]bool
	enums      map[string]bool
	calls      map[string]bool
	fieldAccs  map[string]bool
	macros     map[string]bool
	traitImpls map[string]bool
	typeIdents map[string]bool

	// nameField is the field name tree-sitter exposes for a declaration's
	// identifier, per node type. Every table here uses "name"; Go's
	// type_spec is handled separately by walkGoTypeSpec.
	nameField func(nodeType string) string
}

func set(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, i := range items {
		m[i] = true
	}
	return m
}

// LanguageForExtension maps a file extension (without the dot) to the
// language tag Extract expects, per spec.md §4.9's extractor allow-list.
func LanguageForExtension(ext string) (string, bool) {
	switch ext {
	case "go":
		return "go", true
	case "py":
		return "python", true
	case "js":
		return "javascript", true
	case "ts":
		return "typescript", true
	case "rs":
		return "rust", true
	case "java":
		return "java", true
	case "c", "h":
		return "c", true
	case "cpp", "hpp":
		return "cpp", true
	case "rb":
		return "ruby", true
	default:
		return "", false
	}
}

func languageFor(language string) (*sitter.Language, *nodeTable, error) {
	switch language {
	case "go":
		return golang.GetLanguage(), goTable, nil
	case "python":
		return python.GetLanguage(), pythonTable, nil
	case "javascript":
		return javascript.GetLanguage(), jsTable, nil
	case "typescript":
		return typescript.GetLanguage(), jsTable, nil
	case "rust":
		return rust.GetLanguage(), rustTable, nil
	case "java":
		return java.GetLanguage(), javaTable, nil
	case "c", "cpp":
		return cpp.GetLanguage(), cppTable, nil
	case "ruby":
		return ruby.GetLanguage(), rubyTable, nil
	default:
		return nil, nil, fmt.Errorf("unsupported language %q", language)
	}
}

var goTable = &nodeTable{
	imports:   set("import_spec"),
	functions: set("function_declaration"),
	methods:   set("method_declaration"),
	structs:   set("struct_type"),
	enums:     set(),
	classes:   set(),
	calls:     set("call_expression"),
	fieldAccs: set("selector_expression"),
	typeIdents: set("type_identifier"),
	nameField: func(string) string { return "name" },
}

var pythonTable = &nodeTable{
	imports:   set("import_statement", "import_from_statement"),
	functions: set("function_definition"),
	classes:   set("class_definition"),
	calls:     set("call"),
	fieldAccs: set("attribute"),
	nameField: func(string) string { return "name" },
}

var jsTable = &nodeTable{
	imports:   set("import_statement"),
	functions: set("function_declaration"),
	methods:   set("method_definition"),
	classes:   set("class_declaration"),
	calls:      set("call_expression"),
	fieldAccs:  set("member_expression"),
	typeIdents: set("type_identifier"),
	nameField:  func(string) string { return "name" },
}

var rustTable = &nodeTable{
	imports:    set("use_declaration"),
	functions:  set("function_item"),
	structs:    set("struct_item"),
	enums:      set("enum_item"),
	traitImpls: set("impl_item"),
	calls:      set("call_expression"),
	macros:     set("macro_invocation"),
	fieldAccs:  set("field_expression"),
	typeIdents: set("type_identifier"),
	nameField:  func(string) string { return "name" },
}

var javaTable = &nodeTable{
	imports:   set("import_declaration"),
	methods:   set("method_declaration"),
	classes:   set("class_declaration"),
	calls:      set("method_invocation"),
	fieldAccs:  set("field_access"),
	typeIdents: set("type_identifier"),
	nameField:  func(string) string { return "name" },
}

var cppTable = &nodeTable{
	imports:   set("preproc_include"),
	functions: set("function_definition"),
	structs:   set("struct_specifier"),
	enums:     set("enum_specifier"),
	classes:   set("class_specifier"),
	calls:      set("call_expression"),
	fieldAccs:  set("field_expression"),
	typeIdents: set("type_identifier"),
	nameField:  func(string) string { return "name" },
}

var rubyTable = &nodeTable{
	functions: set("method"),
	classes:   set("class"),
	calls:     set("call", "method_call"),
	fieldAccs: set(),
	nameField: func(string) string { return "name" },
}

// symbolKindFor maps the node-table bucket a declaration node fell in to a
// symbol.Kind, given whether it has an enclosing declaration (Method vs
// Function).
func symbolKindFor(t *nodeTable, nodeType string, hasParent bool) symbol.Kind {
	switch {
	case t.structs[nodeType]:
		return symbol.KindStruct
	case t.enums[nodeType]:
		return symbol.KindEnum
	case t.classes[nodeType]:
		return symbol.KindClass
	case t.methods[nodeType]:
		return symbol.KindMethod
	case t.functions[nodeType]:
		if hasParent {
			return symbol.KindMethod
		}
		return symbol.KindFunction
	default:
		return symbol.KindUnknown
	}
}
