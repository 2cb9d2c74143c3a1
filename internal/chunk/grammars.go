package chunk

import (
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/bash"
	tsc "github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/csharp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/kotlin"
	"github.com/smacker/go-tree-sitter/php"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/ruby"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	tstype "github.com/smacker/go-tree-sitter/typescript/typescript"
)

// grammar pairs a tree-sitter language with the node types that become chunks.
type grammar struct {
	language func() *sitter.Language
	nodes    map[string]bool
}

func set(types ...string) map[string]bool {
	m := make(map[string]bool, len(types))
	for _, t := range types {
		m[t] = true
	}
	return m
}

var (
	jsNodes = []string{
		"function_declaration", "function_expression", "arrow_function",
		"class_declaration", "method_definition",
		"import_statement", "export_statement",
	}
	tsNodes = append(append([]string{}, jsNodes...), "interface_declaration", "type_alias_declaration")
)

// grammars is keyed by grammar name, which equals the language tag except
// for TSX sources. Read-only after init.
var grammars = map[string]grammar{
	"python": {python.GetLanguage, set(
		"function_definition", "class_definition", "decorated_definition",
		"import_statement", "import_from_statement",
	)},
	"javascript": {javascript.GetLanguage, set(jsNodes...)},
	"typescript": {tstype.GetLanguage, set(tsNodes...)},
	"tsx":        {tsx.GetLanguage, set(tsNodes...)},
	"go": {golang.GetLanguage, set(
		"function_declaration", "method_declaration", "type_declaration", "import_declaration",
	)},
	"java": {java.GetLanguage, set(
		"class_declaration", "interface_declaration", "enum_declaration", "record_declaration",
		"method_declaration", "constructor_declaration", "import_declaration",
	)},
	"rust": {rust.GetLanguage, set(
		"function_item", "struct_item", "enum_item", "trait_item", "impl_item",
		"mod_item", "use_declaration", "type_item",
	)},
	"c": {tsc.GetLanguage, set(
		"function_definition", "struct_specifier", "type_definition", "preproc_include",
	)},
	"cpp": {cpp.GetLanguage, set(
		"function_definition", "class_specifier", "struct_specifier", "namespace_definition",
		"type_definition", "preproc_include",
	)},
	"c_sharp": {csharp.GetLanguage, set(
		"class_declaration", "interface_declaration", "struct_declaration", "enum_declaration",
		"method_declaration", "namespace_declaration", "using_directive",
	)},
	"ruby": {ruby.GetLanguage, set(
		"method", "singleton_method", "class", "module",
	)},
	"php": {php.GetLanguage, set(
		"function_definition", "class_declaration", "interface_declaration", "trait_declaration",
		"method_declaration", "namespace_use_declaration",
	)},
	"kotlin": {kotlin.GetLanguage, set(
		"class_declaration", "object_declaration", "function_declaration", "import_header",
	)},
	"bash": {bash.GetLanguage, set("function_definition")},
}

// grammarName picks the grammar for a detected language.
func grammarName(path, lang string) string {
	if lang == "typescript" && strings.EqualFold(filepath.Ext(path), ".tsx") {
		return "tsx"
	}
	return lang
}

// canonicalKinds maps raw node types onto the shared kind vocabulary.
// Types missing here keep their raw name as kind.
var canonicalKinds = map[string]Kind{
	"function_definition":       KindFunction,
	"function_declaration":      KindFunction,
	"function_expression":       KindFunction,
	"function_item":             KindFunction,
	"arrow_function":            KindFunction,
	"method_definition":         KindMethod,
	"method_declaration":        KindMethod,
	"constructor_declaration":   KindMethod,
	"method":                    KindMethod,
	"singleton_method":          KindMethod,
	"class_definition":          KindClass,
	"class_declaration":         KindClass,
	"class_specifier":           KindClass,
	"struct_specifier":          KindClass,
	"struct_item":               KindClass,
	"struct_declaration":        KindClass,
	"record_declaration":        KindClass,
	"object_declaration":        KindClass,
	"class":                     KindClass,
	"interface_declaration":     KindInterface,
	"trait_item":                KindInterface,
	"trait_declaration":         KindInterface,
	"type_alias_declaration":    KindType,
	"type_declaration":          KindType,
	"type_definition":           KindType,
	"type_item":                 KindType,
	"enum_item":                 KindType,
	"enum_declaration":          KindType,
	"import_statement":          KindImport,
	"import_from_statement":     KindImport,
	"import_declaration":        KindImport,
	"import_header":             KindImport,
	"export_statement":          KindImport,
	"use_declaration":           KindImport,
	"using_directive":           KindImport,
	"preproc_include":           KindImport,
	"namespace_use_declaration": KindImport,
	"module":                    KindModule,
	"mod_item":                  KindModule,
	"namespace_definition":      KindModule,
	"namespace_declaration":     KindModule,
}

func kindOf(nodeType string) Kind {
	if k, ok := canonicalKinds[nodeType]; ok {
		return k
	}
	return Kind(nodeType)
}

// nameNodeTypes are the child node types whose text is taken as a declared name.
var nameNodeTypes = set(
	"identifier", "type_identifier", "field_identifier", "property_identifier",
	"simple_identifier", "constant", "name", "word",
)
