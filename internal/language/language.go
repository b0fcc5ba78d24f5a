// Package language is the glue between file extensions, tree-sitter
// grammars, and the per-language node-type sets the chunker needs to find
// symbols and imports. It holds no chunking logic itself.
package language

import (
	"errors"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// ErrUnsupportedLanguage is returned by DescriptorFor for an unregistered
// grammar tag, and by extension-routing callers that want a hard error
// instead of a silent skip.
var ErrUnsupportedLanguage = errors.New("language: unsupported language")

// ErrLoader is returned when a recognized grammar tag has no compiled-in
// tree-sitter grammar available.
var ErrLoader = errors.New("language: grammar not built")

// ExtensionToLanguage maps filename extensions (including the leading dot)
// to grammar tags. Unrecognized extensions are silently skipped by callers —
// this table has no entry for them, it does not raise.
var ExtensionToLanguage = map[string]string{
	".py":  "python",
	".go":  "go",
	".js":  "javascript",
	".jsx": "javascript",
	".ts":  "typescript",
	".tsx": "typescript",
	".rs":  "rust",
}

// Descriptor describes, for a single language, which AST node types denote
// function definitions, class definitions, and import statements, and which
// node type is the "identifier" child a symbol name is read from. Injecting
// this into a single generic chunker avoids a per-language subtype
// hierarchy.
type Descriptor struct {
	Name               string
	FunctionNodeTypes  map[string]bool
	ClassNodeTypes     map[string]bool
	ImportNodeTypes    map[string]bool
	IdentifierNodeType string
}

// IsFunctionOrClass reports whether nodeType denotes a function or class
// definition under this language's grammar.
func (d Descriptor) IsFunctionOrClass(nodeType string) bool {
	return d.FunctionNodeTypes[nodeType] || d.ClassNodeTypes[nodeType]
}

// IsImport reports whether nodeType denotes an import statement under this
// language's grammar.
func (d Descriptor) IsImport(nodeType string) bool {
	return d.ImportNodeTypes[nodeType]
}

var descriptors = map[string]Descriptor{
	"python": {
		Name:               "python",
		FunctionNodeTypes:  set("function_definition"),
		ClassNodeTypes:     set("class_definition"),
		ImportNodeTypes:    set("import_statement", "import_from_statement"),
		IdentifierNodeType: "identifier",
	},
	"go": {
		Name:               "go",
		FunctionNodeTypes:  set("function_declaration", "method_declaration"),
		ClassNodeTypes:     set("type_declaration"),
		ImportNodeTypes:    set("import_declaration"),
		IdentifierNodeType: "identifier",
	},
	"javascript": {
		Name:               "javascript",
		FunctionNodeTypes:  set("function_declaration", "method_definition"),
		ClassNodeTypes:     set("class_declaration"),
		ImportNodeTypes:    set("import_statement"),
		IdentifierNodeType: "identifier",
	},
	"typescript": {
		Name:               "typescript",
		FunctionNodeTypes:  set("function_declaration", "method_definition"),
		ClassNodeTypes:     set("class_declaration"),
		ImportNodeTypes:    set("import_statement"),
		IdentifierNodeType: "identifier",
	},
	"rust": {
		Name:               "rust",
		FunctionNodeTypes:  set("function_item"),
		ClassNodeTypes:     set("struct_item", "impl_item"),
		ImportNodeTypes:    set("use_declaration"),
		IdentifierNodeType: "identifier",
	},
}

func set(types ...string) map[string]bool {
	m := make(map[string]bool, len(types))
	for _, t := range types {
		m[t] = true
	}
	return m
}

// DescriptorFor returns the node-type descriptor for lang, or
// ErrUnsupportedLanguage if lang has not been registered.
func DescriptorFor(lang string) (Descriptor, error) {
	d, ok := descriptors[lang]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, lang)
	}
	return d, nil
}

// LoadGrammar returns the compiled tree-sitter grammar for lang. A tag
// with no compiled-in grammar fails with ErrLoader rather than attempting
// to dlopen a shared library, since go-tree-sitter links grammars in at
// build time.
func LoadGrammar(lang string) (*sitter.Language, error) {
	switch lang {
	case "python":
		return python.GetLanguage(), nil
	case "go":
		return golang.GetLanguage(), nil
	case "javascript":
		return javascript.GetLanguage(), nil
	case "typescript":
		return typescript.GetLanguage(), nil
	case "rust":
		return rust.GetLanguage(), nil
	default:
		return nil, fmt.Errorf("%w: grammar %q is not compiled in — add its go-tree-sitter subpackage and rebuild", ErrLoader, lang)
	}
}
