package parser

import sitter "github.com/tree-sitter/go-tree-sitter"

func set(kinds ...string) map[string]bool {
	out := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		out[k] = true
	}
	return out
}

func javascriptConstructs() map[string]ConstructKind {
	return map[string]ConstructKind{
		"function_declaration":           ConstructFunction,
		"generator_function_declaration": ConstructFunction,
		"method_definition":              ConstructMethod,
		"class_declaration":              ConstructClass,
		"field_definition":               ConstructField,
		"lexical_declaration":            ConstructVariable,
		"variable_declaration":           ConstructVariable,
		"import_statement":               ConstructImport,
		"export_statement":               ConstructStatement,
	}
}

func javascriptProfile(lang *sitter.Language) *profile {
	return &profile{
		language:    LangJavaScript,
		grammar:     lang,
		comments:    set("comment", "html_comment"),
		constructs:  javascriptConstructs(),
		blocks:      set("program", "statement_block", "switch_case", "switch_default"),
		scopes:      set("class_declaration", "class", "function_declaration", "generator_function_declaration", "method_definition"),
		identifiers: set("identifier", "property_identifier", "shorthand_property_identifier", "private_property_identifier"),
		unwrap:      unwrapExport,
	}
}

// unwrapExport returns the declaration carried by `export ...`.
func unwrapExport(node *sitter.Node) *sitter.Node {
	if node.Kind() != "export_statement" {
		return nil
	}
	return node.ChildByFieldName("declaration")
}
