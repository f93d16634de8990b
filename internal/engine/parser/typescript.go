package parser

import sitter "github.com/tree-sitter/go-tree-sitter"

// typescriptProfile serves both the .ts and .tsx grammars.
func typescriptProfile(id Language, lang *sitter.Language) *profile {
	constructs := javascriptConstructs()
	for kind, c := range map[string]ConstructKind{
		"abstract_class_declaration": ConstructClass,
		"interface_declaration":      ConstructInterface,
		"type_alias_declaration":     ConstructType,
		"enum_declaration":           ConstructType,
		"public_field_definition":    ConstructField,
		"property_signature":         ConstructField,
		"method_signature":           ConstructMethod,
		"abstract_method_signature":  ConstructMethod,
		"function_signature":         ConstructFunction,
		"module":                     ConstructType,
		"internal_module":            ConstructType,
	} {
		constructs[kind] = c
	}

	return &profile{
		language:   id,
		grammar:    lang,
		comments:   set("comment", "html_comment"),
		constructs: constructs,
		blocks:     set("program", "statement_block", "switch_case", "switch_default"),
		scopes: set("class_declaration", "class", "abstract_class_declaration", "interface_declaration",
			"function_declaration", "generator_function_declaration", "method_definition", "internal_module", "module"),
		identifiers: set("identifier", "property_identifier", "shorthand_property_identifier",
			"private_property_identifier", "type_identifier"),
		unwrap: unwrapExport,
	}
}
