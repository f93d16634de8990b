package parser

import sitter "github.com/tree-sitter/go-tree-sitter"

func pythonProfile(lang *sitter.Language) *profile {
	return &profile{
		language: LangPython,
		grammar:  lang,
		comments: set("comment"),
		constructs: map[string]ConstructKind{
			"function_definition":   ConstructFunction,
			"class_definition":      ConstructClass,
			"decorated_definition":  ConstructFunction,
			"import_statement":      ConstructImport,
			"import_from_statement": ConstructImport,
		},
		blocks:      set("module", "block"),
		scopes:      set("class_definition", "function_definition"),
		identifiers: set("identifier"),
		unwrap: func(node *sitter.Node) *sitter.Node {
			if node.Kind() != "decorated_definition" {
				return nil
			}
			return node.ChildByFieldName("definition")
		},
	}
}
