package parser

import sitter "github.com/tree-sitter/go-tree-sitter"

func rustProfile(lang *sitter.Language) *profile {
	return &profile{
		language: LangRust,
		grammar:  lang,
		comments: set("line_comment", "block_comment"),
		constructs: map[string]ConstructKind{
			"function_item":           ConstructFunction,
			"function_signature_item": ConstructFunction,
			"struct_item":             ConstructClass,
			"enum_item":               ConstructType,
			"union_item":              ConstructType,
			"trait_item":              ConstructInterface,
			"impl_item":               ConstructClass,
			"type_item":               ConstructType,
			"mod_item":                ConstructType,
			"const_item":              ConstructVariable,
			"static_item":             ConstructVariable,
			"let_declaration":         ConstructVariable,
			"use_declaration":         ConstructImport,
			"field_declaration":       ConstructField,
			"enum_variant":            ConstructField,
			"macro_definition":        ConstructFunction,
		},
		blocks:      set("source_file", "block", "declaration_list"),
		scopes:      set("impl_item", "trait_item", "mod_item", "function_item", "struct_item", "enum_item"),
		identifiers: set("identifier", "field_identifier", "type_identifier"),
		unwrap: func(node *sitter.Node) *sitter.Node {
			if node.Kind() != "attribute_item" {
				return nil
			}
			// #[derive(...)] and friends decorate the next item.
			for sib := node.NextNamedSibling(); sib != nil; sib = sib.NextNamedSibling() {
				switch sib.Kind() {
				case "attribute_item", "line_comment", "block_comment":
					continue
				}
				return sib
			}
			return nil
		},
		name: func(ctx *nodeContext, node *sitter.Node) string {
			// impl blocks are known by the type they implement.
			if node.Kind() == "impl_item" {
				if t := node.ChildByFieldName("type"); t != nil {
					return ctx.LastIdentifier(t)
				}
			}
			return ""
		},
	}
}
