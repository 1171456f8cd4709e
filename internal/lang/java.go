package lang

import (
	"github.com/smacker/go-tree-sitter/java"
)

func init() {
	Languages["java"] = &Language{
		Name:       "java",
		Extensions: []string{".java"},
		lang:       java.GetLanguage(),
		TypeDeclarations: map[string]struct{}{
			"class_declaration":           {},
			"interface_declaration":       {},
			"enum_declaration":            {},
			"annotation_type_declaration": {},
			"record_declaration":          {},
		},
	}
}
