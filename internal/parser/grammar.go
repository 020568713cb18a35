package parser

import (
	sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"
)

// Grammar wraps the compiled tree-sitter grammar for the subject
// language. One instance is shared by every parse in a merge run.
type Grammar struct {
	lang *sitter.Language
}

func NewGrammar() *Grammar {
	return &Grammar{lang: sitter.NewLanguage(tree_sitter_python.Language())}
}

func (g *Grammar) language() *sitter.Language { return g.lang }
