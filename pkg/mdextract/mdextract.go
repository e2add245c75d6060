// Package mdextract pulls fenced code blocks out of assistant replies so the CLI can copy them.
package mdextract

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// CodeBlock is one fenced or indented code block, in document order.
type CodeBlock struct {
	Language string
	Code     string
}

var parser = goldmark.New().Parser()

// CodeBlocks returns every code block in markdown source.
func CodeBlocks(source string) []CodeBlock {
	src := []byte(source)
	doc := parser.Parse(text.NewReader(src))

	var out []CodeBlock
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch b := n.(type) {
		case *ast.FencedCodeBlock:
			out = append(out, CodeBlock{Language: string(b.Language(src)), Code: linesOf(b, src)})
			return ast.WalkSkipChildren, nil
		case *ast.CodeBlock:
			out = append(out, CodeBlock{Code: linesOf(b, src)})
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return out
}

// LastCodeBlock returns the last code block, which is usually the answer in a reply that
// shows intermediate steps first.
func LastCodeBlock(source string) (CodeBlock, bool) {
	blocks := CodeBlocks(source)
	if len(blocks) == 0 {
		return CodeBlock{}, false
	}
	return blocks[len(blocks)-1], true
}

func linesOf(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(src))
	}
	return strings.TrimRight(buf.String(), "\n")
}
