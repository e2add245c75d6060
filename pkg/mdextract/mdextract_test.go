package mdextract

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodeBlocks(t *testing.T) {
	src := "Here you go:\n\n```go\nfmt.Println(\"hi\")\nreturn nil\n```\n\nand a shell one\n\n```\nls -la\n```\n"
	blocks := CodeBlocks(src)
	require.Len(t, blocks, 2)
	require.Equal(t, "go", blocks[0].Language)
	require.Equal(t, "fmt.Println(\"hi\")\nreturn nil", blocks[0].Code)
	require.Equal(t, "", blocks[1].Language)
	require.Equal(t, "ls -la", blocks[1].Code)

	last, ok := LastCodeBlock(src)
	require.True(t, ok)
	require.Equal(t, "ls -la", last.Code)
}

func TestIndentedCodeBlock(t *testing.T) {
	blocks := CodeBlocks("text\n\n    indented()\n")
	require.Len(t, blocks, 1)
	require.Equal(t, "indented()", blocks[0].Code)
}

func TestNoCodeBlocks(t *testing.T) {
	require.Empty(t, CodeBlocks("just *prose* and `inline` code"))
	_, ok := LastCodeBlock("")
	require.False(t, ok)
}
