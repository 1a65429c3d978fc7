package ingest

import (
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var mdParser = goldmark.New()

// NormalizeText prepares raw file content for chunking. Markdown files are
// reduced to their plain text so headings, emphasis markers and link targets
// do not pollute the embedded words; everything else passes through as-is.
func NormalizeText(fileName string, content []byte) string {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".md", ".markdown":
		return extractMarkdownText(content)
	default:
		return string(content)
	}
}

// extractMarkdownText walks the markdown AST and collects the text content,
// separating block-level nodes with newlines.
func extractMarkdownText(content []byte) string {
	reader := text.NewReader(content)
	doc := mdParser.Parser().Parse(reader)

	var builder strings.Builder

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Text:
			builder.Write(node.Segment.Value(content))
			if node.SoftLineBreak() || node.HardLineBreak() {
				builder.WriteByte('\n')
			}
		case *ast.String:
			builder.Write(node.Value)
		case *ast.CodeBlock:
			writeBlockLines(&builder, node.Lines(), content)
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock:
			writeBlockLines(&builder, node.Lines(), content)
			return ast.WalkSkipChildren, nil
		case *ast.Heading, *ast.Paragraph, *ast.ListItem, *ast.Blockquote:
			if builder.Len() > 0 && !strings.HasSuffix(builder.String(), "\n") {
				builder.WriteByte('\n')
			}
		}
		return ast.WalkContinue, nil
	})

	return strings.TrimSpace(builder.String())
}

// writeBlockLines appends the raw source lines of a code block.
func writeBlockLines(builder *strings.Builder, lines *text.Segments, content []byte) {
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		builder.Write(line.Value(content))
	}
}
