package prompt

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var mdParser = goldmark.New().Parser()

// PlainText flattens markdown into plain text: markup is dropped, words,
// list structure and paragraph breaks are kept.
func PlainText(md string) string {
	src := []byte(md)
	doc := mdParser.Parse(text.NewReader(src))

	var sb strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				sb.Write(node.Segment.Value(src))
				if node.SoftLineBreak() || node.HardLineBreak() {
					sb.WriteByte('\n')
				}
			}
		case *ast.String:
			if entering {
				sb.Write(node.Value)
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					sb.Write(seg.Value(src))
				}
				return ast.WalkSkipChildren, nil
			}
		case *ast.ListItem:
			if entering {
				sb.WriteString("- ")
			}
		case *ast.AutoLink:
			if entering {
				sb.Write(node.Label(src))
			}
			return ast.WalkSkipChildren, nil
		}
		if !entering && n.Type() == ast.TypeBlock {
			if !strings.HasSuffix(sb.String(), "\n") {
				sb.WriteByte('\n')
			}
			inItem := n.Parent() != nil && n.Parent().Kind() == ast.KindListItem
			switch n.Kind() {
			case ast.KindParagraph, ast.KindHeading, ast.KindList, ast.KindFencedCodeBlock, ast.KindCodeBlock:
				if !inItem {
					sb.WriteByte('\n')
				}
			}
		}
		return ast.WalkContinue, nil
	})

	lines := strings.Split(sb.String(), "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, l := range lines {
		l = strings.TrimRight(l, " \t")
		if l == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
