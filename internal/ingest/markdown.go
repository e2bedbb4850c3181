package ingest

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// markdownSections parses source and emits one section per heading, with
// any text before the first heading labeled "intro".
func markdownSections(source []byte) []section {
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(source))

	var sections []section
	label := "intro"
	var current strings.Builder
	flush := func() {
		content := strings.TrimSpace(current.String())
		if content != "" {
			sections = append(sections, section{label: label, content: content})
		}
		current.Reset()
	}

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if h, ok := n.(*ast.Heading); ok {
			flush()
			label = sectionLabel(nodeText(h, source))
			continue
		}
		t := strings.TrimSpace(nodeText(n, source))
		if t == "" {
			continue
		}
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(t)
	}
	flush()
	return sections
}

// nodeText collects the literal text beneath a node.
func nodeText(n ast.Node, source []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				sb.WriteString(" ")
			}
		case *ast.String:
			sb.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return sb.String()
}

// sectionLabel turns a heading into a compact provenance label.
func sectionLabel(heading string) string {
	fields := strings.Fields(strings.ToLower(heading))
	if len(fields) == 0 {
		return "section"
	}
	var kept []string
	for _, f := range fields {
		var b strings.Builder
		for _, r := range f {
			if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
				b.WriteRune(r)
			}
		}
		if b.Len() > 0 {
			kept = append(kept, b.String())
		}
	}
	if len(kept) == 0 {
		return "section"
	}
	return strings.Join(kept, "-")
}
