// Package wikitext normalises stored encyclopedia extracts. Corpus builds
// ingest Wikipedia API output that sometimes carries residual HTML markup;
// everything downstream (search, summaries, prompts) wants plain prose.
package wikitext

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Clean strips residual HTML from an extract, returning plain prose.
// Plain text input passes through unchanged.
func Clean(extract string) string {
	if !strings.ContainsAny(extract, "<>") {
		return normalizeWhitespace(extract)
	}

	doc, err := html.Parse(strings.NewReader(extract))
	if err != nil {
		return normalizeWhitespace(extract)
	}

	var b strings.Builder
	collectText(doc, &b)
	return normalizeWhitespace(b.String())
}

// Snippet returns the first maxRunes runes of the cleaned extract, cut at a
// word boundary.
func Snippet(extract string, maxRunes int) string {
	text := Clean(extract)
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	cut := string(runes[:maxRunes])
	if idx := strings.LastIndexAny(cut, " 。"); idx > maxRunes/2 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut) + "…"
}

func collectText(n *html.Node, b *strings.Builder) {
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Table:
			return
		case atom.Sup:
			// Citation markers like [1]
			return
		case atom.P, atom.Br, atom.Div, atom.Li:
			if b.Len() > 0 {
				b.WriteString(" ")
			}
		}
	}
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
