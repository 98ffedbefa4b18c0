package clean

import (
	"regexp"
	"strings"

	"github.com/k3a/html2text"
	"golang.org/x/net/html"
)

var blankRun = regexp.MustCompile(`\n{3,}`)

// HTMLToText converts an HTML body to plain text. Style, script, and image
// elements are dropped; anchors keep their text as [text](url). If the HTML
// does not parse, a flat tag-stripping conversion is used instead.
func HTMLToText(htmlBody string) string {
	root, err := html.Parse(strings.NewReader(htmlBody))
	if err != nil {
		return strings.TrimSpace(html2text.HTML2Text(htmlBody))
	}

	var b strings.Builder
	renderNode(&b, root)

	text := collapseSpaces(b.String())
	text = blankRun.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func renderNode(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.ElementNode:
		switch n.Data {
		case "style", "script", "head", "img":
			return
		case "a":
			renderAnchor(b, n)
			return
		case "br":
			b.WriteString("\n")
		case "p", "div", "tr", "li", "h1", "h2", "h3", "h4", "h5", "h6", "blockquote", "table":
			b.WriteString("\n")
		}
	case html.TextNode:
		b.WriteString(n.Data)
		return
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		renderNode(b, c)
	}

	if n.Type == html.ElementNode {
		switch n.Data {
		case "p", "div", "tr", "li", "h1", "h2", "h3", "h4", "h5", "h6", "blockquote", "table":
			b.WriteString("\n")
		}
	}
}

// renderAnchor writes an anchor as [text](href). Anchors without text or
// without an href degrade to whichever part exists.
func renderAnchor(b *strings.Builder, n *html.Node) {
	var href string
	for _, attr := range n.Attr {
		if attr.Key == "href" {
			href = strings.TrimSpace(attr.Val)
			break
		}
	}

	var textB strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		renderNode(&textB, c)
	}
	text := strings.TrimSpace(collapseSpaces(textB.String()))

	switch {
	case text != "" && href != "" && !strings.HasPrefix(href, "#"):
		b.WriteString("[" + text + "](" + href + ")")
	case text != "":
		b.WriteString(text)
	case href != "" && !strings.HasPrefix(href, "#"):
		b.WriteString(href)
	}
}

// collapseSpaces collapses runs of spaces and tabs within lines and trims
// trailing whitespace, preserving newlines.
func collapseSpaces(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return strings.Join(lines, "\n")
}
