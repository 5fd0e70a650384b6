package inpi

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

// parseHTML decodes body using the declared or sniffed charset.
// pePI serves ISO-8859-1 pages.
func parseHTML(body []byte, contentType string) (*html.Node, error) {
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return nil, fmt.Errorf("detect charset: %w", err)
	}
	return html.Parse(r)
}

// extractText returns the whitespace-collapsed text of a node
func extractText(n *html.Node) string {
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			buf.WriteString(node.Data)
			buf.WriteString(" ")
			return
		}
		if node.Type == html.ElementNode && (node.Data == "script" || node.Data == "style") {
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(buf.String()), " ")
}

func isElement(n *html.Node, tag string) bool {
	return n.Type == html.ElementNode && n.Data == tag
}

// findAll finds all nodes matching a predicate
func findAll(n *html.Node, predicate func(*html.Node) bool) []*html.Node {
	var results []*html.Node

	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if predicate(node) {
			results = append(results, node)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	walk(n)
	return results
}

// children returns the direct element children with the given tag
func children(n *html.Node, tag string) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if isElement(c, tag) {
			out = append(out, c)
		}
	}
	return out
}

// labeledRows maps the text of the first cell of every table row to the
// text of the following cell. Rows without a value cell are skipped.
func labeledRows(doc *html.Node) [][2]string {
	var rows [][2]string
	for _, tr := range findAll(doc, func(n *html.Node) bool { return isElement(n, "tr") }) {
		cells := children(tr, "td")
		if len(cells) < 2 {
			continue
		}
		label := extractText(cells[0])
		if label == "" {
			continue
		}
		rows = append(rows, [2]string{label, extractText(cells[1])})
	}
	return rows
}
