// Package htmlx holds small DOM helpers over golang.org/x/net/html trees.
package htmlx

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// Attr returns the value of attribute key, or "".
func Attr(n *html.Node, key string) string {
	if n == nil {
		return ""
	}
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// HasClass reports whether n carries class cls.
func HasClass(n *html.Node, cls string) bool {
	for _, f := range strings.Fields(Attr(n, "class")) {
		if f == cls {
			return true
		}
	}
	return false
}

// Find returns the first element, in document order, matching pred.
func Find(root *html.Node, pred func(*html.Node) bool) *html.Node {
	if root == nil {
		return nil
	}
	if root.Type == html.ElementNode && pred(root) {
		return root
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if n := Find(c, pred); n != nil {
			return n
		}
	}
	return nil
}

// ByID returns the element with the given id.
func ByID(root *html.Node, id string) *html.Node {
	return Find(root, func(n *html.Node) bool { return Attr(n, "id") == id })
}

// HasAncestor reports whether some ancestor of n matches pred.
func HasAncestor(n *html.Node, pred func(*html.Node) bool) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && pred(p) {
			return true
		}
	}
	return false
}

// Text returns the concatenated text content of n.
func Text(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if n != nil {
		walk(n)
	}
	return b.String()
}

// InnerHTML renders the children of n.
func InnerHTML(n *html.Node) (string, error) {
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}
