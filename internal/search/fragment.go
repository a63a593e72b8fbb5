package search

import (
	"io"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"taskbell/pkg/htmlx"
)

// ResultsContainerClass marks the element whose table body holds results.
const ResultsContainerClass = "table-responsive"

// ExtractResults returns the inner HTML of the first tbody, in document order,
// that sits inside an element with class "table-responsive". found is false
// when the document has no such tbody.
func ExtractResults(r io.Reader) (fragment string, found bool, err error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", false, err
	}
	inResults := func(n *html.Node) bool { return htmlx.HasClass(n, ResultsContainerClass) }
	tbody := htmlx.Find(doc, func(n *html.Node) bool {
		return n.DataAtom == atom.Tbody && htmlx.HasAncestor(n, inResults)
	})
	if tbody == nil {
		return "", false, nil
	}
	frag, err := htmlx.InnerHTML(tbody)
	if err != nil {
		return "", false, err
	}
	return frag, true, nil
}
