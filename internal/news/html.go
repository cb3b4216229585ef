package news

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// StripHTML returns the visible text of an HTML fragment with whitespace
// collapsed. Input that does not parse is returned unchanged.
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return collapseSpaces(s)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}

	// Block elements would otherwise glue neighbouring words together.
	doc.Find("br, p, div, li").Each(func(i int, sel *goquery.Selection) {
		sel.BeforeHtml(" ")
	})

	return collapseSpaces(doc.Text())
}
