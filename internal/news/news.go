// Package news holds the item types shared by the digest pipeline and the
// rules that turn a raw feed entry into a digest item.
package news

import (
	"strings"
)

// Entry is one parsed feed entry. It lives only for a single fetch pass.
type Entry struct {
	Title   string
	Summary string // may be empty
	Link    string
}

// CheckText is the text keywords are matched against: title and summary
// joined by a space.
func (e Entry) CheckText() string {
	return e.Title + " " + e.Summary
}

// Item is a matched entry kept for digest inclusion.
type Item struct {
	Title   string
	Summary string
	Link    string
}

// SummaryPolicy controls how an entry summary becomes an item summary.
type SummaryPolicy struct {
	MaxChars  int    // rune budget; <= 0 keeps the whole text
	Marker    string // always appended, see TruncateSummary
	StripHTML bool
}

// DefaultSummaryPolicy cuts at 150 characters and appends "...".
var DefaultSummaryPolicy = SummaryPolicy{MaxChars: 150, Marker: "..."}

// TruncateSummary keeps the first max runes of s and appends marker.
//
// The marker is appended even when s is already shorter than max, so a
// 140-character summary comes out as 143 characters.
func TruncateSummary(s string, max int, marker string) string {
	if max > 0 {
		runes := []rune(s)
		if len(runes) > max {
			s = string(runes[:max])
		}
	}
	return s + marker
}

// Prepare returns the summary used for matching (HTML removed when the
// policy asks for it).
func (p SummaryPolicy) Prepare(raw string) string {
	if p.StripHTML {
		return StripHTML(raw)
	}
	return raw
}

// NewItem builds the digest item for an entry that already matched.
func (p SummaryPolicy) NewItem(e Entry) Item {
	return Item{
		Title:   e.Title,
		Summary: TruncateSummary(e.Summary, p.MaxChars, p.Marker),
		Link:    e.Link,
	}
}

// collapseSpaces turns any run of whitespace into a single space.
func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
