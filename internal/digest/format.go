package digest

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/deusflow/digestbot/internal/news"
)

// Formatter renders items as a Markdown message: a header line, a blank
// line, then one numbered block per item:
//
//	1. [Title](https://link)
//	summary
type Formatter struct {
	Header string
}

func NewFormatter(header string) *Formatter {
	return &Formatter{Header: header}
}

// Format numbers items from 1 in slice order. With no items it returns the
// header alone; deciding what to send in that case is the caller's job.
func (f *Formatter) Format(items []news.Item) string {
	var b strings.Builder

	b.WriteString(f.Header)
	b.WriteString("\n\n")
	for i, n := range items {
		fmt.Fprintf(&b, "%d. [%s](%s)\n%s\n\n", i+1, n.Title, n.Link, n.Summary)
	}
	return b.String()
}

// Entry is one item block read back from a formatted message.
type Entry struct {
	Index   int
	Title   string
	Link    string
	Summary string
}

var entryLineRe = regexp.MustCompile(`(?m)^(\d+)\. \[(.*)\]\((\S*)\)\n`)

// Parse reads the item blocks out of a message produced by Format.
// Summaries may span several lines.
func Parse(text string) []Entry {
	locs := entryLineRe.FindAllStringSubmatchIndex(text, -1)
	entries := make([]Entry, 0, len(locs))

	for i, loc := range locs {
		idx, _ := strconv.Atoi(text[loc[2]:loc[3]])
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		entries = append(entries, Entry{
			Index:   idx,
			Title:   text[loc[4]:loc[5]],
			Link:    text[loc[6]:loc[7]],
			Summary: strings.TrimSuffix(text[loc[1]:end], "\n\n"),
		})
	}
	return entries
}
