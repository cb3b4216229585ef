package news

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
)

// wordClass is what counts as part of a word: Unicode letters, digits and
// underscore, so Cyrillic and other scripts get real word boundaries.
const wordClass = `\p{L}\p{N}_`

// Matcher reports whether a text mentions any keyword as a whole word.
// A keyword "war" matches "the war ends" but not "warm" or "prewar".
// It is safe for concurrent use.
type Matcher struct {
	re *regexp.Regexp
}

// NewMatcher compiles the keyword set once. Blank keywords are ignored;
// a Matcher with no keywords matches nothing.
func NewMatcher(keywords []string) *Matcher {
	alts := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = fold(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		alts = append(alts, regexp.QuoteMeta(k))
	}
	if len(alts) == 0 {
		return &Matcher{}
	}

	pattern := `(?:^|[^` + wordClass + `])(?:` + strings.Join(alts, "|") + `)(?:[^` + wordClass + `]|$)`
	return &Matcher{re: regexp.MustCompile(pattern)}
}

// Match folds the case of text and looks for any keyword.
func (m *Matcher) Match(text string) bool {
	if m == nil || m.re == nil || text == "" {
		return false
	}
	return m.re.MatchString(fold(text))
}

// Matches is the one-shot form of NewMatcher(keywords).Match(text).
func Matches(text string, keywords []string) bool {
	return NewMatcher(keywords).Match(text)
}

// fold case-folds s. A Caser keeps state, so each call gets its own.
func fold(s string) string {
	return cases.Fold().String(s)
}
