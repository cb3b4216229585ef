package news

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestMatches_WholeWord(t *testing.T) {
	keywords := []string{"war"}

	positives := []string{
		"war",
		"The war is over",
		"WAR declared",
		"trade-war escalates",
		"(war)",
		"end of war.",
	}
	for _, text := range positives {
		if !Matches(text, keywords) {
			t.Errorf("Expected %q to match keyword 'war'", text)
		}
	}

	negatives := []string{
		"warming climate",
		"warm weather",
		"prewar period",
		"software",
		"war_room",
		"war2",
	}
	for _, text := range negatives {
		if Matches(text, keywords) {
			t.Errorf("Expected %q not to match keyword 'war'", text)
		}
	}
}

func TestMatches_AnyKeyword(t *testing.T) {
	keywords := []string{"economy", "sanctions"}

	if !Matches("New sanctions announced", keywords) {
		t.Error("Expected match on second keyword")
	}
	if Matches("Weather report for Tuesday", keywords) {
		t.Error("Expected no match")
	}
}

func TestMatches_Cyrillic(t *testing.T) {
	keywords := []string{"санкции"}

	if !Matches("Новые САНКЦИИ против банков", keywords) {
		t.Error("Expected case-folded Cyrillic keyword to match")
	}
	if Matches("антисанкциинные меры", keywords) {
		t.Error("Expected Cyrillic keyword inside a longer word not to match")
	}
}

func TestMatches_Empty(t *testing.T) {
	if Matches("anything at all", nil) {
		t.Error("Expected no match with empty keyword set")
	}
	if Matches("anything at all", []string{"", "  "}) {
		t.Error("Expected blank keywords to be ignored")
	}
	if Matches("", []string{"war"}) {
		t.Error("Expected no match on empty text")
	}

	var m *Matcher
	if m.Match("war") {
		t.Error("Expected nil matcher to match nothing")
	}
}

func TestMatches_KeywordWithRegexpMeta(t *testing.T) {
	keywords := []string{"c++", "u.s."}

	if !Matches("Why c++ still matters", keywords) {
		t.Error("Expected literal 'c++' to match")
	}
	if !Matches("U.S. markets rally", keywords) {
		t.Error("Expected literal 'u.s.' to match")
	}
	if Matches("uxsx markets", keywords) {
		t.Error("Expected '.' in keyword to be literal")
	}
}

func TestMatches_PhraseKeyword(t *testing.T) {
	keywords := []string{"central bank"}

	if !Matches("The Central Bank raised rates", keywords) {
		t.Error("Expected phrase keyword to match")
	}
	if Matches("central banking reform", keywords) {
		t.Error("Expected phrase keyword to respect the trailing word boundary")
	}
}

func TestMatcher_ConcurrentUse(t *testing.T) {
	m := NewMatcher([]string{"war"})
	done := make(chan bool)
	for i := 0; i < 8; i++ {
		go func() {
			ok := true
			for j := 0; j < 100; j++ {
				ok = ok && m.Match("the war") && !m.Match("warm")
			}
			done <- ok
		}()
	}
	for i := 0; i < 8; i++ {
		if !<-done {
			t.Error("Concurrent Match returned a wrong result")
		}
	}
}

func TestTruncateSummary_LongIsCut(t *testing.T) {
	long := strings.Repeat("a", 200)
	got := TruncateSummary(long, 150, "...")

	if got != strings.Repeat("a", 150)+"..." {
		t.Errorf("Expected 150 runes plus marker, got %d runes", utf8.RuneCountInString(got))
	}
}

// The marker is appended to every summary, including ones under the cap.
func TestTruncateSummary_MarkerAlwaysAppended(t *testing.T) {
	short := strings.Repeat("b", 140)
	got := TruncateSummary(short, 150, "...")

	if got != short+"..." {
		t.Errorf("Expected untouched 140-char summary plus marker, got %q", got)
	}
	if n := utf8.RuneCountInString(got); n != 143 {
		t.Errorf("Expected 143 runes, got %d", n)
	}

	exact := strings.Repeat("c", 150)
	if got := TruncateSummary(exact, 150, "..."); got != exact+"..." {
		t.Errorf("Expected exactly-150 summary kept whole plus marker, got %q", got)
	}

	if got := TruncateSummary("", 150, "..."); got != "..." {
		t.Errorf("Expected empty summary to become the marker alone, got %q", got)
	}
}

func TestTruncateSummary_CountsRunes(t *testing.T) {
	cyr := strings.Repeat("ж", 160)
	got := TruncateSummary(cyr, 150, "...")

	if !utf8.ValidString(got) {
		t.Fatal("Truncation split a multi-byte rune")
	}
	if n := utf8.RuneCountInString(got); n != 153 {
		t.Errorf("Expected 153 runes, got %d", n)
	}
}

func TestSummaryPolicy_NewItem(t *testing.T) {
	p := DefaultSummaryPolicy
	e := Entry{Title: "Title", Summary: "Short summary", Link: "https://example.com/a"}

	item := p.NewItem(e)
	if item.Title != e.Title || item.Link != e.Link {
		t.Errorf("Expected title and link unchanged, got %+v", item)
	}
	if item.Summary != "Short summary..." {
		t.Errorf("Expected summary with marker, got %q", item.Summary)
	}
}

func TestEntry_CheckText(t *testing.T) {
	e := Entry{Title: "Peace", Summary: "talks"}
	if got := e.CheckText(); got != "Peace talks" {
		t.Errorf("Expected 'Peace talks', got %q", got)
	}

	// Title and summary are joined with a space, so a keyword cannot be
	// formed across the seam.
	e = Entry{Title: "wa", Summary: "r"}
	if Matches(e.CheckText(), []string{"war"}) {
		t.Error("Expected no match across title/summary boundary")
	}
}

func TestStripHTML(t *testing.T) {
	cases := map[string]string{
		"plain   text\n here":                     "plain text here",
		"<p>First</p><p>Second</p>":               "First Second",
		"Line<br>break":                           "Line break",
		`<a href="https://x">link</a> &amp; more`: "link & more",
		"<div><b>bold</b> <i>italic</i></div>":    "bold italic",
	}
	for in, want := range cases {
		if got := StripHTML(in); got != want {
			t.Errorf("StripHTML(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSummaryPolicy_Prepare(t *testing.T) {
	raw := "<p>war news</p>"

	if got := (SummaryPolicy{}).Prepare(raw); got != raw {
		t.Errorf("Expected raw summary when StripHTML is off, got %q", got)
	}
	if got := (SummaryPolicy{StripHTML: true}).Prepare(raw); got != "war news" {
		t.Errorf("Expected stripped summary, got %q", got)
	}
}
