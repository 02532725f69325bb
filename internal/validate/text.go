// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package validate

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// textView holds the normalized forms of a reasoning text that the checks
// match against.
type textView struct {
	raw   string
	lower string
	words []string
	set   map[string]bool
	chars int
}

func newTextView(s string) textView {
	lower := strings.ToLower(s)
	words := tokenize(lower)
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return textView{
		raw:   s,
		lower: lower,
		words: words,
		set:   set,
		chars: utf8.RuneCountInString(strings.TrimSpace(s)),
	}
}

// tokenize splits s into runs of letters, digits, and apostrophes.
func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// has reports whether term occurs in the text. Single words match whole
// tokens; phrases match as substrings of the lower-cased text.
func (v textView) has(term string) bool {
	if strings.ContainsRune(term, ' ') || strings.ContainsRune(term, '.') {
		return strings.Contains(v.lower, term)
	}
	return v.set[term]
}

// hasAny reports whether any of terms occurs.
func (v textView) hasAny(terms []string) bool {
	for _, t := range terms {
		if v.has(t) {
			return true
		}
	}
	return false
}

// countDistinct returns how many of terms occur at least once.
func (v textView) countDistinct(terms []string) int {
	n := 0
	for _, t := range terms {
		if v.has(t) {
			n++
		}
	}
	return n
}

// countOccurrences returns the total number of token occurrences of terms.
func (v textView) countOccurrences(terms []string) int {
	want := make(map[string]bool, len(terms))
	for _, t := range terms {
		want[t] = true
	}
	n := 0
	for _, w := range v.words {
		if want[w] {
			n++
		}
	}
	return n
}

// hasWordForm matches stem and its simple inflections (stem+s, stem+d, stem+ed).
func (v textView) hasWordForm(stem string) bool {
	return v.set[stem] || v.set[stem+"s"] || v.set[stem+"d"] || v.set[stem+"ed"]
}

var (
	numberedLine = regexp.MustCompile(`(?m)^\s*\d+[.)]\s+`)
	bulletLine   = regexp.MustCompile(`(?m)^\s*[-*•+]\s+`)
	stepMarker   = regexp.MustCompile(`(?mi)^\s*(?:\*\*)?step\s*\d+`)
	structureAny = regexp.MustCompile(`(?mi)^\s*(?:#{1,6}\s+|\d+[.)]\s+|[-*•+]\s+|(?:\*\*)?step\s*\d+)`)
)

// hasListStructure reports numbered, bulleted, or "Step N" structure.
func hasListStructure(s string) bool {
	return numberedLine.MatchString(s) || bulletLine.MatchString(s) || stepMarker.MatchString(s)
}

// countStructuralMarkers counts lines that open with a heading, a numbered
// item, a bullet, or a step label.
func countStructuralMarkers(s string) int {
	return len(structureAny.FindAllStringIndex(s, -1))
}
