// Package sanitize normalizes raw user input before any other defense
// layer inspects it.
package sanitize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// DefaultMaxLength is the input length cap applied when none is configured.
const DefaultMaxLength = 4000

// truncationMarker is appended to over-long input. The marker counts toward
// the length cap so that sanitizing already-truncated text is a no-op.
const truncationMarker = "... [truncated]"

// homoglyphMap replaces confusable characters with their ASCII equivalents.
// NFKC handles fullwidth and compatibility forms; these cross-script
// lookalikes survive normalization and need an explicit table.
var homoglyphMap = map[rune]rune{
	// Cyrillic
	'а': 'a', 'А': 'A',
	'е': 'e', 'Е': 'E',
	'о': 'o', 'О': 'O',
	'р': 'p', 'Р': 'P',
	'с': 'c', 'С': 'C',
	'у': 'y', 'У': 'Y',
	'х': 'x', 'Х': 'X',
	'і': 'i', 'І': 'I',
	'ј': 'j', 'Ј': 'J',
	'ѕ': 's', 'Ѕ': 'S',
	// Greek
	'α': 'a', 'Α': 'A',
	'ε': 'e', 'Ε': 'E',
	'ο': 'o', 'Ο': 'O',
	'ρ': 'p', 'Ρ': 'P',
	'τ': 't', 'Τ': 'T',
}

// delimiterRule breaks up a run of structural characters so downstream
// prompt assembly cannot parse it as a boundary.
type delimiterRule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Sanitizer normalizes user text. The zero value is not usable; construct
// with New.
type Sanitizer struct {
	maxLength int
	delims    []delimiterRule
}

// New creates a Sanitizer with the given length cap. A non-positive
// maxLength falls back to DefaultMaxLength.
func New(maxLength int) *Sanitizer {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return &Sanitizer{
		maxLength: maxLength,
		delims: []delimiterRule{
			{regexp.MustCompile(`-{3,}`), "- - -"},
			{regexp.MustCompile("`{3,}"), "` ` `"},
			{regexp.MustCompile(`\[{2,}`), "[ ["},
			{regexp.MustCompile(`\]{2,}`), "] ]"},
			{regexp.MustCompile(`<(/?)system>`), "< ${1}system >"},
			{regexp.MustCompile(`<(/?)admin>`), "< ${1}admin >"},
		},
	}
}

// Sanitize applies every normalization step in fixed order: Unicode NFKC,
// homoglyph substitution, invisible-character stripping, delimiter
// neutralization, length enforcement. It is total (never fails) and
// idempotent: Sanitize(Sanitize(x)) == Sanitize(x).
func (s *Sanitizer) Sanitize(text string) string {
	text = normalizeUnicode(text)
	text = stripInvisible(text)
	text = s.neutralizeDelimiters(text)
	text = s.enforceLength(text)
	return text
}

// normalizeUnicode applies NFKC then the homoglyph table.
func normalizeUnicode(text string) string {
	text = norm.NFKC.String(text)

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if replacement, ok := homoglyphMap[r]; ok {
			b.WriteRune(replacement)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// stripInvisible removes Unicode format-category characters (zero-width
// spaces, joiners, BOM, directional marks) that can split keywords without
// being visible. Whitespace, newline, and tab pass through.
func stripInvisible(text string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || r == ' ' {
			return r
		}
		if unicode.Is(unicode.Cf, r) {
			return -1
		}
		return r
	}, text)
}

func (s *Sanitizer) neutralizeDelimiters(text string) string {
	for _, rule := range s.delims {
		text = rule.pattern.ReplaceAllString(text, rule.replacement)
	}
	return text
}

// enforceLength caps the text at maxLength runes. The truncation marker is
// counted within the cap: output length never exceeds maxLength, and text
// at or under the cap is returned unchanged.
func (s *Sanitizer) enforceLength(text string) string {
	runes := []rune(text)
	if len(runes) <= s.maxLength {
		return text
	}
	keep := s.maxLength - len(truncationMarker)
	if keep < 0 {
		keep = 0
	}
	return string(runes[:keep]) + truncationMarker
}
