package model

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	reservedChars   = regexp.MustCompile(`[.#$\[\],\s]`)
	disallowedChars = regexp.MustCompile(`[^a-z0-9-]`)
	hyphenRuns      = regexp.MustCompile(`-+`)
)

// Slugify derives a path-safe identifier from a title: lowercase ASCII
// letters, digits and single hyphens, with no leading or trailing hyphen.
// Titles with no Latin letters or digits, such as "三体", get "book-" and a
// hash of the normalized title instead.
func Slugify(title string) string {
	s := stripMarks(strings.ToLower(title))
	s = reservedChars.ReplaceAllString(s, "-")
	s = disallowedChars.ReplaceAllString(s, "")
	s = hyphenRuns.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" && hasWord(title) {
		return hashSlug(title)
	}
	return s
}

func hasWord(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsNumber(r)
	}) >= 0
}

func hashSlug(title string) string {
	key := norm.NFC.String(strings.Join(strings.Fields(strings.ToLower(title)), " "))
	sum := sha256.Sum256([]byte(key))
	return "book-" + hex.EncodeToString(sum[:6])
}

// stripMarks decomposes s and drops combining marks so "é" becomes "e".
func stripMarks(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range norm.NFKD.String(s) {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
