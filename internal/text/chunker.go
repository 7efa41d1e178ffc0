package text

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	tagRe        = regexp.MustCompile(`(?s)<[^>]*>`)
	scriptRe     = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	blockCloseRe = regexp.MustCompile(`(?i)</(p|div|h[1-6]|li|blockquote|section|article|tr)>|<br\s*/?>`)
	spaceRe      = regexp.MustCompile(`[ \t]+`)
	blankRe      = regexp.MustCompile(`\n{3,}`)
	entities     = strings.NewReplacer("&nbsp;", " ", "&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&#39;", "'")
)

// Normalize strips HTML markup from CMS content and collapses whitespace.
// Block-level closings become paragraph breaks so the window splitter can
// prefer paragraph boundaries.
func Normalize(content string) string {
	s := scriptRe.ReplaceAllString(content, "")
	s = blockCloseRe.ReplaceAllString(s, "\n\n")
	s = tagRe.ReplaceAllString(s, "")
	s = entities.Replace(s)
	s = spaceRe.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	s = strings.Join(lines, "\n")
	s = blankRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// Fingerprint identifies one revision of a source's content. Two syncs that
// deliver markup differences but identical normalized text map to the same
// fingerprint, which is what makes re-sync idempotent.
func Fingerprint(title, content string) string {
	h := sha256.Sum256([]byte(title + "\n" + Normalize(content)))
	return fmt.Sprintf("%x", h)
}

// Chunk splits normalized content into windows of at most maxChars, carrying
// the last overlap characters of each window into the next one. Boundaries
// are chosen paragraph-first, then sentence, then word; a hard cut is the
// last resort for pathological unbroken runs. Empty content yields nil,
// content within one window yields exactly one chunk.
func Chunk(content string, maxChars, overlap int) []string {
	normalized := Normalize(content)
	if normalized == "" {
		return nil
	}
	if len(normalized) <= maxChars {
		return []string{normalized}
	}

	var chunks []string
	rest := normalized
	for len(rest) > 0 {
		if len(rest) <= maxChars {
			chunks = append(chunks, rest)
			break
		}

		cut := boundary(rest, maxChars)
		chunks = append(chunks, strings.TrimSpace(rest[:cut]))

		next := cut - overlap
		if next <= 0 {
			next = cut
		}
		rest = strings.TrimLeft(rest[runeStart(rest, next):], " \n")
	}

	return chunks
}

// boundary returns a cut position <= max, preferring paragraph breaks, then
// sentence ends, then spaces.
func boundary(s string, max int) int {
	window := s[:max]

	if i := strings.LastIndex(window, "\n\n"); i > max/2 {
		return i
	}
	for _, sep := range []string{". ", "! ", "? ", ".\n"} {
		if i := strings.LastIndex(window, sep); i > max/2 {
			return i + 1
		}
	}
	if i := strings.LastIndexAny(window, " \n"); i > max/2 {
		return i
	}
	return runeStart(s, max)
}

// runeStart backs i off to the start of the rune containing s[i], so byte
// cuts never split a multi-byte character.
func runeStart(s string, i int) int {
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}
