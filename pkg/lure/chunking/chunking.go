// Package chunking splits oversized markup into segments that can be
// annotated independently and concatenated back into the original document.
package chunking

import (
	"regexp"
	"unicode/utf8"
)

// Block-level closing tags that are safe places to cut a document.
var safeClose = regexp.MustCompile(`(?i)</(?:div|section|article|aside|nav|main|header|footer|p|table|tbody|thead|tr|ul|ol|li|dl|form|fieldset|blockquote|pre|h[1-6]|body)\s*>`)

var anyClose = regexp.MustCompile(`</[A-Za-z][^<>]*>`)

// Split returns doc as an ordered list of chunks no longer than maxBytes.
//
// Each chunk ends at the last preferred block-level closing tag inside the
// window, or failing that at the last closing tag of any kind, or failing that
// at the byte limit (backed off to a UTF-8 boundary). Joining the chunks always
// yields doc exactly, and the result depends only on the inputs.
func Split(doc string, maxBytes int) []string {
	if maxBytes <= 0 || len(doc) <= maxBytes {
		return []string{doc}
	}

	var chunks []string
	pos := 0
	for len(doc)-pos > maxBytes {
		window := doc[pos : pos+maxBytes]
		cut := lastMatchEnd(safeClose, window)
		if cut == 0 {
			cut = lastMatchEnd(anyClose, window)
		}
		if cut == 0 {
			cut = hardCut(doc[pos:], maxBytes)
		}
		chunks = append(chunks, doc[pos:pos+cut])
		pos += cut
	}
	return append(chunks, doc[pos:])
}

func lastMatchEnd(re *regexp.Regexp, s string) int {
	matches := re.FindAllStringIndex(s, -1)
	if len(matches) == 0 {
		return 0
	}
	return matches[len(matches)-1][1]
}

// hardCut returns the largest cut <= max that does not split a UTF-8 sequence.
// s is longer than max.
func hardCut(s string, max int) int {
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		return max
	}
	return cut
}
