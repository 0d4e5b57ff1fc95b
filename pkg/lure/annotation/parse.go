package annotation

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// DefaultDifficulty is used when a cue response has no usable difficulty line.
const DefaultDifficulty = 2

var (
	codeFence      = regexp.MustCompile("(?s)```(?:html)?\\s*\\n?(.*?)\\n?```")
	leadingMarkup  = regexp.MustCompile(`(?i)^\s*<(?:!DOCTYPE|html|head|body|div|form|script|style|!--|meta|link)`)
	throughHTML    = regexp.MustCompile(`(?is)^(.*?</html>\s*)(?:[^<]|$)`)
	throughBody    = regexp.MustCompile(`(?is)^(.*?</body>\s*)(?:[^<]|$)`)
	outermostTags  = regexp.MustCompile(`(?s)<.*>`)
	difficultyLine = regexp.MustCompile(`(?i)^\s*DIFFICULTY:\s*(\d+)[^\n]*\n?`)
	tagAttr        = regexp.MustCompile(`data-tag="([^"]+)"`)
	cueAttr        = regexp.MustCompile(`data-cue="([^"]+)"`)
	addedAttr      = regexp.MustCompile(`\s+data-(?:tag|cue)="[^"]*"`)
)

// ErrFragmentAltered means a reply for a document fragment changed more than
// the label attributes.
var ErrFragmentAltered = errors.New("annotation changed the fragment beyond its label attributes")

// stripCodeFences unwraps ``` / ```html blocks and trims the result.
func stripCodeFences(text string) string {
	return strings.TrimSpace(codeFence.ReplaceAllString(text, "${1}"))
}

// extractHTML drops prose a model wrapped around its markup.
func extractHTML(text string) string {
	if leadingMarkup.MatchString(text) {
		if m := throughHTML.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
		if m := throughBody.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	if m := outermostTags.FindString(text); m != "" {
		return strings.TrimSpace(m)
	}
	return strings.TrimSpace(text)
}

// parseDifficulty reads a leading DIFFICULTY:<n> line and returns the rating
// and the text with that line removed. Missing or out-of-range values yield
// DefaultDifficulty; the text is only changed when a marker line was present.
func parseDifficulty(text string) (int, string, bool) {
	m := difficultyLine.FindStringSubmatchIndex(text)
	if m == nil {
		return DefaultDifficulty, text, false
	}
	rest := text[m[1]:]
	n, err := strconv.Atoi(text[m[2]:m[3]])
	if err != nil || n < 1 || n > 3 {
		return DefaultDifficulty, rest, true
	}
	return n, rest, true
}

// extractAttr returns the distinct values of re's first group in order of
// first appearance.
func extractAttr(re *regexp.Regexp, doc string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range re.FindAllStringSubmatch(doc, -1) {
		v := strings.TrimSpace(m[1])
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// unfence returns the body of the first fenced block in text.
func unfence(text string) (string, bool) {
	m := codeFence.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// StripLabels removes data-tag and data-cue attributes from doc.
func StripLabels(doc string) string {
	return addedAttr.ReplaceAllString(doc, "")
}

// matchFragment returns the annotated form of fragment found in reply. The
// reply, or the body of its code fence, must equal fragment once label
// attributes are removed from both. Whitespace the model dropped or added
// around the markup is restored from fragment.
func matchFragment(reply, fragment string) (string, bool) {
	want := StripLabels(fragment)
	candidates := []string{reply}
	if inner, ok := unfence(reply); ok {
		candidates = append(candidates, inner)
	}

	trimmed := strings.TrimSpace(fragment)
	start := strings.Index(fragment, trimmed)
	lead, trail := fragment[:start], fragment[start+len(trimmed):]

	for _, c := range candidates {
		if StripLabels(c) == want {
			return c, true
		}
		padded := lead + strings.TrimSpace(c) + trail
		if StripLabels(padded) == want {
			return padded, true
		}
	}
	return "", false
}
