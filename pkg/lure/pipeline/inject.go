package pipeline

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var (
	headOpen  = regexp.MustCompile(`(?i)<head(?:\s[^>]*)?>`)
	headClose = regexp.MustCompile(`(?i)</head\s*>`)
	bodyClose = regexp.MustCompile(`(?i)</body\s*>`)
)

// injectBaseTag makes a <base href> the first child of the document head. A
// document with no head gets the tag appended at the end.
func injectBaseTag(doc, href string) string {
	tag := `<base href="` + html.EscapeString(href) + `">`
	if loc := headOpen.FindStringIndex(doc); loc != nil {
		return doc[:loc[1]] + "\n" + tag + doc[loc[1]:]
	}
	if loc := headClose.FindStringIndex(doc); loc != nil {
		return doc[:loc[0]] + tag + "\n" + doc[loc[0]:]
	}
	if !strings.HasSuffix(doc, "\n") {
		doc += "\n"
	}
	return doc + tag + "\n"
}

// injectScript places a script block immediately before the last </body>, or
// at the end of a document without one.
func injectScript(doc, block string) string {
	if !strings.HasSuffix(block, "\n") {
		block += "\n"
	}
	locs := bodyClose.FindAllStringIndex(doc, -1)
	if len(locs) == 0 {
		if !strings.HasSuffix(doc, "\n") {
			doc += "\n"
		}
		return doc + block
	}
	at := locs[len(locs)-1][0]
	return doc[:at] + block + doc[at:]
}
