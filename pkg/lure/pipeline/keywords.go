package pipeline

import (
	"strings"
	"unicode"

	"github.com/agext/levenshtein"
	"golang.org/x/net/html"
)

// topic is a label and the words that suggest it.
type topic struct {
	label string
	terms []string
}

var vocabulary = []topic{
	{"phishing", []string{"phishing", "phish", "spear phishing", "smishing", "vishing"}},
	{"ransomware", []string{"ransomware", "ransom"}},
	{"malware", []string{"malware", "virus", "trojan", "spyware", "keylogger"}},
	{"social-engineering", []string{"social engineering", "pretexting", "impersonation", "tailgating"}},
	{"password-security", []string{"password", "passphrase", "credential", "credentials"}},
	{"multi-factor-authentication", []string{"mfa", "2fa", "multi factor", "two factor", "authenticator"}},
	{"data-privacy", []string{"privacy", "gdpr", "personal data", "pii"}},
	{"email-security", []string{"email", "e mail", "attachment", "spam"}},
	{"safe-browsing", []string{"browser", "browsing", "website", "download"}},
	{"physical-security", []string{"physical security", "badge", "clean desk"}},
	{"incident-reporting", []string{"incident", "report", "reporting"}},
}

// fuzzyMinLen is the shortest term matched with one edit of slack.
const fuzzyMinLen = 6

// keywordLabels matches texts against the vocabulary and returns the labels
// found, in vocabulary order.
func keywordLabels(texts ...string) []string {
	tokens := tokenize(strings.Join(texts, " "))
	if len(tokens) == 0 {
		return nil
	}

	var out []string
	for _, t := range vocabulary {
		for _, term := range t.terms {
			if containsTerm(tokens, strings.Fields(term)) {
				out = append(out, t.label)
				break
			}
		}
	}
	return out
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func containsTerm(tokens, words []string) bool {
outer:
	for i := 0; i+len(words) <= len(tokens); i++ {
		for j, w := range words {
			if !similar(tokens[i+j], w) {
				continue outer
			}
		}
		return true
	}
	return false
}

func similar(token, word string) bool {
	if token == word {
		return true
	}
	if len(word) < fuzzyMinLen {
		return false
	}
	return levenshtein.Distance(token, word, nil) <= 1
}

// documentTitle returns the text of the first <title> element in doc.
func documentTitle(doc string) string {
	z := html.NewTokenizer(strings.NewReader(doc))
	inTitle := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			name, _ := z.TagName()
			inTitle = string(name) == "title"
		case html.EndTagToken:
			if inTitle {
				return ""
			}
		case html.TextToken:
			if inTitle {
				return strings.TrimSpace(string(z.Text()))
			}
		}
	}
}
