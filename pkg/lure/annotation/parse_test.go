package annotation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"html fence", "```html\n<p>x</p>\n```", "<p>x</p>"},
		{"bare fence", "```\n<p>x</p>\n```", "<p>x</p>"},
		{"no fence", "  <p>x</p>\n", "<p>x</p>"},
		{"prose around fence", "Here you go:\n```html\n<p>x</p>\n```\nDone.", "Here you go:\n<p>x</p>\nDone."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripCodeFences(tt.in))
		})
	}
}

func TestExtractHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"trailing prose after html",
			"<!DOCTYPE html><html><body><p>a</p></body></html>\n\nI added tags to the inputs.",
			"<!DOCTYPE html><html><body><p>a</p></body></html>",
		},
		{
			"trailing prose after body",
			"<body><p>a</p></body>\nThat is all.",
			"<body><p>a</p></body>",
		},
		{
			"leading prose",
			"Sure! Here is the result: <div><b>x</b></div> Let me know.",
			"<div><b>x</b></div>",
		},
		{
			"fragment",
			"<div>a</div>",
			"<div>a</div>",
		},
		{
			"no markup",
			"  nothing here ",
			"nothing here",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractHTML(tt.in))
		})
	}
}

func TestParseDifficulty(t *testing.T) {
	n, rest, ok := parseDifficulty("DIFFICULTY: 3\n<html></html>")
	assert.True(t, ok)
	assert.Equal(t, 3, n)
	assert.Equal(t, "<html></html>", rest)

	n, rest, ok = parseDifficulty("difficulty:1\n<p>x</p>")
	assert.True(t, ok)
	assert.Equal(t, 1, n)
	assert.Equal(t, "<p>x</p>", rest)

	n, rest, ok = parseDifficulty("DIFFICULTY:9\n<p>x</p>")
	assert.True(t, ok)
	assert.Equal(t, DefaultDifficulty, n)
	assert.Equal(t, "<p>x</p>", rest)

	n, rest, ok = parseDifficulty("<p>x</p>")
	assert.False(t, ok)
	assert.Equal(t, DefaultDifficulty, n)
	assert.Equal(t, "<p>x</p>", rest)
}

func TestExtractAttrDeduplicatesInOrder(t *testing.T) {
	doc := `<input data-tag="phishing"><button data-tag="password-security"></button><a data-tag="phishing">x</a>`
	assert.Equal(t, []string{"phishing", "password-security"}, extractAttr(tagAttr, doc))

	doc = `<p data-cue="language:urgency">now!</p><img data-cue="visual:logo"><p data-cue="language:urgency"></p>`
	assert.Equal(t, []string{"language:urgency", "visual:logo"}, extractAttr(cueAttr, doc))

	assert.Empty(t, extractAttr(tagAttr, "<p>plain</p>"))
}

func TestMatchFragment(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		fragment string
		want     string
		ok       bool
	}{
		{"exact echo", "\ntext <b>x</b> tail\n", "\ntext <b>x</b> tail\n", "\ntext <b>x</b> tail\n", true},
		{"added attribute", "<p>a</p><input data-tag=\"mfa\">", "<p>a</p><input>", "<p>a</p><input data-tag=\"mfa\">", true},
		{"trimmed reply", "<input data-cue=\"language:urgency\"> now", "\n  <input> now\n", "\n  <input data-cue=\"language:urgency\"> now\n", true},
		{"fenced reply", "```html\nintro <input data-tag=\"mfa\">\n```", "intro <input>\n", "intro <input data-tag=\"mfa\">\n", true},
		{"cropped text", "<b>x</b>", "lead <b>x</b> trail", "", false},
		{"rewritten text", "<P>A</P>", "<p>a</p>", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := matchFragment(tt.reply, tt.fragment)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
