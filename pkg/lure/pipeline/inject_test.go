package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInjectBaseTag(t *testing.T) {
	tests := []struct {
		name, doc, want string
	}{
		{
			name: "first child of head",
			doc:  `<html><HEAD lang="en"><title>x</title></HEAD></html>`,
			want: `<html><HEAD lang="en">` + "\n" + `<base href="/content/a/"><title>x</title></HEAD></html>`,
		},
		{
			name: "header element is not head",
			doc:  `<header>h</header></head><body></body>`,
			want: `<header>h</header><base href="/content/a/">` + "\n" + `</head><body></body>`,
		},
		{
			name: "no head",
			doc:  `<p>x</p>`,
			want: `<p>x</p>` + "\n" + `<base href="/content/a/">` + "\n",
		},
		{
			name: "no head, trailing newline",
			doc:  "<p>x</p>\n",
			want: "<p>x</p>\n" + `<base href="/content/a/">` + "\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, injectBaseTag(tt.doc, "/content/a/"))
		})
	}
}

func TestInjectBaseTagEscapesHref(t *testing.T) {
	got := injectBaseTag("<head></head>", `/a"b/`)
	assert.Equal(t, "<head>\n"+`<base href="/a&#34;b/">`+"</head>", got)
}

func TestInjectScript(t *testing.T) {
	script := "<script>track()</script>"

	assert.Equal(t,
		"<body><p>a</p><script>track()</script>\n</BODY >",
		injectScript("<body><p>a</p></BODY >", script))

	// Only the last closing body tag counts.
	assert.Equal(t,
		"<body><!-- </body> --><script>track()</script>\n</body>",
		injectScript("<body><!-- </body> --></body>", script))

	assert.Equal(t, "<p>a</p>\n<script>track()</script>\n", injectScript("<p>a</p>", script))
}
