package extractor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	e := New(Options{})
	assert.Equal(t, DefaultSummaryWords, e.summaryWords)
	assert.Equal(t, DefaultSummaryChars, e.summaryChars)
}

func TestExtract_FrontMatter(t *testing.T) {
	content := `---
title: Brand Book
tags: [Identity, logo]
category: design
---
# Heading One

Our #Brand uses the logo. Contact @alice. #logo
`
	meta, err := New(Options{}).Extract("brand/book.md", []byte(content))
	require.NoError(t, err)

	assert.Equal(t, "Brand Book", meta.Title)
	assert.Equal(t, []string{"brand", "identity", "logo"}, meta.Tags)
	assert.Equal(t, []string{"alice"}, meta.Mentions)
	assert.Equal(t, "design", meta.Category)
	assert.Equal(t, "Heading One Our #Brand uses the logo. Contact @alice. #logo", meta.Summary)
	assert.Equal(t, 10, meta.WordCount)
}

func TestExtract_Title(t *testing.T) {
	tests := []struct {
		name    string
		rel     string
		content string
		want    string
	}{
		{"first heading", "campaigns/q3.md", "intro text\n\n## Launch Plan\n\nbody", "Launch Plan"},
		{"title line", "voice.txt", "Title: Voice Guide\nbody text", "Voice Guide"},
		{"filename stem", "notes.txt", "plain words only", "notes"},
		{"front-matter wins", "x.md", "---\ntitle: From Header\n---\n# From Body\n", "From Header"},
	}
	e := New(Options{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta, err := e.Extract(tt.rel, []byte(tt.content))
			require.NoError(t, err)
			assert.Equal(t, tt.want, meta.Title)
		})
	}
}

func TestExtract_Category(t *testing.T) {
	e := New(Options{})

	meta, err := e.Extract("campaigns/q3/brief.md", []byte("text"))
	require.NoError(t, err)
	assert.Equal(t, "campaigns", meta.Category)

	meta, err = e.Extract("brief.md", []byte("text"))
	require.NoError(t, err)
	assert.Equal(t, DefaultCategory, meta.Category)
}

func TestExtract_Tags(t *testing.T) {
	content := "# Palette\n#tag first\nPrimary #1F2937 and #a1b2c3 plus #Brand and #brand.\nmail me at a@b.com"
	meta, err := New(Options{}).Extract("palette.md", []byte(content))
	require.NoError(t, err)

	assert.Equal(t, []string{"brand", "tag"}, meta.Tags)
	assert.Empty(t, meta.Mentions)
}

func TestExtract_HTML(t *testing.T) {
	content := `<html><head><title>Guide</title><script>var x = 1;</script></head>
<body><nav>Menu</nav><h1>Header</h1><p>Use the #logo wisely.</p></body></html>`

	meta, err := New(Options{}).Extract("web/guide.html", []byte(content))
	require.NoError(t, err)

	assert.Equal(t, "Guide", meta.Title)
	assert.Equal(t, []string{"logo"}, meta.Tags)
	assert.Equal(t, "Header Use the #logo wisely.", meta.Summary)
	assert.NotContains(t, meta.Summary, "Menu")
	assert.NotContains(t, meta.Summary, "var x")
}

func TestExtract_StructuredDocuments(t *testing.T) {
	e := New(Options{})

	meta, err := e.Extract("x.json", []byte(`{"title":"Launch Copy","tags":"email, launch","category":"templates"}`))
	require.NoError(t, err)
	assert.Equal(t, "Launch Copy", meta.Title)
	assert.Equal(t, []string{"email", "launch"}, meta.Tags)
	assert.Equal(t, "templates", meta.Category)

	meta, err = e.Extract("voice/tone.yaml", []byte("title: Tone Rules\ntags:\n  - voice\n"))
	require.NoError(t, err)
	assert.Equal(t, "Tone Rules", meta.Title)
	assert.Equal(t, []string{"voice"}, meta.Tags)
	assert.Equal(t, "voice", meta.Category)
}

func TestExtract_Summary(t *testing.T) {
	t.Run("not truncated", func(t *testing.T) {
		meta, err := New(Options{}).Extract("a.txt", []byte("short   text\n\nhere"))
		require.NoError(t, err)
		assert.Equal(t, "short text here", meta.Summary)
	})

	t.Run("word budget", func(t *testing.T) {
		words := make([]string, 60)
		for i := range words {
			words[i] = "w"
		}
		meta, err := New(Options{}).Extract("a.txt", []byte(strings.Join(words, " ")))
		require.NoError(t, err)
		assert.Equal(t, strings.Join(words[:50], " ")+"…", meta.Summary)
		assert.Equal(t, 60, meta.WordCount)
	})

	t.Run("rune cap at word boundary", func(t *testing.T) {
		e := New(Options{SummaryChars: 10})
		meta, err := e.Extract("a.txt", []byte("alpha beta gamma"))
		require.NoError(t, err)
		assert.Equal(t, "alpha beta…", meta.Summary)
	})
}

func TestExtract_Deterministic(t *testing.T) {
	content := []byte("---\ntags: b, a\n---\n# T\n\nbody #x @y")
	e := New(Options{})

	first, err := e.Extract("dir/doc.md", content)
	require.NoError(t, err)
	second, err := e.Extract("dir/doc.md", content)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, []string{"a", "b", "x"}, first.Tags)
}

func TestExtract_InvalidEncoding(t *testing.T) {
	_, err := New(Options{}).Extract("bad.md", []byte{0xff, 0xfe, 0x00})
	assert.ErrorIs(t, err, ErrInvalidEncoding)
}
