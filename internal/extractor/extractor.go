package extractor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultSummaryWords is the word budget of a summary
	DefaultSummaryWords = 50
	// DefaultSummaryChars caps a summary in runes
	DefaultSummaryChars = 300
	// DefaultCategory is used when neither front-matter nor the path name one
	DefaultCategory = "general"

	maxTitleRunes = 200
	ellipsis      = "…"
)

// ErrInvalidEncoding is returned for content that is not valid UTF-8
var ErrInvalidEncoding = errors.New("content is not valid UTF-8")

var (
	tagPattern     = regexp.MustCompile(`(?:^|\s)#([\p{L}][\p{L}\p{N}_-]*)`)
	mentionPattern = regexp.MustCompile(`(?:^|\s)@([\p{L}\p{N}_][\p{L}\p{N}_.-]*)`)
	hexColor       = regexp.MustCompile(`^(?:[0-9a-f]{3}|[0-9a-f]{6})$`)
	titleLine      = regexp.MustCompile(`(?im)^\s*title\s*:\s*(.+?)\s*$`)
	headingMarker  = regexp.MustCompile(`(?m)^\s{0,3}#{1,6}\s+`)
)

// Metadata is what the extractor derives from one document
type Metadata struct {
	Title     string
	Tags      []string
	Mentions  []string
	Summary   string
	WordCount int
	Category  string
}

// Options tunes summary generation
type Options struct {
	SummaryWords int
	SummaryChars int
}

// Extractor derives display and search metadata from document content
type Extractor struct {
	md           goldmark.Markdown
	summaryWords int
	summaryChars int
}

// New creates a new Extractor. Zero options fall back to the defaults.
func New(opts Options) *Extractor {
	if opts.SummaryWords <= 0 {
		opts.SummaryWords = DefaultSummaryWords
	}
	if opts.SummaryChars <= 0 {
		opts.SummaryChars = DefaultSummaryChars
	}
	return &Extractor{
		md:           goldmark.New(),
		summaryWords: opts.SummaryWords,
		summaryChars: opts.SummaryChars,
	}
}

// frontMatter holds the keys read from a YAML header or structured document
type frontMatter struct {
	Title    string
	Tags     []string
	Category string
}

// Extract derives metadata from the content of the document at rel, a
// slash-separated path relative to its root. Output is deterministic.
func (e *Extractor) Extract(rel string, content []byte) (*Metadata, error) {
	if !utf8.Valid(content) {
		return nil, ErrInvalidEncoding
	}

	ext := strings.ToLower(path.Ext(rel))
	var (
		fm       frontMatter
		body     string
		htmlHead string
	)

	switch ext {
	case ".html", ".htm":
		var err error
		body, htmlHead, err = htmlText(content)
		if err != nil {
			return nil, fmt.Errorf("failed to parse html: %w", err)
		}
	case ".yaml", ".yml":
		fm = structuredYAML(content)
		body = string(content)
	case ".json":
		fm = structuredJSON(content)
		body = string(content)
	default:
		fm, body = splitFrontMatter(string(content))
	}

	words := strings.Fields(headingMarker.ReplaceAllString(body, ""))
	meta := &Metadata{
		Title:     e.title(rel, ext, fm, htmlHead, body),
		Tags:      mergeMarkers(fm.Tags, body, tagPattern, true),
		Mentions:  mergeMarkers(nil, body, mentionPattern, false),
		Summary:   e.summarize(words),
		WordCount: len(words),
		Category:  category(rel, fm.Category),
	}
	return meta, nil
}

func (e *Extractor) title(rel, ext string, fm frontMatter, htmlHead, body string) string {
	candidates := []string{fm.Title, htmlHead}
	if ext != ".html" && ext != ".htm" && ext != ".json" {
		candidates = append(candidates, e.firstHeading(body))
	}
	if m := titleLine.FindStringSubmatch(body); m != nil {
		candidates = append(candidates, strings.Trim(m[1], `"'`))
	}

	for _, c := range candidates {
		if c = collapse(c); c != "" {
			return truncateRunes(c, maxTitleRunes)
		}
	}

	stem := strings.TrimSuffix(path.Base(rel), path.Ext(rel))
	return stem
}

// firstHeading returns the text of the first markdown heading of any level
func (e *Extractor) firstHeading(body string) string {
	src := []byte(body)
	doc := e.md.Parser().Parse(text.NewReader(src))

	var heading string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if h, ok := n.(*ast.Heading); ok {
			heading = string(h.Text(src))
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	return heading
}

// summarize joins at most summaryWords words, capped at summaryChars runes
// on a word boundary
func (e *Extractor) summarize(words []string) string {
	truncated := false
	if len(words) > e.summaryWords {
		words = words[:e.summaryWords]
		truncated = true
	}

	var b strings.Builder
	runes := 0
	for i, w := range words {
		n := utf8.RuneCountInString(w)
		if i > 0 {
			n++
		}
		if runes+n > e.summaryChars {
			truncated = true
			if i == 0 {
				// A single oversized word is cut mid-word
				b.WriteString(truncateRunes(w, e.summaryChars))
			}
			break
		}
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(w)
		runes += n
	}

	if truncated {
		b.WriteString(ellipsis)
	}
	return b.String()
}

// splitFrontMatter separates a leading --- delimited YAML block from the
// body. A block that fails to parse is left in the body.
func splitFrontMatter(content string) (frontMatter, string) {
	s := strings.TrimPrefix(content, "\ufeff")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	if !strings.HasPrefix(s, "---\n") {
		return frontMatter{}, content
	}

	rest := s[len("---\n"):]
	end := -1
	for _, delim := range []string{"\n---\n", "\n...\n"} {
		if i := strings.Index(rest, delim); i >= 0 && (end < 0 || i < end) {
			end = i
		}
	}
	bodyStart := end + len("\n---\n")
	if end < 0 {
		// Closing delimiter at end of file
		for _, delim := range []string{"\n---", "\n..."} {
			if strings.HasSuffix(rest, delim) {
				end = len(rest) - len(delim)
				bodyStart = len(rest)
			}
		}
	}
	if end < 0 {
		return frontMatter{}, content
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal([]byte(rest[:end]), &raw); err != nil {
		return frontMatter{}, content
	}
	return fromMap(raw), rest[bodyStart:]
}

func structuredYAML(content []byte) frontMatter {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(content, &raw); err != nil {
		return frontMatter{}
	}
	return fromMap(raw)
}

func structuredJSON(content []byte) frontMatter {
	var raw map[string]interface{}
	if err := json.Unmarshal(content, &raw); err != nil {
		return frontMatter{}
	}
	return fromMap(raw)
}

func fromMap(raw map[string]interface{}) frontMatter {
	var fm frontMatter
	if v, ok := raw["title"].(string); ok {
		fm.Title = v
	}
	if v, ok := raw["category"].(string); ok {
		fm.Category = strings.TrimSpace(v)
	}

	switch v := raw["tags"].(type) {
	case string:
		fm.Tags = strings.Split(v, ",")
	case []interface{}:
		for _, t := range v {
			if s, ok := t.(string); ok {
				fm.Tags = append(fm.Tags, s)
			}
		}
	}
	return fm
}

// htmlText returns the visible body text and the document title
func htmlText(content []byte) (string, string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return "", "", err
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}

	doc.Find("script, style, nav, noscript").Remove()
	body := doc.Find("body")

	var parts []string
	body.Find("h1, h2, h3, h4, h5, h6, p, li, td, th, blockquote, pre").Each(func(_ int, s *goquery.Selection) {
		if s.Find("p, li").Length() > 0 {
			return
		}
		if t := collapse(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	if len(parts) == 0 {
		return collapse(body.Text()), title, nil
	}
	return strings.Join(parts, "\n"), title, nil
}

// mergeMarkers unions seed values with inline markers found in body,
// lowercased, deduplicated and sorted
func mergeMarkers(seed []string, body string, pattern *regexp.Regexp, skipColors bool) []string {
	set := make(map[string]struct{})
	add := func(s string) {
		s = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "#")))
		s = strings.TrimRight(s, ".-")
		if s == "" {
			return
		}
		if skipColors && hexColor.MatchString(s) && strings.ContainsAny(s, "0123456789") {
			return
		}
		set[s] = struct{}{}
	}

	for _, s := range seed {
		add(s)
	}
	for _, m := range pattern.FindAllStringSubmatch(body, -1) {
		add(m[1])
	}

	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// category prefers the front-matter value, then the first directory segment
func category(rel, fromHeader string) string {
	if fromHeader != "" {
		return fromHeader
	}
	if i := strings.Index(rel, "/"); i > 0 {
		return rel[:i]
	}
	return DefaultCategory
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
