// Package extractor derives display and search metadata from document content.
//
// Markdown and text documents may start with a YAML front-matter block
// delimited by --- lines; its title, tags and category keys take precedence.
// HTML documents are reduced to their visible body text with goquery, and
// YAML or JSON documents are read as structured front-matter in full.
//
// # Basic Usage
//
//	e := extractor.New(extractor.Options{})
//	meta, err := e.Extract("brand/logo.md", content)
//	if err != nil {
//	    return err
//	}
//	fmt.Println(meta.Title, meta.Tags, meta.Summary)
//
// Titles fall back from front-matter to the first markdown heading, then a
// "Title:" line, then the filename stem. Inline #tag and @name markers are
// collected, lowercased, deduplicated and sorted. Summaries are limited by
// word count and rune count and end in an ellipsis only when truncated.
package extractor
