package classifier

import (
	"strings"
	"unicode"

	"github.com/dshills/brandnexus-mcp/pkg/types"
)

// Rule maps path segments and content keywords to a label
type Rule struct {
	Label    types.Label
	Segments []string // Matched against path tokens
	Keywords []string // Matched against whole words of the content
}

// Rules is the default rule table. Order is significant: all path rules are
// tried first, in this order, then all keyword rules in the same order, and
// the first hit wins.
var Rules = []Rule{
	{
		Label:    types.LabelStrategy,
		Segments: []string{"strategy", "strategies"},
		Keywords: []string{"roadmap", "objectives", "goals", "vision"},
	},
	{
		Label:    types.LabelBrandGuideline,
		Segments: []string{"brand", "guidelines"},
		Keywords: []string{"logo", "identity", "guidelines"},
	},
	{
		Label:    types.LabelMessagingTemplate,
		Segments: []string{"messaging", "template", "templates"},
		Keywords: []string{"template", "copy", "message"},
	},
	{
		Label:    types.LabelPositioning,
		Segments: []string{"positioning"},
		Keywords: []string{"positioning", "differentiation", "competitor", "competitors"},
	},
	{
		Label:    types.LabelCampaignBrief,
		Segments: []string{"campaign", "campaigns"},
		Keywords: []string{"campaign", "brief", "launch"},
	},
	{
		Label:    types.LabelBrandVoice,
		Segments: []string{"voice"},
		Keywords: []string{"voice", "tone"},
	},
}

// Source records which stage produced a label
type Source string

const (
	SourcePath    Source = "path"
	SourceKeyword Source = "keyword"
	SourceModel   Source = "model"
	SourceNone    Source = "none"
)

// pathTokens splits a path into lowercase tokens on separators and punctuation
func pathTokens(path string) map[string]bool {
	tokens := make(map[string]bool)
	for _, f := range strings.FieldsFunc(strings.ToLower(path), isSeparator) {
		tokens[f] = true
	}
	return tokens
}

// wordSet returns the set of lowercase words in content
func wordSet(content string) map[string]bool {
	words := make(map[string]bool)
	for _, f := range strings.FieldsFunc(strings.ToLower(content), isSeparator) {
		words[f] = true
	}
	return words
}

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// matchPath returns the first rule with a segment present in the path
func matchPath(rules []Rule, path string) (types.Label, bool) {
	tokens := pathTokens(path)
	for _, rule := range rules {
		for _, seg := range rule.Segments {
			if tokens[seg] {
				return rule.Label, true
			}
		}
	}
	return "", false
}

// matchKeywords returns the first rule with a keyword present in the content
func matchKeywords(rules []Rule, content string) (types.Label, bool) {
	words := wordSet(content)
	for _, rule := range rules {
		for _, kw := range rule.Keywords {
			if words[kw] {
				return rule.Label, true
			}
		}
	}
	return "", false
}
