package types

import (
	"fmt"
	"strings"
)

// Label is the closed document taxonomy
type Label string

const (
	LabelStrategy          Label = "strategy"
	LabelBrandGuideline    Label = "brand_guideline"
	LabelMessagingTemplate Label = "messaging_template"
	LabelPositioning       Label = "positioning"
	LabelCampaignBrief     Label = "campaign_brief"
	LabelBrandVoice        Label = "brand_voice"
	LabelUnknown           Label = "unknown"
)

var allLabels = []Label{
	LabelStrategy,
	LabelBrandGuideline,
	LabelMessagingTemplate,
	LabelPositioning,
	LabelCampaignBrief,
	LabelBrandVoice,
	LabelUnknown,
}

// AllLabels returns every label in declaration order
func AllLabels() []Label {
	out := make([]Label, len(allLabels))
	copy(out, allLabels)
	return out
}

// Valid reports whether l is a member of the taxonomy
func (l Label) Valid() bool {
	for _, v := range allLabels {
		if l == v {
			return true
		}
	}
	return false
}

func (l Label) String() string {
	return string(l)
}

// ParseLabel converts s to a Label, rejecting anything outside the taxonomy
func ParseLabel(s string) (Label, error) {
	l := Label(strings.ToLower(strings.TrimSpace(s)))
	if !l.Valid() {
		return "", fmt.Errorf("%w: unknown document type %q", ErrInvalidArgument, s)
	}
	return l, nil
}
