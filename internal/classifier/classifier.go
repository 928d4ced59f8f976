package classifier

import (
	"sync/atomic"

	"github.com/dshills/brandnexus-mcp/pkg/types"
)

// DefaultThreshold is the minimum model confidence accepted as a prediction
const DefaultThreshold = 0.7

// Decision explains a classification
type Decision struct {
	Label      types.Label
	Source     Source
	Confidence float64 // Model posterior; 1 for rule hits, 0 when nothing matched
}

// Classifier assigns a taxonomy label from a document's path and content.
// Rules are tried first; the trained model is consulted only when no rule
// matches. Classify is safe for concurrent use.
type Classifier struct {
	rules     []Rule
	threshold float64
	model     atomic.Pointer[Model]
}

// Option configures a Classifier
type Option func(*Classifier)

// WithRules replaces the default rule table
func WithRules(rules []Rule) Option {
	return func(c *Classifier) {
		c.rules = rules
	}
}

// WithThreshold sets the minimum model confidence
func WithThreshold(threshold float64) Option {
	return func(c *Classifier) {
		if threshold > 0 && threshold <= 1 {
			c.threshold = threshold
		}
	}
}

// WithModel installs a trained fallback model
func WithModel(m *Model) Option {
	return func(c *Classifier) {
		c.model.Store(m)
	}
}

// New creates a Classifier with the default rule table
func New(opts ...Option) *Classifier {
	c := &Classifier{
		rules:     Rules,
		threshold: DefaultThreshold,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify returns the label for a document. path should be the canonical
// relative path so directories above the corpus root do not influence it.
func (c *Classifier) Classify(path, content string) types.Label {
	return c.Decide(path, content).Label
}

// Decide classifies and reports which stage produced the label
func (c *Classifier) Decide(path, content string) Decision {
	if label, ok := matchPath(c.rules, path); ok {
		return Decision{Label: label, Source: SourcePath, Confidence: 1}
	}
	if label, ok := matchKeywords(c.rules, content); ok {
		return Decision{Label: label, Source: SourceKeyword, Confidence: 1}
	}

	if m := c.model.Load(); m != nil {
		label, confidence := m.Predict(content)
		if confidence >= c.threshold && label != types.LabelUnknown {
			return Decision{Label: label, Source: SourceModel, Confidence: confidence}
		}
	}
	return Decision{Label: types.LabelUnknown, Source: SourceNone}
}

// SetModel atomically replaces the fallback model; nil removes it
func (c *Classifier) SetModel(m *Model) {
	c.model.Store(m)
}

// Model returns the installed fallback model or types.ErrClassifierUnavailable
func (c *Classifier) Model() (*Model, error) {
	m := c.model.Load()
	if m == nil {
		return nil, types.ErrClassifierUnavailable
	}
	return m, nil
}
