package classifier

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/jdkato/prose/v2"

	"github.com/dshills/brandnexus-mcp/pkg/types"
)

// ModelVersion identifies the feature extraction and model format
const ModelVersion = "nb-v1"

// DefaultMinExamples is the smallest training set Train accepts
const DefaultMinExamples = 10

// LabeledDocument is one training example
type LabeledDocument struct {
	Path    string
	Content string
	Label   types.Label
}

// Model is a multinomial naive Bayes classifier over content tokens
type Model struct {
	Version     string                         `json:"version"`
	Labels      []types.Label                  `json:"labels"`
	DocCounts   map[types.Label]int            `json:"doc_counts"`
	TokenCounts map[types.Label]map[string]int `json:"token_counts"`
	TotalTokens map[types.Label]int            `json:"total_tokens"`
	Vocabulary  int                            `json:"vocabulary"`
	Examples    int                            `json:"examples"`
}

// Train fits a model from labeled documents. Examples labeled unknown are
// ignored. It fails with types.ErrInsufficientData when fewer than
// minExamples usable examples or fewer than two distinct labels remain.
func Train(docs []LabeledDocument, minExamples int) (*Model, error) {
	if minExamples <= 0 {
		minExamples = DefaultMinExamples
	}

	m := &Model{
		Version:     ModelVersion,
		DocCounts:   make(map[types.Label]int),
		TokenCounts: make(map[types.Label]map[string]int),
		TotalTokens: make(map[types.Label]int),
	}
	vocab := make(map[string]bool)

	for _, doc := range docs {
		if doc.Label == types.LabelUnknown || !doc.Label.Valid() {
			continue
		}
		tokens, err := features(doc.Content)
		if err != nil {
			return nil, fmt.Errorf("failed to tokenize %s: %w", doc.Path, err)
		}

		m.Examples++
		m.DocCounts[doc.Label]++
		counts := m.TokenCounts[doc.Label]
		if counts == nil {
			counts = make(map[string]int)
			m.TokenCounts[doc.Label] = counts
		}
		for _, tok := range tokens {
			counts[tok]++
			m.TotalTokens[doc.Label]++
			vocab[tok] = true
		}
	}

	if m.Examples < minExamples {
		return nil, fmt.Errorf("%w: need at least %d labeled documents, have %d",
			types.ErrInsufficientData, minExamples, m.Examples)
	}
	if len(m.DocCounts) < 2 {
		return nil, fmt.Errorf("%w: need at least two distinct labels", types.ErrInsufficientData)
	}

	for _, l := range types.AllLabels() {
		if m.DocCounts[l] > 0 {
			m.Labels = append(m.Labels, l)
		}
	}
	m.Vocabulary = len(vocab)
	return m, nil
}

// Predict returns the most probable label and its posterior probability.
// Ties resolve to the label that comes first in the taxonomy.
func (m *Model) Predict(content string) (types.Label, float64) {
	if m == nil || len(m.Labels) == 0 || m.Examples == 0 {
		return types.LabelUnknown, 0
	}
	tokens, err := features(content)
	if err != nil {
		return types.LabelUnknown, 0
	}

	scores := make([]float64, len(m.Labels))
	vocab := float64(m.Vocabulary + 1)
	for i, label := range m.Labels {
		score := math.Log(float64(m.DocCounts[label]) / float64(m.Examples))
		total := float64(m.TotalTokens[label])
		counts := m.TokenCounts[label]
		for _, tok := range tokens {
			// Laplace smoothing
			score += math.Log((float64(counts[tok]) + 1) / (total + vocab))
		}
		scores[i] = score
	}

	best := 0
	for i := 1; i < len(scores); i++ {
		if scores[i] > scores[best] {
			best = i
		}
	}

	// Posterior via log-sum-exp
	var sum float64
	for _, s := range scores {
		sum += math.Exp(s - scores[best])
	}
	return m.Labels[best], 1 / sum
}

// MarshalModel encodes m for persistence
func MarshalModel(m *Model) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// UnmarshalModel decodes a persisted model, rejecting unknown versions
func UnmarshalModel(data string) (*Model, error) {
	var m Model
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("failed to decode classifier model: %w", err)
	}
	if m.Version != ModelVersion {
		return nil, fmt.Errorf("%w: model version %q, want %q", types.ErrClassifierUnavailable, m.Version, ModelVersion)
	}
	return &m, nil
}

// features tokenizes content into lowercase word features, sorted so the
// model is independent of token order
func features(content string) ([]string, error) {
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}
	doc, err := prose.NewDocument(content,
		prose.WithTagging(false),
		prose.WithSegmentation(false),
		prose.WithExtraction(false))
	if err != nil {
		return nil, err
	}

	var out []string
	for _, tok := range doc.Tokens() {
		text := strings.ToLower(tok.Text)
		if len(text) < 2 || !hasLetter(text) {
			continue
		}
		out = append(out, text)
	}
	sort.Strings(out)
	return out, nil
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
