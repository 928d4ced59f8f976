package types

import "time"

// SearchResult is a single ranked hit returned by the query engine
type SearchResult struct {
	Path     string   `json:"path"`
	Title    string   `json:"title"`
	Label    Label    `json:"label"`
	Category string   `json:"category"`
	Summary  string   `json:"summary"`
	Tags     []string `json:"tags"`

	// Scoring
	Score         float64 `json:"score"` // Fused score in [0, 1]
	LexicalScore  float64 `json:"lexical_score"`
	SemanticScore float64 `json:"semantic_score"`

	Snippet      string    `json:"snippet,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// DocumentContent is the raw stored text of one document
type DocumentContent struct {
	Path         string    `json:"path"`
	Content      string    `json:"content"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// DocumentSummary is the short listing form used by label lookups
type DocumentSummary struct {
	Path     string `json:"path"`
	Title    string `json:"title"`
	Category string `json:"category"`
	Summary  string `json:"summary"`
}

// TagCount pairs a tag with the number of documents carrying it
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// CorpusAnalysis summarizes the label distribution and the most common tags
type CorpusAnalysis struct {
	LabelDistribution map[Label]int `json:"label_distribution"`
	TopTags           []TagCount    `json:"top_tags"`
	TotalDocuments    int           `json:"total_documents"`
}

// Stats describes the size and freshness of the index
type Stats struct {
	DocumentCount  int       `json:"document_count"`
	IndexSizeBytes int64     `json:"index_size_bytes"`
	LastIndexTime  time.Time `json:"last_index_time"`
}

// ContentStats holds word-count aggregates and recent activity
type ContentStats struct {
	LabelDistribution map[Label]int `json:"label_distribution"`
	RecentUpdates     int           `json:"recent_updates"`
	AverageWords      float64       `json:"average_words"`
	TotalWords        int64         `json:"total_words"`
}
