package storage

import (
	"context"
	"time"

	"github.com/dshills/brandnexus-mcp/pkg/types"
)

// Storage defines the interface for persisting and querying indexed documents
type Storage interface {
	// Document operations
	UpsertDocument(ctx context.Context, doc *Document) error
	GetDocumentByPath(ctx context.Context, path string) (*Document, error)
	GetDocumentByID(ctx context.Context, id int64) (*Document, error)
	GetDocumentState(ctx context.Context, path string) (*DocumentState, error)
	DeleteDocument(ctx context.Context, path string) error
	ListDocumentPaths(ctx context.Context, root string) ([]string, error)
	ListDocuments(ctx context.Context, filter DocumentFilter) ([]*Document, error)
	GetDocumentsByIDs(ctx context.Context, ids []int64, filter DocumentFilter) ([]*Document, error)

	// Search operations
	SearchLexical(ctx context.Context, query string, filter DocumentFilter, limit int) ([]*Document, error)

	// Vector operations
	UpsertVector(ctx context.Context, vec *Vector) error
	ListVectors(ctx context.Context, modelVersion string) ([]*Vector, error)
	ListStaleDocuments(ctx context.Context, modelVersion string, limit int) ([]*Document, error)
	CountVectors(ctx context.Context, modelVersion string) (VectorCounts, error)

	// Aggregate operations
	CountDocuments(ctx context.Context) (int, error)
	LabelDistribution(ctx context.Context) (map[types.Label]int, error)
	TopTags(ctx context.Context, n int) ([]types.TagCount, error)
	ContentStats(ctx context.Context, since time.Time) (*ContentStats, error)

	// Metadata operations
	SetMeta(ctx context.Context, key, value string) error
	GetMeta(ctx context.Context, key string) (string, error)

	// Index run operations
	RecordIndexRun(ctx context.Context, run *IndexRun) error
	LastIndexRun(ctx context.Context) (*IndexRun, error)
	LastIndexTime(ctx context.Context) (time.Time, error)

	// Database operations
	SizeBytes(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Storage // Embed Storage interface for transaction operations
}

// Document is the persisted record for one indexed file
type Document struct {
	ID           int64
	Path         string // Canonical, slash-separated, relative to Root
	Root         string // Absolute root directory the path was discovered under
	Title        string
	Label        types.Label
	Category     string
	LastModified time.Time
	ContentHash  [32]byte
	Tags         []string
	Mentions     []string
	Summary      string
	WordCount    int
	SizeBytes    int64
	FullText     string // Empty for listing queries
	IndexedAt    time.Time
}

// DocumentState is the minimal projection used for change detection
type DocumentState struct {
	ID          int64
	Root        string
	Label       types.Label
	ContentHash [32]byte
}

// DocumentFilter holds hard filters applied before scoring
type DocumentFilter struct {
	Label    types.Label // Empty matches any label
	Category string      // Empty matches any category
}

// Vector is a dense embedding for one document
type Vector struct {
	DocumentID   int64
	Embedding    []float32
	Dimension    int
	ModelVersion string
	ContentHash  [32]byte // Hash of the document content the embedding was computed from
	UpdatedAt    time.Time
}

// VectorCounts reports how many documents have fresh embeddings
type VectorCounts struct {
	Fresh int
	Stale int
}

// ContentStats aggregates word counts and recent activity
type ContentStats struct {
	RecentUpdates int
	AverageWords  float64
	TotalWords    int64
}

// IndexRun records one full rescan
type IndexRun struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Indexed    int
	Updated    int
	Deleted    int
	Failed     int
	Cancelled  bool
}
