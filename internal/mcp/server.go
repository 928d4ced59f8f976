package mcp

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/dshills/brandnexus-mcp/internal/engine"
	"github.com/dshills/brandnexus-mcp/internal/vectorindex"
	"github.com/dshills/brandnexus-mcp/pkg/types"
)

const (
	// ServerName is the MCP server name
	ServerName = "brandnexus-mcp"
	// ServerVersion is reported when no version is set with WithVersion
	ServerVersion = "1.0.0"
	// DefaultLimit applies to search_documents without a limit
	DefaultLimit = 10
)

// Engine is the set of index operations the server exposes
type Engine interface {
	IndexCorpus(ctx context.Context, roots []string) (*engine.IndexResult, error)
	Search(ctx context.Context, query string, label *types.Label, category string, limit int) ([]types.SearchResult, error)
	GetDocument(ctx context.Context, path string) (*types.DocumentContent, error)
	GetByLabel(ctx context.Context, label types.Label, category string) ([]types.DocumentSummary, error)
	AnalyzeCorpus(ctx context.Context) (*types.CorpusAnalysis, error)
	Stats(ctx context.Context) (*types.Stats, error)
	ContentStats(ctx context.Context) (*types.ContentStats, error)
	Health(ctx context.Context) (*engine.HealthReport, error)
	TrainClassifier(ctx context.Context) (*engine.TrainResult, error)
	RefreshVectors(ctx context.Context) (*vectorindex.RefreshResult, error)
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp          *server.MCPServer
	engine       Engine
	logger       *zap.Logger
	version      string
	defaultLimit int
}

// Option configures a Server
type Option func(*Server)

// WithLogger logs tool failures and transport errors
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithVersion sets the version reported to clients
func WithVersion(v string) Option {
	return func(s *Server) {
		if v != "" {
			s.version = v
		}
	}
}

// WithDefaultLimit sets the result count used when search_documents has no limit
func WithDefaultLimit(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.defaultLimit = n
		}
	}
}

// NewServer creates a new MCP server instance
func NewServer(eng Engine, opts ...Option) *Server {
	s := &Server{
		engine:       eng,
		logger:       zap.NewNop(),
		version:      ServerVersion,
		defaultLimit: DefaultLimit,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = server.NewMCPServer(
		ServerName,
		s.version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithRecovery(),
	)

	s.registerTools()
	s.registerResources()
	return s
}

// Serve runs the MCP server on stdio until ctx is done or stdin closes
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(zap.NewStdLog(s.logger.Named("stdio")))
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(indexDocumentsTool(), s.handleIndexDocuments)
	s.mcp.AddTool(searchDocumentsTool(), s.handleSearchDocuments)
	s.mcp.AddTool(getDocumentContentTool(), s.handleGetDocumentContent)
	s.mcp.AddTool(getDocumentsByTypeTool(), s.handleGetDocumentsByType)

	s.mcp.AddTool(labelListTool("get_messaging_templates",
		"List messaging templates, optionally within a category"),
		s.labelHandler(types.LabelMessagingTemplate))
	s.mcp.AddTool(labelListTool("get_brand_guidelines",
		"List brand guidelines, optionally within a category"),
		s.labelHandler(types.LabelBrandGuideline))

	s.mcp.AddTool(noArgsTool("analyze_document_relationships",
		"Report the distribution of document types and the most common tags"),
		s.handleAnalyze)
	s.mcp.AddTool(noArgsTool("get_document_statistics",
		"Report index size, freshness, word counts and recent activity"),
		s.handleStatistics)
	s.mcp.AddTool(noArgsTool("health_check",
		"Check the index store, content roots and embeddings"),
		s.handleHealth)
	s.mcp.AddTool(noArgsTool("train_document_classifier",
		"Train the statistical document classifier from the labeled documents in the index"),
		s.handleTrain)
	s.mcp.AddTool(noArgsTool("refresh_embeddings",
		"Embed documents whose vectors are missing or stale"),
		s.handleRefreshEmbeddings)
}
