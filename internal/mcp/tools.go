package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/dshills/brandnexus-mcp/internal/embedder"
	"github.com/dshills/brandnexus-mcp/internal/indexer"
	"github.com/dshills/brandnexus-mcp/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeNotFound           = -32001 // Document or resource does not exist
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
	ErrorCodeStoreUnavailable   = -32003 // Index store cannot be reached
)

// maxReportedErrors caps per-file errors in an index_documents response
const maxReportedErrors = 20

// handleIndexDocuments handles the index_documents tool invocation
func (s *Server) handleIndexDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	roots, err := getStringSlice(args, "roots")
	if err != nil {
		return nil, err
	}

	res, err := s.engine.IndexCorpus(ctx, roots)
	if err != nil && res == nil {
		return nil, s.toolError("index_documents", err)
	}

	response := map[string]interface{}{
		"run_id":          res.RunID,
		"indexed_count":   res.IndexedCount,
		"updated_count":   res.UpdatedCount,
		"added_count":     res.AddedCount,
		"unchanged_count": res.UnchangedCount,
		"deleted_count":   res.DeletedCount,
		"failed_count":    res.FailedCount,
		"label_histogram": res.LabelHistogram,
		"duration_ms":     res.Duration.Milliseconds(),
		"errors":          res.Errors,
	}
	if len(res.Errors) > maxReportedErrors {
		response["errors"] = res.Errors[:maxReportedErrors]
		response["error_count"] = len(res.Errors)
	}
	if res.Cancelled {
		response["cancelled"] = true
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSearchDocuments handles the search_documents tool invocation
func (s *Server) handleSearchDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	query, ok := args["query"].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	label, err := optionalLabel(args, "document_type")
	if err != nil {
		return nil, err
	}

	limit := getIntDefault(args, "limit", s.defaultLimit)
	category := getStringDefault(args, "category", "")

	results, err := s.engine.Search(ctx, query, label, category, limit)
	if err != nil {
		return nil, s.toolError("search_documents", err)
	}

	response := map[string]interface{}{
		"query":   query,
		"count":   len(results),
		"results": results,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetDocumentContent handles the get_document_content tool invocation
func (s *Server) handleGetDocumentContent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	path, ok := args["path"].(string)
	if !ok || strings.TrimSpace(path) == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}

	doc, err := s.engine.GetDocument(ctx, path)
	if err != nil {
		return nil, s.toolError("get_document_content", err)
	}
	return mcp.NewToolResultText(formatJSON(doc)), nil
}

// handleGetDocumentsByType handles the get_documents_by_type tool invocation
func (s *Server) handleGetDocumentsByType(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	label, err := optionalLabel(args, "document_type")
	if err != nil {
		return nil, err
	}
	if label == nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "document_type parameter is required", map[string]interface{}{
			"param":   "document_type",
			"allowed": labelNames(),
		})
	}

	return s.listByLabel(ctx, "get_documents_by_type", *label, getStringDefault(args, "category", ""))
}

// labelHandler lists documents of a fixed label
func (s *Server) labelHandler(label types.Label) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := arguments(request)
		if err != nil {
			return nil, err
		}
		return s.listByLabel(ctx, request.Params.Name, label, getStringDefault(args, "category", ""))
	}
}

func (s *Server) listByLabel(ctx context.Context, tool string, label types.Label, category string) (*mcp.CallToolResult, error) {
	docs, err := s.engine.GetByLabel(ctx, label, category)
	if err != nil {
		return nil, s.toolError(tool, err)
	}

	response := map[string]interface{}{
		"document_type": label,
		"count":         len(docs),
		"documents":     docs,
	}
	if category != "" {
		response["category"] = category
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleAnalyze handles the analyze_document_relationships tool invocation
func (s *Server) handleAnalyze(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	analysis, err := s.engine.AnalyzeCorpus(ctx)
	if err != nil {
		return nil, s.toolError("analyze_document_relationships", err)
	}
	return mcp.NewToolResultText(formatJSON(analysis)), nil
}

// handleStatistics handles the get_document_statistics tool invocation
func (s *Server) handleStatistics(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.engine.Stats(ctx)
	if err != nil {
		return nil, s.toolError("get_document_statistics", err)
	}
	content, err := s.engine.ContentStats(ctx)
	if err != nil {
		return nil, s.toolError("get_document_statistics", err)
	}

	var lastIndexed interface{}
	if !stats.LastIndexTime.IsZero() {
		lastIndexed = stats.LastIndexTime.Format(time.RFC3339)
	}

	response := map[string]interface{}{
		"document_count":     stats.DocumentCount,
		"index_size_bytes":   stats.IndexSizeBytes,
		"index_size_mb":      fmt.Sprintf("%.2f", float64(stats.IndexSizeBytes)/(1<<20)),
		"last_index_time":    lastIndexed,
		"recent_updates":     content.RecentUpdates,
		"average_words":      content.AverageWords,
		"total_words":        content.TotalWords,
		"label_distribution": content.LabelDistribution,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleHealth handles the health_check tool invocation
func (s *Server) handleHealth(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report, err := s.engine.Health(ctx)
	if err != nil {
		return nil, s.toolError("health_check", err)
	}
	return mcp.NewToolResultText(formatJSON(report)), nil
}

// handleTrain handles the train_document_classifier tool invocation
func (s *Server) handleTrain(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.engine.TrainClassifier(ctx)
	if errors.Is(err, types.ErrInsufficientData) {
		response := map[string]interface{}{
			"trained": false,
			"reason":  err.Error(),
		}
		return mcp.NewToolResultText(formatJSON(response)), nil
	}
	if err != nil {
		return nil, s.toolError("train_document_classifier", err)
	}

	response := map[string]interface{}{
		"trained":    true,
		"examples":   res.Examples,
		"labels":     res.Labels,
		"vocabulary": res.Vocabulary,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleRefreshEmbeddings handles the refresh_embeddings tool invocation
func (s *Server) handleRefreshEmbeddings(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.engine.RefreshVectors(ctx)
	if errors.Is(err, embedder.ErrNoProviderEnabled) {
		response := map[string]interface{}{
			"refreshed": false,
			"reason":    "no embedding provider configured",
		}
		return mcp.NewToolResultText(formatJSON(response)), nil
	}
	if err != nil {
		return nil, s.toolError("refresh_embeddings", err)
	}

	errs := make([]string, 0, len(res.Errors))
	for _, e := range res.Errors {
		errs = append(errs, e.Error())
	}
	response := map[string]interface{}{
		"refreshed":   !res.Skipped,
		"embedded":    res.Embedded,
		"failed":      res.Failed,
		"errors":      errs,
		"duration_ms": res.Duration.Milliseconds(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// toolError logs err and converts it to an MCPError with the matching code
func (s *Server) toolError(tool string, err error) error {
	mcpErr := mapError(err)
	if mcpErr.Code == ErrorCodeInternalError {
		s.logger.Error("tool failed", zap.String("tool", tool), zap.Error(err))
	} else {
		s.logger.Debug("tool rejected", zap.String("tool", tool), zap.Error(err))
	}
	return mcpErr
}

// mapError converts an engine error to an MCPError
func mapError(err error) *MCPError {
	code := ErrorCodeInternalError
	switch {
	case errors.Is(err, types.ErrInvalidArgument):
		code = ErrorCodeInvalidParams
	case errors.Is(err, types.ErrNotFound):
		code = ErrorCodeNotFound
	case errors.Is(err, indexer.ErrIndexingInProgress):
		code = ErrorCodeIndexingInProgress
	case errors.Is(err, types.ErrStoreUnavailable):
		code = ErrorCodeStoreUnavailable
	}
	return &MCPError{
		Code:    code,
		Message: err.Error(),
		err:     err,
	}
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}

	err error
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

func (e *MCPError) Unwrap() error {
	return e.err
}

// arguments returns the tool arguments, treating absent arguments as empty
func arguments(request mcp.CallToolRequest) (map[string]interface{}, error) {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}, nil
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	return args, nil
}

// optionalLabel parses a document type argument; absent yields nil
func optionalLabel(args map[string]interface{}, key string) (*types.Label, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil, nil
	}
	s, ok := raw.(string)
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, key+" must be a string", map[string]interface{}{
			"param": key,
		})
	}
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	label, err := types.ParseLabel(s)
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid "+key, map[string]interface{}{
			"param":   key,
			"value":   s,
			"allowed": labelNames(),
		})
	}
	return &label, nil
}

// getStringSlice extracts an optional array of strings
func getStringSlice(args map[string]interface{}, key string) ([]string, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil, nil
	}

	var out []string
	switch v := raw.(type) {
	case []string:
		out = v
	case []interface{}:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, newMCPError(ErrorCodeInvalidParams, key+" must be an array of strings", map[string]interface{}{
					"param": key,
				})
			}
			out = append(out, s)
		}
	case string:
		out = []string{v}
	default:
		return nil, newMCPError(ErrorCodeInvalidParams, key+" must be an array of strings", map[string]interface{}{
			"param": key,
		})
	}
	return out, nil
}

// formatJSON formats a value as indented JSON
func formatJSON(data interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}
