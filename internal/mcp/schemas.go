package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/brandnexus-mcp/pkg/types"
)

func labelNames() []string {
	labels := types.AllLabels()
	names := make([]string, len(labels))
	for i, l := range labels {
		names[i] = string(l)
	}
	return names
}

func categoryProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "Optional category filter (first directory under the content root, e.g. 'brand')",
	}
}

// indexDocumentsTool returns the tool definition for index_documents
func indexDocumentsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_documents",
		Description: "Rescan content roots and index new, changed and deleted brand and marketing documents",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"roots": map[string]interface{}{
					"type":        "array",
					"description": "Content root directories; the configured roots are used when omitted",
					"items": map[string]interface{}{
						"type": "string",
					},
				},
			},
		},
	}
}

// searchDocumentsTool returns the tool definition for search_documents
func searchDocumentsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_documents",
		Description: "Search indexed documents by keywords or natural language, ranked by lexical and semantic relevance",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query",
				},
				"document_type": map[string]interface{}{
					"type":        "string",
					"description": "Optional document type filter",
					"enum":        labelNames(),
				},
				"category": categoryProperty(),
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
			},
			Required: []string{"query"},
		},
	}
}

// getDocumentContentTool returns the tool definition for get_document_content
func getDocumentContentTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_document_content",
		Description: "Return the full text of an indexed document",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Document path relative to its content root, e.g. 'brand/logo.md'",
				},
			},
			Required: []string{"path"},
		},
	}
}

// getDocumentsByTypeTool returns the tool definition for get_documents_by_type
func getDocumentsByTypeTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_documents_by_type",
		Description: "List documents of one type, optionally within a category",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"document_type": map[string]interface{}{
					"type":        "string",
					"description": "Document type",
					"enum":        labelNames(),
				},
				"category": categoryProperty(),
			},
			Required: []string{"document_type"},
		},
	}
}

// labelListTool returns a tool that lists documents of a fixed type
func labelListTool(name, description string) mcp.Tool {
	return mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"category": categoryProperty(),
			},
		},
	}
}

// noArgsTool returns a tool definition without parameters
func noArgsTool(name, description string) mcp.Tool {
	return mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
