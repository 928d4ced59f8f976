// Package mcp implements the Model Context Protocol (MCP) server for BrandNexus.
//
// The server exposes the document index to AI assistants over stdio:
//   - index_documents: Rescan content roots
//   - search_documents: Ranked search with optional document type and category filters
//   - get_document_content: Full text of one document
//   - get_documents_by_type, get_brand_guidelines, get_messaging_templates: Listings by type
//   - analyze_document_relationships: Type distribution and top tags
//   - get_document_statistics: Index size, freshness and word counts
//   - health_check, train_document_classifier, refresh_embeddings: Maintenance
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// Stdout belongs to the protocol, so logs go to stderr.
//
// # Basic Usage
//
//	brandnexus serve --config brandnexus.yaml
//
// # Tool: search_documents
//
//	Request:
//	{
//	  "name": "search_documents",
//	  "arguments": {
//	    "query": "logo clear space",
//	    "document_type": "brand_guideline",
//	    "limit": 5
//	  }
//	}
//
//	Response:
//	{
//	  "query": "logo clear space",
//	  "count": 1,
//	  "results": [
//	    {
//	      "path": "brand/logo.md",
//	      "title": "Logo Usage",
//	      "label": "brand_guideline",
//	      "category": "brand",
//	      "score": 0.91,
//	      "snippet": "Use the logo with clear space…"
//	    }
//	  ]
//	}
//
// # Resources
//
//	strategy://document/{+path}      full text of a document
//	brand://guidelines/{category}    brand guidelines in a category (JSON)
//	templates://messaging/{category} messaging templates in a category (JSON)
//
// # Error Codes
//
// Tool and resource failures are returned as MCPError:
//   - -32602: Invalid parameters (empty query, unknown document type, limit outside 1-100)
//   - -32001: Document not found
//   - -32002: Indexing already in progress
//   - -32003: Index store unavailable
//   - -32603: Internal error
package mcp
