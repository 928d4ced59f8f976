package mcp

import (
	"context"
	"net/url"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/brandnexus-mcp/pkg/types"
)

// Resource URI prefixes
const (
	documentURIPrefix   = "strategy://document/"
	guidelinesURIPrefix = "brand://guidelines/"
	messagingURIPrefix  = "templates://messaging/"
)

// registerResources registers the resource templates
func (s *Server) registerResources() {
	// Reserved expansion so document paths keep their slashes
	s.mcp.AddResourceTemplate(mcp.NewResourceTemplate(
		documentURIPrefix+"{+path}",
		"document-content",
		mcp.WithTemplateDescription("Full text of an indexed document"),
		mcp.WithTemplateMIMEType("text/plain"),
	), s.handleDocumentResource)

	s.mcp.AddResourceTemplate(mcp.NewResourceTemplate(
		guidelinesURIPrefix+"{category}",
		"brand-guidelines",
		mcp.WithTemplateDescription("Brand guidelines within a category"),
		mcp.WithTemplateMIMEType("application/json"),
	), s.labelResource(guidelinesURIPrefix, types.LabelBrandGuideline))

	s.mcp.AddResourceTemplate(mcp.NewResourceTemplate(
		messagingURIPrefix+"{category}",
		"messaging-templates",
		mcp.WithTemplateDescription("Messaging templates within a category"),
		mcp.WithTemplateMIMEType("application/json"),
	), s.labelResource(messagingURIPrefix, types.LabelMessagingTemplate))
}

// handleDocumentResource returns the text of strategy://document/{path}
func (s *Server) handleDocumentResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	path, ok := uriParam(request.Params.URI, documentURIPrefix)
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid document URI", map[string]interface{}{
			"uri": request.Params.URI,
		})
	}

	doc, err := s.engine.GetDocument(ctx, path)
	if err != nil {
		return nil, s.toolError("resource:document", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "text/plain",
			Text:     doc.Content,
		},
	}, nil
}

// labelResource lists documents with label in the category named by the URI
func (s *Server) labelResource(prefix string, label types.Label) server.ResourceTemplateHandlerFunc {
	return func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		category, ok := uriParam(request.Params.URI, prefix)
		if !ok {
			return nil, newMCPError(ErrorCodeInvalidParams, "invalid category URI", map[string]interface{}{
				"uri": request.Params.URI,
			})
		}

		docs, err := s.engine.GetByLabel(ctx, label, category)
		if err != nil {
			return nil, s.toolError("resource:"+string(label), err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      request.Params.URI,
				MIMEType: "application/json",
				Text:     formatJSON(docs),
			},
		}, nil
	}
}

// uriParam returns the unescaped remainder of uri after prefix
func uriParam(uri, prefix string) (string, bool) {
	if !strings.HasPrefix(uri, prefix) {
		return "", false
	}
	value, err := url.PathUnescape(strings.TrimPrefix(uri, prefix))
	if err != nil || strings.TrimSpace(value) == "" {
		return "", false
	}
	return value, true
}
