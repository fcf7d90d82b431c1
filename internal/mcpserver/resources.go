package mcpserver

import (
	"context"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rotisserie/eris"
)

const uriScheme = "paper://"

func (s *Server) registerResources() {
	s.server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: uriScheme + "{id}/text",
		Name:        "paper-text",
		Description: "Converted markdown of a paper",
		MIMEType:    "text/markdown",
	}, s.handleTextResource)

	s.server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: uriScheme + "{id}/summary",
		Name:        "paper-summary",
		Description: "Generated summary of a paper",
		MIMEType:    "text/markdown",
	}, s.handleSummaryResource)
}

func (s *Server) handleTextResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	id, err := resourceID(req.Params.URI, "/text")
	if err != nil {
		return nil, err
	}
	_, b, err := s.lib.ConvertedText(ctx, id)
	if err != nil {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}
	return markdown(req.Params.URI, string(b)), nil
}

func (s *Server) handleSummaryResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	id, err := resourceID(req.Params.URI, "/summary")
	if err != nil {
		return nil, err
	}
	_, b, err := s.lib.Summary(ctx, id)
	if err != nil {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}
	return markdown(req.Params.URI, string(b)), nil
}

// resourceID extracts the document ID from paper://{id}{suffix}.
func resourceID(uri, suffix string) (string, error) {
	rest, ok := strings.CutPrefix(uri, uriScheme)
	if !ok {
		return "", eris.Errorf("mcpserver: unexpected resource URI %q", uri)
	}
	id, ok := strings.CutSuffix(rest, suffix)
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", eris.Errorf("mcpserver: unexpected resource URI %q", uri)
	}
	return id, nil
}

func markdown(uri, text string) *mcp.ReadResourceResult {
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "text/markdown",
			Text:     text,
		}},
	}
}
