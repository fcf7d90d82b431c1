package mcpserver

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rotisserie/eris"

	"github.com/sells-group/paper-cli/internal/index"
	"github.com/sells-group/paper-cli/internal/library"
	"github.com/sells-group/paper-cli/internal/model"
)

// ListInput takes no arguments.
type ListInput struct{}

// PaperInfo is one library entry.
type PaperInfo struct {
	ID         string `json:"id"`
	SourcePath string `json:"source_path"`
	Converted  bool   `json:"converted"`
	Summarized bool   `json:"summarized"`
	Indexed    bool   `json:"indexed"`
}

// ListOutput lists the library.
type ListOutput struct {
	Papers []PaperInfo `json:"papers"`
	Count  int         `json:"count"`
}

// NameInput names a paper. Partial names match the first ID containing them.
type NameInput struct {
	Name    string `json:"name" jsonschema:"paper name (filename without extension); partial names are matched"`
	Section string `json:"section,omitempty" jsonschema:"only return the section whose heading contains this text"`
}

// TextOutput carries document text.
type TextOutput struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Truncated bool   `json:"truncated,omitempty"`
}

// SearchInput is a library-wide query.
type SearchInput struct {
	Query string `json:"query" jsonschema:"search query, e.g. attention mechanisms in transformers"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"number of results to return (default 5, max 20)"`
}

// SearchOutput holds ranked hits.
type SearchOutput struct {
	Results []index.Hit `json:"results"`
	Count   int         `json:"count"`
}

// SearchInPaperInput is a query scoped to one paper.
type SearchInPaperInput struct {
	Name  string `json:"name" jsonschema:"paper name to search in"`
	Query string `json:"query" jsonschema:"what to search for"`
}

// PassagesOutput holds passages from one paper.
type PassagesOutput struct {
	ID       string   `json:"id"`
	Passages []string `json:"passages"`
}

// VerifyInput is a claim attributed to a paper.
type VerifyInput struct {
	Name  string `json:"paper_name" jsonschema:"name of the paper being cited"`
	Claim string `json:"claim" jsonschema:"the statement attributed to the paper"`
}

// VerifyOutput is the verdict for a claim.
type VerifyOutput struct {
	ID      string        `json:"id"`
	Claim   string        `json:"claim"`
	Verdict model.Verdict `json:"verdict"`
}

const passageLimit = 5

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_papers",
		Description: "List all papers in the library with their processing status.",
	}, s.handleList)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "read_paper",
		Description: "Read the converted markdown of a paper, optionally a single section.",
	}, s.handleRead)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "read_summary",
		Description: "Read the generated summary of a paper.",
	}, s.handleSummary)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search_papers",
		Description: "Search papers by semantic query. Returns a ranked list of relevant papers.",
	}, s.handleSearch)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search_in_paper",
		Description: "Find passages relevant to a query within a single paper.",
	}, s.handleSearchInPaper)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "verify_claim",
		Description: "Check whether a claim is supported by the cited paper. Use before finalizing a citation.",
	}, s.handleVerify)
}

func (s *Server) handleList(ctx context.Context, _ *mcp.CallToolRequest, _ ListInput) (*mcp.CallToolResult, ListOutput, error) {
	entries, err := s.lib.List(ctx)
	if err != nil {
		return nil, ListOutput{}, err
	}
	out := ListOutput{Papers: make([]PaperInfo, len(entries)), Count: len(entries)}
	for i, e := range entries {
		out.Papers[i] = PaperInfo{
			ID:         e.Document.ID,
			SourcePath: e.Document.SourcePath,
			Converted:  e.Has(model.StageConvert),
			Summarized: e.Has(model.StageSummarize),
			Indexed:    e.Has(model.StageIndex),
		}
	}
	return nil, out, nil
}

func (s *Server) handleRead(ctx context.Context, _ *mcp.CallToolRequest, in NameInput) (*mcp.CallToolResult, TextOutput, error) {
	doc, text, err := s.lib.Read(ctx, in.Name, in.Section)
	if err != nil {
		return nil, TextOutput{}, err
	}
	clipped := library.Clip(text, MaxReadChars, truncatedMarker)
	return nil, TextOutput{ID: doc.ID, Text: clipped, Truncated: clipped != text}, nil
}

func (s *Server) handleSummary(ctx context.Context, _ *mcp.CallToolRequest, in NameInput) (*mcp.CallToolResult, TextOutput, error) {
	doc, b, err := s.lib.Summary(ctx, in.Name)
	if err != nil {
		return nil, TextOutput{}, err
	}
	return nil, TextOutput{ID: doc.ID, Text: string(b)}, nil
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	hits, err := s.lib.Find(ctx, in.Query, in.TopK)
	if err != nil {
		return nil, SearchOutput{}, err
	}
	if hits == nil {
		hits = []index.Hit{}
	}
	return nil, SearchOutput{Results: hits, Count: len(hits)}, nil
}

func (s *Server) handleSearchInPaper(ctx context.Context, _ *mcp.CallToolRequest, in SearchInPaperInput) (*mcp.CallToolResult, PassagesOutput, error) {
	doc, passages, err := s.lib.Passages(ctx, in.Name, in.Query, passageLimit)
	if err != nil {
		return nil, PassagesOutput{}, err
	}
	if passages == nil {
		passages = []string{}
	}
	return nil, PassagesOutput{ID: doc.ID, Passages: passages}, nil
}

func (s *Server) handleVerify(ctx context.Context, _ *mcp.CallToolRequest, in VerifyInput) (*mcp.CallToolResult, VerifyOutput, error) {
	if s.verifier == nil {
		return nil, VerifyOutput{}, eris.New("mcpserver: verification is not configured")
	}
	res, err := s.verifier.VerifyDocument(ctx, s.lib, in.Name, in.Claim)
	if err != nil {
		return nil, VerifyOutput{}, err
	}
	return nil, VerifyOutput{ID: res.Document.ID, Claim: res.Claim, Verdict: res.Verdict}, nil
}
