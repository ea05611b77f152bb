package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/ddbj-search/internal/searchindex"
)

// SearchArgument defines search parameters.
type SearchArgument struct {
	Query    string `json:"query" jsonschema:"Search text matched against identifiers, titles, descriptions, organism names and related accessions"`
	Index    string `json:"index,omitempty" jsonschema:"Restrict the search to one index (e.g. bioproject); all indexes when omitted"`
	Type     string `json:"type,omitempty" jsonschema:"Filter by document type (e.g. biosample, jga-study)"`
	Organism string `json:"organism,omitempty" jsonschema:"Filter by NCBI taxonomy identifier (e.g. 9606)"`
	Limit    int    `json:"limit,omitempty" jsonschema:"Maximum number of results"`
}

// SearchHandler handles the search_documents tool.
type SearchHandler struct {
	index      DocumentIndex
	maxResults int
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(index DocumentIndex, maxResults int) *SearchHandler {
	return &SearchHandler{index: index, maxResults: maxResults}
}

// Handle executes the search and returns formatted results.
func (h *SearchHandler) Handle(ctx context.Context, _ *mcp.CallToolRequest, args SearchArgument) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(args.Query) == "" {
		return errorResult("Query cannot be empty"), nil, nil
	}

	names := []string{args.Index}
	if args.Index == "" {
		all, err := h.index.Indexes()
		if err != nil {
			return errorResult(fmt.Sprintf("Failed to access indexes: %s", err)), nil, nil
		}
		if len(all) == 0 {
			return errorResult("No indexes are available. Create and sync an index first."), nil, nil
		}
		names = all
	}

	size := h.maxResults
	if args.Limit > 0 && args.Limit < size {
		size = args.Limit
	}

	res, err := h.index.Search(ctx, names, searchindex.Query{
		Text:     args.Query,
		Type:     args.Type,
		Organism: args.Organism,
		Size:     size,
	})
	if err != nil {
		return errorResult(fmt.Sprintf("Search failed: %s", err)), nil, nil
	}

	return formatResults(res, args.Query), nil, nil
}

// formatResults formats search hits for the MCP response.
func formatResults(res *searchindex.Result, queryStr string) *mcp.CallToolResult {
	if res.Total == 0 {
		return textResult(fmt.Sprintf("No results found for query: %s", queryStr))
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d results for '%s':\n\n", res.Total, queryStr))

	for i, hit := range res.Hits {
		sb.WriteString(fmt.Sprintf("### %d. %s (%s)\n", i+1, hit.ID, hit.Type))
		if hit.Title != "" {
			sb.WriteString(hit.Title)
			sb.WriteString("\n")
		}
		if hit.Organism != "" {
			sb.WriteString(fmt.Sprintf("**Organism**: %s\n", hit.Organism))
		}
		sb.WriteString(fmt.Sprintf("**Index**: %s  **Score**: %.4f\n", hit.Index, hit.Score))

		for _, s := range hit.Snippets {
			sb.WriteString("> ")
			sb.WriteString(s)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	if res.Total > uint64(len(res.Hits)) {
		sb.WriteString(fmt.Sprintf("... and %d more results\n", res.Total-uint64(len(res.Hits))))
	}

	return textResult(sb.String())
}

// GetToolDefinition returns the MCP tool definition.
func (h *SearchHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "search_documents",
		Description: "Full-text search over synchronized BioProject, BioSample, SRA and JGA documents",
	}
}

// RegisterSearchTool registers the search tool with an MCP server.
func RegisterSearchTool(server *mcp.Server, index DocumentIndex, maxResults int) {
	handler := NewSearchHandler(index, maxResults)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}

// GetDocumentArgument names one stored document.
type GetDocumentArgument struct {
	Index     string `json:"index" jsonschema:"Index holding the document"`
	Accession string `json:"accession" jsonschema:"Document identifier"`
}

// GetDocumentHandler handles the get_document tool.
type GetDocumentHandler struct {
	index DocumentIndex
}

// Handle returns the stored document as indented JSON.
func (h *GetDocumentHandler) Handle(ctx context.Context, _ *mcp.CallToolRequest, args GetDocumentArgument) (*mcp.CallToolResult, any, error) {
	if args.Index == "" || strings.TrimSpace(args.Accession) == "" {
		return errorResult("Both index and accession are required"), nil, nil
	}

	doc, ok, err := h.index.Get(ctx, args.Index, strings.TrimSpace(args.Accession))
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to read document: %s", err)), nil, nil
	}
	if !ok {
		return errorResult(fmt.Sprintf("Document %s not found in %s", args.Accession, args.Index)), nil, nil
	}

	var out bytes.Buffer
	if err := json.Indent(&out, doc, "", "  "); err != nil {
		return textResult(string(doc)), nil, nil
	}
	return textResult(out.String()), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *GetDocumentHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "get_document",
		Description: "Fetch one synchronized document by index and accession",
	}
}

// RegisterGetDocumentTool registers the get_document tool with an MCP server.
func RegisterGetDocumentTool(server *mcp.Server, index DocumentIndex) {
	handler := &GetDocumentHandler{index: index}
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}
