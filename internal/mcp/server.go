package mcp

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/ddbj-search/internal/domain"
	"github.com/sha1n/ddbj-search/internal/searchindex"
	"github.com/sha1n/ddbj-search/internal/xref"
)

// DefaultMaxResults caps search hits when ServerConfig.MaxResults is unset.
const DefaultMaxResults = 20

// DocumentIndex is the read side of the search index used by the tools.
type DocumentIndex interface {
	Indexes() ([]string, error)
	Search(ctx context.Context, names []string, q searchindex.Query) (*searchindex.Result, error)
	Get(ctx context.Context, name, id string) (json.RawMessage, bool, error)
}

// Resolver expands an accession into its cross-references.
type Resolver interface {
	Resolve(ctx context.Context, id string, category domain.Category) (xref.Resolution, error)
}

// ServerConfig contains configuration for creating an MCP server
type ServerConfig struct {
	Name    string
	Version string

	// Index enables search_documents and get_document when set.
	Index DocumentIndex

	// Resolver enables lookup_dbxrefs when set.
	Resolver Resolver

	MaxResults int
}

// CreateServer creates and configures the MCP server
func CreateServer(cfg ServerConfig) *mcp.Server {
	s := mcp.NewServer(&mcp.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, nil)

	RegisterClassifyTool(s)
	if cfg.Resolver != nil {
		RegisterLookupTool(s, cfg.Resolver)
	}
	if cfg.Index != nil {
		maxResults := cfg.MaxResults
		if maxResults <= 0 {
			maxResults = DefaultMaxResults
		}
		RegisterSearchTool(s, cfg.Index, maxResults)
		RegisterGetDocumentTool(s, cfg.Index)
	}

	return s
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}
}
