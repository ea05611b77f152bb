package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/ddbj-search/internal/domain"
	"github.com/sha1n/ddbj-search/internal/xref"
)

// ClassifyArgument names the accession to classify.
type ClassifyArgument struct {
	Accession string `json:"accession" jsonschema:"Accession to classify, e.g. PRJDB1234 or SAMD00000001"`
}

// ClassifyHandler handles the classify_accession tool.
type ClassifyHandler struct{}

// Handle classifies the accession by its identifier pattern.
func (h *ClassifyHandler) Handle(_ context.Context, _ *mcp.CallToolRequest, args ClassifyArgument) (*mcp.CallToolResult, any, error) {
	id := strings.TrimSpace(args.Accession)
	if id == "" {
		return errorResult("Accession cannot be empty"), nil, nil
	}

	x, ok := xref.Classify(id)
	if !ok {
		return textResult(fmt.Sprintf("%s does not match any known accession pattern", id)), nil, nil
	}
	return textResult(fmt.Sprintf("%s\ntype: %s\nurl: %s\n", x.Identifier, x.Type, x.URL)), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *ClassifyHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "classify_accession",
		Description: "Identify the archive type of an accession and its entry URL",
	}
}

// RegisterClassifyTool registers the classify tool with an MCP server.
func RegisterClassifyTool(server *mcp.Server) {
	handler := &ClassifyHandler{}
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}

// LookupArgument names the accession whose cross-references are wanted.
type LookupArgument struct {
	Accession string `json:"accession" jsonschema:"Accession to look up"`
	Category  string `json:"category,omitempty" jsonschema:"Record category (bioproject, biosample, jga-study, ...); inferred from the accession when omitted"`
}

// LookupHandler handles the lookup_dbxrefs tool.
type LookupHandler struct {
	resolver Resolver
}

// NewLookupHandler creates a new lookup handler.
func NewLookupHandler(resolver Resolver) *LookupHandler {
	return &LookupHandler{resolver: resolver}
}

// Handle resolves the accession against the relation store.
func (h *LookupHandler) Handle(ctx context.Context, _ *mcp.CallToolRequest, args LookupArgument) (*mcp.CallToolResult, any, error) {
	id := strings.TrimSpace(args.Accession)
	if id == "" {
		return errorResult("Accession cannot be empty"), nil, nil
	}

	category, err := lookupCategory(id, args.Category)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}

	res, err := h.resolver.Resolve(ctx, id, category)
	if err != nil {
		return errorResult(fmt.Sprintf("Lookup failed: %s", err)), nil, nil
	}
	return formatResolution(id, res), nil, nil
}

// lookupCategory returns the explicit category or the one implied by the accession.
func lookupCategory(id, name string) (domain.Category, error) {
	if name != "" {
		return domain.ParseCategory(name)
	}
	x, ok := xref.Classify(id)
	if !ok {
		return "", fmt.Errorf("cannot infer category of %s, pass one explicitly", id)
	}
	category, err := domain.ParseCategory(x.Type)
	if err != nil {
		return "", fmt.Errorf("%s has no relation tables", x.Type)
	}
	return category, nil
}

func formatResolution(id string, res xref.Resolution) *mcp.CallToolResult {
	if len(res.Xrefs) == 0 {
		return textResult(fmt.Sprintf("No cross-references found for %s", id))
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d cross-references for %s:\n\n", len(res.Xrefs), id))
	for _, x := range res.Xrefs {
		sb.WriteString(fmt.Sprintf("- %s (%s) %s\n", x.Identifier, x.Type, x.URL))
	}
	if len(res.Truncated) > 0 {
		sb.WriteString(fmt.Sprintf("\nResults truncated for: %s\n", strings.Join(res.Truncated, ", ")))
	}
	return textResult(sb.String())
}

// GetToolDefinition returns the MCP tool definition.
func (h *LookupHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "lookup_dbxrefs",
		Description: "List the accessions related to an accession through the relation tables",
	}
}

// RegisterLookupTool registers the lookup tool with an MCP server.
func RegisterLookupTool(server *mcp.Server, resolver Resolver) {
	handler := NewLookupHandler(resolver)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}
