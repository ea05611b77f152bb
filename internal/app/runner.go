package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/ddbj-search/internal/config"
	mcputil "github.com/sha1n/ddbj-search/internal/mcp"
	"github.com/sha1n/ddbj-search/internal/relstore"
	"github.com/sha1n/ddbj-search/internal/searchindex"
	"github.com/sha1n/ddbj-search/internal/xref"
	"github.com/spf13/pflag"
)

// RunParams contains dependencies for the commands
type RunParams struct {
	LoadSettings      func(*pflag.FlagSet) (*config.Settings, error)
	ValidSettings     func(*config.Settings) error
	StartSSEServer    func(context.Context, *mcp.Server, *config.Settings) error
	CreateServer      func(*config.Settings) (*mcp.Server, func(), error)
	NewApprover       func(force bool) Approver
	CustomIOTransport mcp.Transport // Optional: for testing with custom IO
}

// DefaultRunParams returns production dependencies
func DefaultRunParams() RunParams {
	return RunParams{
		LoadSettings:   config.LoadSettingsWithFlags,
		ValidSettings:  config.ValidateSettings,
		StartSSEServer: StartSSEServer,
		CreateServer:   CreateMCPServer,
		NewApprover:    NewApprover,
	}
}

// NewApprover returns the approver for destructive commands.
func NewApprover(force bool) Approver {
	if force {
		return NewForcedApprover(DefaultForceCountdown)
	}
	return NewInteractiveApprover()
}

// RunWithDeps executes the server with the provided dependencies
func RunWithDeps(ctx context.Context, params RunParams, flags *pflag.FlagSet, version string) error {
	// Load settings
	settings, err := params.LoadSettings(flags)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	// Validate settings for conflicting configurations
	if err := params.ValidSettings(settings); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Logs always go to stderr; stdout belongs to the stdio transport
	logger := config.NewLogger(settings, os.Stderr)
	slog.SetDefault(logger)

	logger.Info("Starting DDBJ search MCP server", "version", version)
	config.LogWithLogger(settings, logger)
	config.LogServer(settings, logger)

	mcpServer, cleanup, err := params.CreateServer(settings)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	if settings.Server.Transport == "stdio" {
		// Use custom transport if provided (for testing), otherwise use stdio
		transport := params.CustomIOTransport
		if transport == nil {
			transport = &mcp.StdioTransport{}
		}
		return mcpServer.Run(ctx, transport)
	}

	logger.Info("Starting SSE server", "host", settings.Server.Host, "port", settings.Server.Port)
	return params.StartSSEServer(ctx, mcpServer, settings)
}

// CreateMCPServer creates the MCP server over the search indexes and, when
// configured, the relation store.
func CreateMCPServer(settings *config.Settings) (*mcp.Server, func(), error) {
	index := searchindex.NewClient(settings.Index.BaseDir)
	closers := []func() error{index.Close}

	cfg := mcputil.ServerConfig{
		Name:       "ddbj-search",
		Version:    "1.0.0",
		Index:      index,
		MaxResults: settings.Server.MaxResults,
	}

	if settings.Relations.DSN != "" {
		store, err := relstore.Open(context.Background(), relstore.Options{
			Driver:   settings.Relations.Driver,
			DSN:      settings.Relations.DSN,
			ReadOnly: true,
		})
		if err != nil {
			// lookups are unavailable but search still works
			slog.Error("Relation store unavailable, lookup_dbxrefs disabled", "error", err)
		} else {
			cfg.Resolver = xref.NewResolver(store, settings.Relations.RowLimit)
			closers = append(closers, store.Close)
		}
	}

	cleanup := func() {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		if err := errors.Join(errs...); err != nil {
			slog.Error("Failed to close server resources", "error", err)
		}
	}

	return mcputil.CreateServer(cfg), cleanup, nil
}
