package app

import (
	"log/slog"
	"os"

	"github.com/sha1n/ddbj-search/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterGlobalFlags registers the flags shared by every command
func RegisterGlobalFlags(flags *pflag.FlagSet) {
	flags.StringP("config", "c", "", "Path to a YAML config file")
	flags.String("log-level", "", "Log level: debug, info, warn or error")
	flags.String("log-format", "", "Log format: text or json")
	flags.IntP("workers", "w", 0, "Number of parallel workers")
	flags.String("relations-driver", "", "Relation store driver: sqlite or postgres")
	flags.String("relations-dsn", "", "Relation store path (sqlite) or connection string (postgres)")
	flags.Int("row-limit", 0, "Maximum rows read per relation table and accession")
	flags.Duration("lock-timeout", 0, "How long to wait for the relation store lock")
	flags.String("index-dir", "", "Base directory of the search indexes")
}

// RegisterFlags registers the MCP server flags on the given FlagSet
func RegisterFlags(flags *pflag.FlagSet) {
	flags.StringP("transport", "t", "", "Transport type: stdio or sse")
	flags.StringP("host", "H", "", "Host for SSE transport")
	flags.IntP("port", "p", 0, "Port for SSE transport")
	flags.Int("max-results", 0, "Maximum search results per tool call")
	flags.StringP("auth-type", "a", "", "Authentication type: none, basic, or apikey")
	flags.StringP("auth-basic-username", "u", "", "Basic auth username")
	flags.StringP("auth-basic-password", "P", "", "Basic auth password")
	flags.StringSliceP("auth-api-keys", "k", nil, "API keys (comma-separated)")
}

// registerSyncFlags registers the flags tuning index writes
func registerSyncFlags(flags *pflag.FlagSet) {
	flags.Int("batch-size", 0, "Documents per bulk request")
	flags.Int("max-retries", 0, "Retries per batch and per retryable document")
	flags.Duration("request-timeout", 0, "Timeout of one bulk request")
	flags.String("refresh-interval", "", "Refresh interval restored after a sync")
	flags.Int("max-errors", 0, "Maximum failed documents reported in detail")
}

// loadSettings resolves and validates the settings for cmd, then installs
// the configured logger as the default.
func loadSettings(cmd *cobra.Command, params RunParams) (*config.Settings, error) {
	settings, err := params.LoadSettings(cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := params.ValidSettings(settings); err != nil {
		return nil, err
	}
	slog.SetDefault(config.NewLogger(settings, os.Stderr))
	return settings, nil
}

// NewRootCommand builds the command tree.
func NewRootCommand(programName, version string, params RunParams) *cobra.Command {
	root := &cobra.Command{
		Use:          programName,
		Short:        "DDBJ search data pipeline",
		Long:         "Convert BioProject, BioSample, SRA and JGA XML exports into search documents and keep a search index in sync",
		Version:      version,
		SilenceUsage: true,
	}
	root.SetVersionTemplate(`{{.Version}}
`)
	RegisterGlobalFlags(root.PersistentFlags())

	root.AddCommand(
		newConvertCommand(params),
		newDiffCommand(params),
		newSyncCommand(params),
		newDeleteCommand(params),
		newIndexCommand(params),
		newRelationsCommand(params),
		newXrefCommand(params),
		newServeCommand(params, version),
		newConfigCommand(params),
	)
	return root
}

func newConvertCommand(params RunParams) *cobra.Command {
	var o ConvertOptions
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert XML exports into bulk files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := loadSettings(cmd, params)
			if err != nil {
				return err
			}
			return RunConvert(cmd.Context(), settings, o, cmd.OutOrStdout())
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&o.Category, "category", "", "Record category, e.g. bioproject, biosample, sra-run, jga-study")
	flags.StringVar(&o.Index, "index", "", "Index named in the bulk headers (defaults to the category)")
	flags.StringVarP(&o.Dir, "dir", "d", "", "Directory of XML inputs (*.xml, *.xml.gz)")
	flags.StringSliceVarP(&o.Files, "file", "f", nil, "XML input file (repeatable)")
	flags.StringVarP(&o.OutDir, "out", "o", "", "Output directory for bulk files and the manifest")
	flags.Int("batch-size", 0, "Documents buffered per write")
	flags.Int("max-collection-items", 0, "Maximum items kept per repeated element")
	flags.Bool("recover", false, "Resynchronize after malformed records instead of failing the file")
	flags.String("center", "", "Submitting center filter: DDBJ, NCBI or EBI")
	_ = cmd.MarkFlagRequired("category")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func newDiffCommand(params RunParams) *cobra.Command {
	var o DiffOptions
	cmd := &cobra.Command{
		Use:   "diff",
		Short: "List bulk files that changed since the previous generation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := loadSettings(cmd, params)
			if err != nil {
				return err
			}
			return RunDiff(cmd.Context(), settings, o, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&o.Prev, "prev", "", "Previous generation directory (defaults to the newest older dated sibling)")
	cmd.Flags().StringVar(&o.Curr, "curr", "", "Current generation directory")
	cmd.Flags().StringVar(&o.Pattern, "pattern", "", "File name pattern (default *.jsonl)")
	_ = cmd.MarkFlagRequired("curr")
	return cmd
}

func newSyncCommand(params RunParams) *cobra.Command {
	var o SyncOptions
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push bulk files into an index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := loadSettings(cmd, params)
			if err != nil {
				return err
			}
			return RunSync(cmd.Context(), settings, o, cmd.OutOrStdout())
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&o.Index, "index", "i", "", "Target index")
	flags.StringVarP(&o.Dir, "dir", "d", "", "Directory of bulk files")
	flags.StringSliceVarP(&o.Files, "file", "f", nil, "Bulk file (repeatable)")
	flags.StringVar(&o.Curr, "curr", "", "Sync only the files changed in this generation directory")
	flags.StringVar(&o.Prev, "prev", "", "Previous generation directory used with --curr")
	flags.StringVar(&o.Pattern, "pattern", "", "File name pattern used with --curr")
	registerSyncFlags(flags)
	_ = cmd.MarkFlagRequired("index")
	cmd.MarkFlagsMutuallyExclusive("dir", "curr")
	cmd.MarkFlagsMutuallyExclusive("file", "curr")
	return cmd
}

func newDeleteCommand(params RunParams) *cobra.Command {
	var (
		o     DeleteOptions
		force bool
	)
	cmd := &cobra.Command{
		Use:   "delete [ID...]",
		Short: "Delete documents from an index",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(cmd, params)
			if err != nil {
				return err
			}
			o.IDs = args
			return RunDelete(cmd.Context(), settings, o, params.NewApprover(force), cmd.OutOrStdout())
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&o.Index, "index", "i", "", "Target index")
	flags.StringVarP(&o.File, "file", "f", "", "File with one identifier per line")
	flags.BoolVar(&force, "force", false, "Skip the interactive confirmation")
	registerSyncFlags(flags)
	_ = cmd.MarkFlagRequired("index")
	return cmd
}

func newIndexCommand(params RunParams) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Manage search indexes",
	}

	create := &cobra.Command{
		Use:   "create NAME",
		Short: "Create an index with the document mapping",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(cmd, params)
			if err != nil {
				return err
			}
			return RunIndexCreate(cmd.Context(), settings, args[0], cmd.OutOrStdout())
		},
	}
	create.Flags().String("refresh-interval", "", "Refresh interval of the new index")

	var force bool
	drop := &cobra.Command{
		Use:   "drop NAME",
		Short: "Drop an index and all its documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(cmd, params)
			if err != nil {
				return err
			}
			return RunIndexDrop(cmd.Context(), settings, args[0], params.NewApprover(force))
		},
	}
	drop.Flags().BoolVar(&force, "force", false, "Skip the interactive confirmation")

	list := &cobra.Command{
		Use:   "list",
		Short: "List indexes and their document counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := loadSettings(cmd, params)
			if err != nil {
				return err
			}
			return RunIndexList(cmd.Context(), settings, cmd.OutOrStdout())
		},
	}

	cmd.AddCommand(create, drop, list)
	return cmd
}

func newRelationsCommand(params RunParams) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relations",
		Short: "Manage the relation store",
	}

	var o ImportOptions
	importCmd := &cobra.Command{
		Use:   "import [FILE]",
		Short: "Rebuild one relation table from a tab-separated file (stdin when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(cmd, params)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				o.File = args[0]
			}
			return RunRelationsImport(cmd.Context(), settings, o, cmd.OutOrStdout())
		},
	}
	importCmd.Flags().StringVar(&o.Table, "table", "", "Relation table, e.g. bioproject_biosample")
	importCmd.Flags().BoolVar(&o.Dates, "dates", false, "Rebuild the accession date table instead")
	importCmd.MarkFlagsMutuallyExclusive("table", "dates")
	importCmd.MarkFlagsOneRequired("table", "dates")

	cmd.AddCommand(importCmd)
	return cmd
}

func newXrefCommand(params RunParams) *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "xref ACCESSION",
		Short: "Classify an accession and resolve its cross-references",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(cmd, params)
			if err != nil {
				return err
			}
			return RunXref(cmd.Context(), settings, args[0], category, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "Category whose relation tables are consulted")
	return cmd
}

func newServeCommand(params RunParams, version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return RunWithDeps(cmd.Context(), params, cmd.Flags(), version)
		},
	}
	RegisterFlags(cmd.Flags())
	return cmd
}

func newConfigCommand(params RunParams) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the resolved settings with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := loadSettings(cmd, params)
			if err != nil {
				return err
			}
			return RunConfigShow(settings, cmd.OutOrStdout())
		},
	})
	return cmd
}
