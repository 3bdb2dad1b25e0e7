package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewRootCommand(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "autotrace",
		Short: "Instrument the LLM call paths of JS/TS and Python projects",
		Long: `Autotrace starts from an entry function, follows its calls through the
project, recommends the functions worth tracing (the entry, every function
that calls a model, and their direct callers) and wraps them with tracing
start/end calls.

Edits are applied per file, atomically, and only when the file is unchanged
since it was analyzed. Running it twice changes nothing.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("root", ".", "Project root")
	rootCmd.PersistentFlags().String("config", "", "Config file (default: <root>/autotrace.toml)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug|info|warn|error")
	rootCmd.PersistentFlags().Bool("log-json", false, "Write logs as JSON")

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default autotrace.toml in the project root",
		Args:  cobra.NoArgs,
		RunE:  RunInit,
	}
	initCmd.Flags().Bool("force", false, "Overwrite an existing autotrace.toml")

	graphCmd := &cobra.Command{
		Use:   "graph <entry-file> <function>",
		Short: "Show the call graph, tags and recommendation for an entry function",
		Args:  cobra.ExactArgs(2),
		RunE:  RunGraph,
	}
	addLimitFlags(graphCmd)
	graphCmd.Flags().Bool("json", false, "Print the graph and analysis as JSON")
	graphCmd.Flags().Bool("jsonl", false, "Print one JSON record per node and edge")

	instrumentCmd := &cobra.Command{
		Use:   "instrument <entry-file> <function>",
		Short: "Select, plan and apply tracing for an entry function",
		Args:  cobra.ExactArgs(2),
		RunE:  RunInstrument,
	}
	addLimitFlags(instrumentCmd)
	instrumentCmd.Flags().BoolP("yes", "y", false, "Accept the recommendation and write without prompting")
	instrumentCmd.Flags().Bool("dry-run", false, "Print the diffs without writing")
	instrumentCmd.Flags().Bool("json", false, "Print machine-readable run summary")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show recorded instrumentation and which files changed since",
		Args:  cobra.NoArgs,
		RunE:  RunStatus,
	}
	statusCmd.Flags().Bool("json", false, "Print machine-readable status output")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "autotrace %s\n", version)
		},
	}

	rootCmd.AddCommand(
		initCmd,
		graphCmd,
		instrumentCmd,
		statusCmd,
		versionCmd,
	)

	return rootCmd
}

func addLimitFlags(cmd *cobra.Command) {
	cmd.Flags().Int("max-depth", 8, "Maximum call depth to follow from the entry")
	cmd.Flags().Int("max-files", 200, "Maximum number of files to expand")
	cmd.Flags().Int("concurrency", 8, "Parallel parses and writes")
}
