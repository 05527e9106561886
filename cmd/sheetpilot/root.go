package main

import (
	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

type rootOptions struct {
	appConfig string
	logLevel  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "sheetpilot",
		Short: "Clean spreadsheets and delimited data files",
		Long: `SheetPilot runs a pipeline of cleaning modules (imputation, text
normalization, outlier handling, LLM-backed normalization) over a CSV,
TSV, JSON or Excel file and writes the cleaned table with a report.

Settings are read from --app-config and SHEETPILOT_* environment
variables; provider API keys from OPENAI_API_KEY, ANTHROPIC_API_KEY and
GOOGLE_API_KEY.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		Version: version,
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.appConfig, "app-config", "", "Application settings YAML file")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	cmd.AddCommand(newCleanCmd(opts), newModulesCmd(opts))
	return cmd
}
