package main

import (
	"fmt"
	"os"

	"github.com/fabio-bix/json-transcribe/pkg/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	envFile string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "json-transcribe",
		Short: "Translate JSON localization files with an LLM",
		Long: `json-transcribe translates nested JSON localization files while keeping
key order, placeholders such as {{name}} or %s and manual edits intact.

Commands:
  serve       Run the HTTP job API
  translate   Translate one file on disk
  estimate    Estimate size, cost and duration of a translation`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// A missing .env is fine, the process environment still applies.
			_ = godotenv.Load(envFile)
		},
	}

	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file to load before reading configuration")

	root.AddCommand(
		newServeCmd(),
		newTranslateCmd(),
		newEstimateCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error("%v", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
