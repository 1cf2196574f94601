package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/timmy/batchmigrate/internal/app"
	"github.com/timmy/batchmigrate/internal/config"
	"github.com/timmy/batchmigrate/internal/logger"
)

var (
	// Global flags
	cfgFile string
	owner   string
	verbose bool

	engine *app.App
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Batch data migration and validation engine",
	Long: `migrate uploads delimited datasets, validates them against a schema and
migrates their records in batches into the record store.

Example:
  migrate upload vendors.csv --owner ops
  migrate job create --asset <asset-id> --schema vendor
  migrate run <job-id>
  migrate job report <job-id>`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := "warn"
		if verbose {
			level = "debug"
		}
		logger.SetDefaultLogger(logger.New(&logger.Config{
			Level:       level,
			Format:      "text",
			Output:      cmd.ErrOrStderr(),
			ServiceName: "batchmigrate-cli",
		}))

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		engine, err = app.New(cmd.Context(), cfg)
		return err
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if engine == nil {
			return nil
		}
		return engine.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./configs/config.yaml, ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&owner, "owner", "", "owner identity recorded on uploads")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
