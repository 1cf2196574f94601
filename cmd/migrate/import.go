package main

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"github.com/timmy/batchmigrate/internal/ingest"
	"github.com/timmy/batchmigrate/internal/source"
	"github.com/timmy/batchmigrate/internal/source/directory"
	"github.com/timmy/batchmigrate/internal/source/staging"
)

var (
	importDir     string
	importStaging string
	importLimit   int
	importForce   bool
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Upload every dataset from a directory or a staging manifest",
	Long: `Upload many datasets at once. Each file goes through the same admission
checks as a single upload; rejected files are counted and skipped.

Sources:
  --dir <path>       every .csv, .tsv and .txt file below path
  --staging <name>   the manifest.jsonl source <name> under importer.staging_path

Files the owner already uploaded with identical content are skipped unless
--force is given.

Example:
  migrate import --dir ./exports --owner ops
  migrate import --staging erp --limit 100`,
	Args: cobra.NoArgs,
	RunE: runImport,
}

var stagingListCmd = &cobra.Command{
	Use:   "staging",
	Short: "List staging sources with a manifest",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		base := engine.Config.Importer.StagingPath
		names, err := staging.ListStagingSources(base)
		if err != nil {
			return err
		}
		for _, n := range names {
			count, err := staging.NewAdapter(base, n).GetTotalCount(cmd.Context())
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s error: %v\n", n, err)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-20s %d files\n", n, count)
		}
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importDir, "dir", "", "directory to import from")
	importCmd.Flags().StringVar(&importStaging, "staging", "", "staging source to import from")
	importCmd.Flags().IntVar(&importLimit, "limit", 0, "maximum files to import, 0 for all")
	importCmd.Flags().BoolVar(&importForce, "force", false, "upload even if identical content exists")
	importCmd.MarkFlagsMutuallyExclusive("dir", "staging")

	rootCmd.AddCommand(importCmd, stagingListCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	var src source.Source
	switch {
	case importDir != "":
		src = directory.NewAdapter(importDir)
	case importStaging != "":
		src = staging.NewAdapter(engine.Config.Importer.StagingPath, importStaging)
	default:
		return errors.New("one of --dir or --staging is required")
	}

	stats, err := engine.Importer.ImportFromSource(cmd.Context(), src, ingest.ImportOptions{
		Owner: owner,
		Limit: importLimit,
		Force: importForce,
	})
	if stats != nil {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s: %d files, %d imported, %d skipped, %d rejected, %d failed\n",
			src.GetDisplayName(), stats.TotalItems, stats.Imported, stats.SkippedItems, stats.RejectedItems, stats.FailedItems)

		reasons := make([]string, 0, len(stats.Rejections))
		for r := range stats.Rejections {
			reasons = append(reasons, r)
		}
		sort.Strings(reasons)
		for _, r := range reasons {
			fmt.Fprintf(out, "  rejected %-20s %d\n", r, stats.Rejections[r])
		}
		for id, ferr := range stats.Failures {
			fmt.Fprintf(out, "  failed %s: %v\n", id, ferr)
		}
	}
	return err
}
