package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/timmy/batchmigrate/internal/domain"
	"github.com/timmy/batchmigrate/internal/ingest"
)

var (
	uploadType string
	uploadMeta []string
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a dataset into the content store",
	Long: `Upload a delimited dataset. The file passes admission before anything
is written; the new asset id is printed on success.

Example:
  migrate upload vendors.csv --owner ops --meta source=erp`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

var assetCmd = &cobra.Command{
	Use:   "asset",
	Short: "Inspect and remove uploaded assets",
}

var assetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List uploaded assets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		assets, err := engine.Console.ListAssets(cmd.Context(), domain.AssetFilter{OwnerID: owner})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%-38s %-12s %-12s %10s %s\n", "ASSET ID", "OWNER", "PROCESSING", "BYTES", "NAME")
		for _, a := range assets {
			fmt.Fprintf(out, "%-38s %-12s %-12s %10d %s\n", a.ID, a.OwnerID, a.ProcessingStatus, a.SizeBytes, a.DeclaredName)
		}
		fmt.Fprintf(out, "\nTotal: %d assets\n", len(assets))
		return nil
	},
}

var assetDeleteCmd = &cobra.Command{
	Use:   "delete <asset-id>",
	Short: "Delete an asset that no active job uses",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := engine.Console.DeleteAsset(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
		return nil
	},
}

var assetURLCmd = &cobra.Command{
	Use:   "url <asset-id>",
	Short: "Print a time-limited download URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := engine.Console.DownloadHandle(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), h)
	},
}

func init() {
	uploadCmd.Flags().StringVar(&uploadType, "type", "", "declared content type (default: from the file extension)")
	uploadCmd.Flags().StringArrayVar(&uploadMeta, "meta", nil, "metadata as key=value, repeatable")

	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(assetCmd)
	assetCmd.AddCommand(assetListCmd, assetDeleteCmd, assetURLCmd)
}

func runUpload(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}
	meta, err := parseMeta(uploadMeta)
	if err != nil {
		return err
	}

	asset, err := engine.Console.UploadAsset(cmd.Context(), ingest.Upload{
		OwnerID:      owner,
		Data:         data,
		DeclaredName: filepath.Base(args[0]),
		DeclaredType: uploadType,
		Metadata:     meta,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s (%d bytes) as asset %s\n", asset.DeclaredName, asset.SizeBytes, asset.ID)
	return nil
}

func parseMeta(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	meta := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --meta %q, want key=value", p)
		}
		meta[k] = v
	}
	return meta, nil
}
