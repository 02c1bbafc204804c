package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Bing-dwendwen/fuzzyhnsw"
)

var buildDedupe bool

var buildCmd = &cobra.Command{
	Use:   "build [data.csv] [index]",
	Short: "Build an index from a CSV of hashes",
	Long: `Reads the hash column of a CSV file, encodes every digest and builds an
HNSW index over the vectors. Records are assigned ids in file order. Rows whose
hash does not encode to the configured dimension are skipped.

The index is written to local disk, or to the configured bucket when
storage.endpoint is set.`,
	Args: cobra.ExactArgs(2),
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().BoolVar(&buildDedupe, "dedupe", false, "drop records whose hash was already seen")
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := appConfig

	records, err := readRecords(args[0], cfg, buildDedupe || cfg.Data.Dedupe)
	if err != nil {
		return err
	}
	vectors, _, err := encodeRecords(ctx, cfg, records)
	if err != nil {
		return err
	}
	skipped := len(records) - len(vectors)

	h := fuzzyhnsw.NewIndex()
	err = h.Build(vectors, cfg.Index)
	appLogger.LogBuild(ctx, len(vectors), skipped, cfg.Index.Dim, err)
	if err != nil {
		return fmt.Errorf("build index: %w", err)
	}

	if err := saveIndex(ctx, cfg, args[1], h); err != nil {
		return fmt.Errorf("save index: %w", err)
	}
	cmd.Printf("indexed %d records (%d skipped) into %s\n", len(vectors), skipped, args[1])
	return nil
}
