package cli

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/spf13/cobra"

	"github.com/Bing-dwendwen/fuzzyhnsw"
	"github.com/Bing-dwendwen/fuzzyhnsw/internal/dataset"
	"github.com/Bing-dwendwen/fuzzyhnsw/internal/hashenc"
)

var (
	searchK       int
	searchData    string
	searchExclude []uint
	searchDedupe  bool
)

var searchCmd = &cobra.Command{
	Use:   "search [index] [hash...]",
	Short: "Query an index with one or more hashes",
	Long: `Encodes each hash and prints the distances and ids of its k nearest
records, closest first. With --data the ids are resolved back to the hashes of
the CSV the index was built from.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVar(&searchK, "k", 0, "neighbours per query (default: index config k)")
	searchCmd.Flags().StringVar(&searchData, "data", "", "CSV the index was built from, to print hashes")
	searchCmd.Flags().UintSliceVar(&searchExclude, "exclude", nil, "record ids to leave out of the results")
	searchCmd.Flags().BoolVar(&searchDedupe, "dedupe", false, "the index was built with --dedupe")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := appConfig
	if searchK > 0 {
		cfg.Index.K = searchK
	}

	h, err := loadIndex(ctx, cfg, args[0])
	if err != nil {
		return err
	}

	var catalog *dataset.Catalog
	if searchData != "" {
		records, err := readRecords(searchData, cfg, searchDedupe || cfg.Data.Dedupe)
		if err != nil {
			return err
		}
		_, kept, err := encodeRecords(ctx, cfg, records)
		if err != nil {
			return err
		}
		catalog = dataset.NewCatalog()
		for _, rec := range kept {
			catalog.Add(rec.Hash)
		}
	}

	order, err := cfg.ByteOrder()
	if err != nil {
		return err
	}
	enc := hashenc.Encoder{Order: order, Dim: h.Dim()}
	queries := make([]fuzzyhnsw.Point, 0, len(args)-1)
	for _, hash := range args[1:] {
		v, err := enc.Encode(hash)
		if err != nil {
			return err
		}
		queries = append(queries, v)
	}

	var filter *roaring.Bitmap
	if len(searchExclude) > 0 {
		filter = roaring.New()
		for _, id := range searchExclude {
			filter.Add(uint32(id))
		}
	}

	res, err := h.Search(queries, cfg.Index, filter)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	for i := 0; i < res.NQ; i++ {
		dist, ids := res.Row(i)
		cmd.Printf("%s\n", args[i+1])
		for j := range ids {
			if ids[j] == fuzzyhnsw.MissingID {
				break
			}
			cmd.Printf("  %d\t%g", ids[j], dist[j])
			if catalog != nil {
				if hash, ok := catalog.Hash(ids[j]); ok {
					cmd.Printf("\t%s", hash)
				}
			}
			cmd.Println()
		}
	}
	return nil
}
