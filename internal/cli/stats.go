package cli

import (
	"github.com/spf13/cobra"
)

var (
	statsBench string
	statsLimit int
)

var statsCmd = &cobra.Command{
	Use:   "stats [index]",
	Short: "Show graph statistics of an index",
	Long: `Prints the layer occupancy, average connectivity and memory use of an
index. With --bench, queries the index with the hashes of a CSV and compares
the results against a brute-force scan.`,
	Args: cobra.ExactArgs(1),
	RunE: runStats,
}

func init() {
	statsCmd.Flags().StringVar(&statsBench, "bench", "", "CSV of hashes to benchmark precision with")
	statsCmd.Flags().IntVar(&statsLimit, "limit", 1000, "maximum benchmark queries")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := appConfig

	h, err := loadIndex(ctx, cfg, args[0])
	if err != nil {
		return err
	}
	cmd.Print(h.Stats())

	if statsBench == "" {
		return nil
	}
	records, err := readRecords(statsBench, cfg, false)
	if err != nil {
		return err
	}
	vectors, _, err := encodeRecords(ctx, cfg, records)
	if err != nil {
		return err
	}
	if statsLimit > 0 && len(vectors) > statsLimit {
		vectors = vectors[:statsLimit]
	}
	if len(vectors) == 0 {
		cmd.Println("no benchmark queries")
		return nil
	}

	var precision float64
	for _, v := range vectors {
		precision += h.Benchmark(v, cfg.Index.Ef, cfg.Index.K)
	}
	cmd.Printf("Precision@%d over %d queries: %.4f\n", cfg.Index.K, len(vectors), precision/float64(len(vectors)))
	return nil
}
