package cli

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Bing-dwendwen/fuzzyhnsw/internal/recall"
	"github.com/Bing-dwendwen/fuzzyhnsw/internal/report"
)

var (
	recallTrials  int
	recallEpsilon float64
	recallK       int
	recallWorkers int
	recallQPS     float64
	recallMode    string
	recallFormat  string
	recallDB      string
	recallDedupe  bool
)

var recallCmd = &cobra.Command{
	Use:   "recall [index] [data.csv]",
	Short: "Measure how often each hash finds itself in the index",
	Long: `Queries the index with every hash of the CSV, repeating each query for a
number of trials. A trial is a hit when any returned distance is within epsilon
of zero. Recall is hits divided by trials and is printed once per record:

  recall: <key> <size> <recall>

Trials that fail are logged and do not count as hits. Records where every
trial failed are skipped. With --db the results are also stored in SQLite.`,
	Args: cobra.ExactArgs(2),
	RunE: runRecall,
}

func init() {
	f := recallCmd.Flags()
	f.IntVar(&recallTrials, "trials", recall.DefaultTrials, "queries per record")
	f.Float64Var(&recallEpsilon, "epsilon", recall.DefaultEpsilon, "distance treated as an exact match")
	f.IntVar(&recallK, "k", 0, "neighbours per query (default: index config k)")
	f.IntVar(&recallWorkers, "workers", 1, "records evaluated concurrently")
	f.Float64Var(&recallQPS, "qps", 0, "maximum queries per second, 0 for unlimited")
	f.StringVar(&recallMode, "mode", recall.ModeFirstHit.String(), "first-hit or all-trials")
	f.StringVarP(&recallFormat, "format", "o", "text", "output format: text or json")
	f.StringVar(&recallDB, "db", "", "SQLite database to store results in")
	f.BoolVar(&recallDedupe, "dedupe", false, "evaluate each distinct hash once")
	rootCmd.AddCommand(recallCmd)
}

func runRecall(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := appConfig

	flags := cmd.Flags()
	if flags.Changed("trials") {
		cfg.Recall.Trials = recallTrials
	}
	if flags.Changed("epsilon") {
		cfg.Recall.Epsilon = recallEpsilon
	}
	if flags.Changed("workers") {
		cfg.Recall.Workers = recallWorkers
	}
	if flags.Changed("qps") {
		cfg.Recall.QPS = recallQPS
	}
	if flags.Changed("mode") {
		cfg.Recall.Mode = recallMode
	}
	if recallK > 0 {
		cfg.Index.K = recallK
	}

	opts, err := cfg.RecallOptions()
	if err != nil {
		return err
	}
	runID := uuid.NewString()
	log := appLogger.WithRun(runID).WithIndex(args[0])
	opts = append(opts, recall.WithLogger(log))

	h, err := loadIndex(ctx, cfg, args[0])
	if err != nil {
		return err
	}
	records, err := readRecords(args[1], cfg, recallDedupe || cfg.Data.Dedupe)
	if err != nil {
		return err
	}

	eval, err := recall.New(h, cfg.Index, opts...)
	if err != nil {
		return err
	}

	sink, err := report.NewSink(cmd.OutOrStdout(), recallFormat)
	if err != nil {
		return err
	}
	if recallDB != "" {
		db, err := report.OpenSQLiteSink(ctx, recallDB, report.Run{
			ID:        runID,
			IndexRef:  args[0],
			StartedAt: time.Now(),
			Trials:    cfg.Recall.Trials,
			Mode:      cfg.Recall.Mode,
		})
		if err != nil {
			return err
		}
		defer db.Close()
		sink = report.MultiSink{sink, db}
	}

	sum, err := eval.Evaluate(ctx, records, sink)
	if err != nil {
		return fmt.Errorf("recall run %s: %w", runID, err)
	}
	log.InfoContext(ctx, "recall run finished",
		"records", sum.Records,
		"reported", len(sum.Results),
		"skipped", sum.Skipped,
		"failures", sum.Failures,
		"mean_recall", sum.MeanRecall(),
	)
	return nil
}
