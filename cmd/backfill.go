package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/companydb/internal/backfill"
	"github.com/sells-group/companydb/internal/fetcher"
)

var (
	backfillFlags         jobFlags
	backfillMaster        string
	backfillEncoding      string
	backfillMinSimilarity float64
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Fill missing corporate numbers from the NTA master file",
	Long: "Matches records without a valid corporate number against the National Tax Agency " +
		"corporate number master (a local CSV or ZIP, or a URL) by normalized name, prefecture " +
		"and address similarity.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		backfillFlags.resolve(cmd)
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		return runBackfill(ctx, cmd, env)
	},
}

func init() {
	backfillFlags.register(backfillCmd)
	backfillCmd.Flags().StringVar(&backfillMaster, "master", "", "master CSV path, ZIP or URL (default from config)")
	backfillCmd.Flags().StringVar(&backfillEncoding, "encoding", "", "master file encoding (default from config)")
	backfillCmd.Flags().Float64Var(&backfillMinSimilarity, "min-similarity", 0, "minimum address similarity (default from config)")
	rootCmd.AddCommand(backfillCmd)
}

func runBackfill(ctx context.Context, cmd *cobra.Command, env *jobEnv) error {
	master := backfillMaster
	if master == "" {
		master = cfg.Backfill.Master
	}
	if master == "" {
		return eris.New("backfill: --master or backfill.master is required")
	}
	encoding := backfillEncoding
	if encoding == "" {
		encoding = cfg.Backfill.Encoding
	}
	minSimilarity := backfillMinSimilarity
	if minSimilarity <= 0 {
		minSimilarity = cfg.Backfill.MinAddressSimilarity
	}

	job := backfillFlags.jobName(backfill.DefaultJob)
	sink, err := openReport(job)
	if err != nil {
		return err
	}
	defer sink.Close() //nolint:errcheck

	f := backfillFlags
	b := &backfill.Backfiller{
		Store:       env.Store,
		Checkpoints: env.Checkpoints,
		Report:      sink,
		Fetcher:     fetcher.NewHTTPFetcher(fetcher.HTTPOptions{}),
	}
	sum, err := b.Run(ctx, backfill.Options{
		Job:                  job,
		Master:               master,
		Encoding:             encoding,
		MinAddressSimilarity: minSimilarity,
		TmpDir:               cfg.Backfill.TempDir,
		PageSize:             f.pageSize,
		BatchSize:            f.batchSize,
		DryRun:               f.dryRun,
		Resume:               f.resume,
		StartAfter:           f.startAfter,
		EndBefore:            f.endBefore,
		Limit:                f.limit,
		CheckpointEvery:      f.checkpointEvery,
		Retry:                retryConfig(),
		Limiter:              writeLimiter(),
	})
	printSummary(cmd.OutOrStdout(), sum)
	return eris.Wrap(err, "backfill")
}
