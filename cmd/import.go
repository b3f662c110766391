package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/companydb/internal/fetcher"
	"github.com/sells-group/companydb/internal/importer"
)

var (
	importCSVPath   string
	importEncoding  string
	importSource    string
	importDryRun    bool
	importBatchSize int
	importProgress  bool
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import company rows from a CSV whose header uses schema field names",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		return runImport(ctx, cmd, env)
	},
}

func init() {
	importCmd.Flags().StringVar(&importCSVPath, "csv", "", "path or URL of the CSV file (required)")
	importCmd.Flags().StringVar(&importEncoding, "encoding", "utf-8", "CSV encoding (utf-8 or shift_jis)")
	importCmd.Flags().StringVar(&importSource, "source", "", "value for the source field of rows without one")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "log intended writes without writing")
	importCmd.Flags().IntVar(&importBatchSize, "batch-size", 0, "records per write batch (default from config)")
	importCmd.Flags().BoolVar(&importProgress, "progress", true, "show a progress bar on stderr")
	_ = importCmd.MarkFlagRequired("csv")
	rootCmd.AddCommand(importCmd)
}

func runImport(ctx context.Context, cmd *cobra.Command, env *jobEnv) error {
	batchSize := importBatchSize
	if batchSize <= 0 {
		batchSize = cfg.Batch.BatchSize
	}
	sink, err := openReport(importer.DefaultJob)
	if err != nil {
		return err
	}
	defer sink.Close() //nolint:errcheck

	opts := importer.Options{
		Input:     importCSVPath,
		Encoding:  importEncoding,
		Source:    importSource,
		TmpDir:    cfg.Backfill.TempDir,
		BatchSize: batchSize,
		DryRun:    importDryRun,
		Retry:     retryConfig(),
		Limiter:   writeLimiter(),
	}
	if importProgress {
		opts.Progress = os.Stderr
	}
	im := &importer.Importer{
		Store:   env.Store,
		Report:  sink,
		Fetcher: fetcher.NewHTTPFetcher(fetcher.HTTPOptions{}),
		Schema:  env.Schema,
	}
	sum, err := im.Run(ctx, opts)
	printSummary(cmd.OutOrStdout(), sum)
	return eris.Wrap(err, "import")
}
