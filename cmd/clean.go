package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/companydb/internal/cleanup"
)

var (
	cleanFlags jobFlags
	cleanRules []string
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Apply row-level cleaning rules to every record",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cleanFlags.resolve(cmd)
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		return runClean(ctx, cmd, env)
	},
}

func init() {
	cleanFlags.register(cleanCmd)
	cleanCmd.Flags().StringSliceVar(&cleanRules, "rules", nil, "rules to apply, comma-separated (default all)")
	rootCmd.AddCommand(cleanCmd)
}

func runClean(ctx context.Context, cmd *cobra.Command, env *jobEnv) error {
	job := cleanFlags.jobName(cleanup.DefaultJob)
	sink, err := openReport(job)
	if err != nil {
		return err
	}
	defer sink.Close() //nolint:errcheck

	f := cleanFlags
	c := &cleanup.Cleaner{Store: env.Store, Checkpoints: env.Checkpoints, Report: sink}
	sum, err := c.Run(ctx, cleanup.Options{
		Job:             job,
		Rules:           cleanRules,
		PageSize:        f.pageSize,
		BatchSize:       f.batchSize,
		DryRun:          f.dryRun,
		Resume:          f.resume,
		StartAfter:      f.startAfter,
		EndBefore:       f.endBefore,
		Limit:           f.limit,
		CheckpointEvery: f.checkpointEvery,
		Retry:           retryConfig(),
		Limiter:         writeLimiter(),
	})
	printSummary(cmd.OutOrStdout(), sum)
	return eris.Wrap(err, "clean")
}
