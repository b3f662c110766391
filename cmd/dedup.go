package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/companydb/internal/dedup"
	"github.com/sells-group/companydb/internal/resolve"
)

var (
	dedupFlags                 jobFlags
	dedupStrategy              string
	dedupKeyMode               string
	dedupIncludePrefecture     bool
	dedupIncludeRepresentative bool
)

var dedupCmd = &cobra.Command{
	Use:   "dedup",
	Short: "Merge duplicate company records",
	Long: "Groups records by canonical key (corporate number, or normalized name and address), " +
		"keeps the best-populated record of each group, fills its empty fields from the others, " +
		"and deletes the rest.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		dedupFlags.resolve(cmd)
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		return runDedup(ctx, cmd, env)
	},
}

func init() {
	dedupFlags.register(dedupCmd)
	dedupCmd.Flags().StringVar(&dedupStrategy, "strategy", "", "full-scan or incremental (default from config)")
	dedupCmd.Flags().StringVar(&dedupKeyMode, "key-mode", "", "auto, corporate-number or name-address (default from config)")
	dedupCmd.Flags().BoolVar(&dedupIncludePrefecture, "include-prefecture", false, "add the prefecture to name+address keys")
	dedupCmd.Flags().BoolVar(&dedupIncludeRepresentative, "include-representative", false, "add the representative to name+address keys")
	rootCmd.AddCommand(dedupCmd)
}

func runDedup(ctx context.Context, cmd *cobra.Command, env *jobEnv) error {
	strategyName := dedupStrategy
	if strategyName == "" {
		strategyName = cfg.Dedup.Strategy
	}
	strategy, err := dedup.ParseStrategy(strategyName)
	if err != nil {
		return err
	}
	modeName := dedupKeyMode
	if modeName == "" {
		modeName = cfg.Dedup.KeyMode
	}
	mode, err := resolve.ParseMode(modeName)
	if err != nil {
		return err
	}

	job := dedupFlags.jobName(dedup.DefaultJob)
	sink, err := openReport(job)
	if err != nil {
		return err
	}
	defer sink.Close() //nolint:errcheck

	normalizer := resolve.NewNormalizer(resolve.KeyOptions{
		Mode:                  mode,
		IncludePrefecture:     dedupIncludePrefecture || cfg.Dedup.IncludePrefecture,
		IncludeRepresentative: dedupIncludeRepresentative || cfg.Dedup.IncludeRepresentative,
	})
	resolver := resolve.NewResolver(resolve.ResolverOptions{AuthoritativeSources: cfg.Dedup.AuthoritativeSources})
	driver := dedup.New(env.Store, env.Checkpoints, sink, normalizer, resolver)

	f := dedupFlags
	sum, err := driver.Run(ctx, dedup.Options{
		Job:             job,
		Strategy:        strategy,
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
	return eris.Wrap(err, "dedup")
}
