package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/companydb/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "companydb",
	Short: "Clean, backfill, import and deduplicate company records",
	Long: "Batch jobs over the company collection: row cleaning, corporate-number backfill " +
		"from the NTA master file, CSV import, and duplicate merging with resumable checkpoints.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
