package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/companydb/internal/checkpoint"
)

var checkpointFlags jobFlags

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect or clear saved job checkpoints",
}

var checkpointShowCmd = &cobra.Command{
	Use:   "show <job>",
	Short: "Print the saved cursor and counters of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()
		return showCheckpoint(ctx, cmd, env.Checkpoints, checkpointFlags.jobName(args[0]))
	},
}

var checkpointClearCmd = &cobra.Command{
	Use:   "clear <job>",
	Short: "Remove the saved checkpoint of a job so the next run starts over",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()
		return clearCheckpoint(ctx, env.Checkpoints, checkpointFlags.jobName(args[0]))
	},
}

func init() {
	for _, c := range []*cobra.Command{checkpointShowCmd, checkpointClearCmd} {
		c.Flags().StringVar(&checkpointFlags.startAfter, "start-after", "", "range lower bound the job ran with")
		c.Flags().StringVar(&checkpointFlags.endBefore, "end-before", "", "range upper bound the job ran with")
		checkpointCmd.AddCommand(c)
	}
	rootCmd.AddCommand(checkpointCmd)
}

func showCheckpoint(ctx context.Context, cmd *cobra.Command, cps checkpoint.Store, job string) error {
	cur, err := cps.Load(ctx, job)
	if err != nil {
		return eris.Wrapf(err, "load checkpoint %s", job)
	}
	out := cmd.OutOrStdout()
	if cur == nil {
		fmt.Fprintf(out, "no checkpoint for %s\n", job)
		return nil
	}
	counters, err := json.Marshal(cur.Counters)
	if err != nil {
		return eris.Wrap(err, "marshal counters")
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "JOB\t%s\n", job)
	fmt.Fprintf(tw, "LAST ID\t%s\n", cur.LastID)
	fmt.Fprintf(tw, "COUNTERS\t%s\n", counters)
	if !cur.UpdatedAt.IsZero() {
		fmt.Fprintf(tw, "UPDATED\t%s\n", cur.UpdatedAt.Format("2006-01-02 15:04:05 MST"))
	}
	return tw.Flush()
}

func clearCheckpoint(ctx context.Context, cps checkpoint.Store, job string) error {
	if err := cps.Clear(ctx, job); err != nil {
		return eris.Wrapf(err, "clear checkpoint %s", job)
	}
	zap.L().Info("checkpoint cleared", zap.String("job", job))
	return nil
}
