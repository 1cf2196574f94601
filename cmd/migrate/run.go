package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/timmy/batchmigrate/internal/domain"
	"github.com/timmy/batchmigrate/internal/orchestrator"
)

var runAcknowledge bool

var runCmd = &cobra.Command{
	Use:   "run <job-id>",
	Short: "Start a job and tick it to completion in the foreground",
	Long: `Start (or resume) a job and commit its records batch by batch until it
completes, fails, or is interrupted. Interrupting pauses the job so that a
later run resumes where this one stopped.

Example:
  migrate run <job-id> --ack`,
	Args: cobra.ExactArgs(1),
	RunE: runJob,
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Delete stored blobs whose asset record never landed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := engine.Reconciler.Sweep(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Orphans: %d deleted, %d claimed, %d failed\n", stats.Deleted, stats.Claimed, stats.Failed)
		return nil
	},
}

var schemasCmd = &cobra.Command{
	Use:   "schemas",
	Short: "List the schemas jobs can target",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, name := range engine.Console.Schemas() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&runAcknowledge, "ack", false, "acknowledge validation warnings")
	rootCmd.AddCommand(runCmd, reconcileCmd, schemasCmd)
}

func runJob(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	jobID := args[0]

	outcome, err := engine.Console.StartJob(ctx, jobID, runAcknowledge)
	if err != nil {
		return err
	}
	job := outcome.Job

	bar := progressbar.NewOptions(
		job.TotalRecords,
		progressbar.OptionSetDescription(job.Name),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(200*time.Millisecond),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("rec"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionEnableColorCodes(false),
	)
	_ = bar.Set(job.ProcessedRecords)

	res, err := engine.Console.RunJob(ctx, jobID, func(r orchestrator.TickResult) {
		_ = bar.Set(r.Processed)
	})
	_ = bar.Finish()
	fmt.Fprintln(os.Stderr)

	if err != nil {
		if !errors.Is(err, ctx.Err()) {
			return err
		}
		// interrupted: leave the job resumable
		if _, perr := engine.Console.PauseJob(context.WithoutCancel(ctx), jobID); perr != nil {
			return errors.Join(err, perr)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Interrupted; job %s paused at %d/%d\n", jobID, res.Processed, res.Total)
		return nil
	}

	final, err := engine.Console.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Job %s %s: %d processed, %d errors, %d duplicates skipped\n",
		final.ID, final.Status, final.ProcessedRecords, final.ErrorCount, final.SkippedRecords)
	if final.Status == domain.JobStatusFailed {
		return fmt.Errorf("job failed with %d of %d records in error", final.ErrorCount, final.TotalRecords)
	}
	return nil
}
