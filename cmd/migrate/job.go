package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/timmy/batchmigrate/internal/console"
	"github.com/timmy/batchmigrate/internal/domain"
	"github.com/timmy/batchmigrate/internal/orchestrator"
)

var (
	createAsset     string
	createSchema    string
	createName      string
	createThreshold float64
	statusFilter    string
	acknowledge     bool
)

// jobCmd represents the job command group
var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Manage migration jobs",
	Long: `Manage migration jobs: create, inspect and control their execution.

Available subcommands:
  create, list, status, report, start, pause, retry, revalidate`,
}

var jobCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a job for an asset and validate it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		spec := orchestrator.JobSpec{Name: createName, AssetID: createAsset, SchemaName: createSchema}
		if cmd.Flags().Changed("threshold") {
			spec.FailureThreshold = &createThreshold
		}
		job, err := engine.Console.CreateJob(cmd.Context(), spec)
		if err != nil {
			return err
		}
		report, err := engine.Console.GetValidationReport(cmd.Context(), job.ID)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Created job %s (%d records)\n", job.ID, job.TotalRecords)
		printReportSummary(out, report)
		return nil
	},
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List migration jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var filter domain.JobFilter
		if statusFilter != "" {
			s, ok := domain.ParseJobStatus(statusFilter)
			if !ok {
				return fmt.Errorf("unknown status %q", statusFilter)
			}
			filter.Status = s
		}
		jobs, err := engine.Console.ListJobs(cmd.Context(), filter)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%-38s %-10s %-14s %8s %s\n", "JOB ID", "STATUS", "SCHEMA", "PROGRESS", "NAME")
		for _, j := range jobs {
			fmt.Fprintf(out, "%-38s %s %-8s %-14s %7.1f%% %s\n",
				j.ID, statusSymbol(j.Status), j.Status, j.SchemaName, j.Progress*100, j.Name)
		}
		fmt.Fprintf(out, "\nTotal: %d jobs\n", len(jobs))
		return nil
	},
}

var jobStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a job with its live metrics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := engine.Console.GetJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		metrics, err := engine.Console.JobMetrics(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), struct {
			Job     console.JobView `json:"job"`
			Metrics interface{}     `json:"metrics"`
		}{job, metrics})
	},
}

var jobReportCmd = &cobra.Command{
	Use:   "report <job-id>",
	Short: "Print the current validation report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := engine.Console.GetValidationReport(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), report)
	},
}

var jobStartCmd = &cobra.Command{
	Use:   "start <job-id>",
	Short: "Start a pending job or resume a paused one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := engine.Console.StartJob(cmd.Context(), args[0], acknowledge)
		return printOutcome(cmd.OutOrStdout(), "start", out, err)
	},
}

var jobPauseCmd = &cobra.Command{
	Use:   "pause <job-id>",
	Short: "Pause a running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := engine.Console.PauseJob(cmd.Context(), args[0])
		return printOutcome(cmd.OutOrStdout(), "pause", out, err)
	},
}

var jobRetryCmd = &cobra.Command{
	Use:   "retry <job-id>",
	Short: "Re-validate and restart a failed job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := engine.Console.RetryJob(cmd.Context(), args[0])
		return printOutcome(cmd.OutOrStdout(), "retry", out, err)
	},
}

var jobRevalidateCmd = &cobra.Command{
	Use:   "revalidate <job-id>",
	Short: "Validate a pending or paused job again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := engine.Console.RevalidateJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printReportSummary(cmd.OutOrStdout(), report)
		return nil
	},
}

func init() {
	jobCreateCmd.Flags().StringVar(&createAsset, "asset", "", "asset id to migrate (required)")
	jobCreateCmd.Flags().StringVar(&createSchema, "schema", "", "target schema (required)")
	jobCreateCmd.Flags().StringVar(&createName, "name", "", "job name (default: \"<schema> migration\")")
	jobCreateCmd.Flags().Float64Var(&createThreshold, "threshold", 0, "failure threshold in [0,1]")
	_ = jobCreateCmd.MarkFlagRequired("asset")
	_ = jobCreateCmd.MarkFlagRequired("schema")

	jobListCmd.Flags().StringVar(&statusFilter, "status", "", "only jobs in this status")
	jobStartCmd.Flags().BoolVar(&acknowledge, "ack", false, "acknowledge validation warnings")

	rootCmd.AddCommand(jobCmd)
	jobCmd.AddCommand(jobCreateCmd, jobListCmd, jobStatusCmd, jobReportCmd,
		jobStartCmd, jobPauseCmd, jobRetryCmd, jobRevalidateCmd)
}

func printOutcome(w io.Writer, action string, out console.JobOutcome, err error) error {
	if err != nil {
		return err
	}
	if !out.Changed {
		fmt.Fprintf(w, "Job %s already %s, nothing to %s\n", out.Job.ID, out.Job.Status, action)
		return nil
	}
	fmt.Fprintf(w, "Job %s is now %s (attempt %d)\n", out.Job.ID, out.Job.Status, out.Job.Attempt)
	return nil
}

func printReportSummary(w io.Writer, r *domain.ValidationResult) {
	state := "valid"
	if !r.IsValid {
		state = "INVALID"
	}
	fmt.Fprintf(w, "Validation %s: %s, %d records, %d errors, %d warnings, %d duplicates\n",
		r.ID, state, r.RecordCount, len(r.Errors), len(r.Warnings), r.DuplicateCount)
	for i, issue := range r.Errors {
		if i == 10 {
			fmt.Fprintf(w, "  ... %d more\n", len(r.Errors)-i)
			break
		}
		fmt.Fprintf(w, "  row %d %s: %s\n", issue.Row, issue.Column, issue.Message)
	}
}

func statusSymbol(s domain.JobStatus) string {
	switch s {
	case domain.JobStatusCompleted:
		return "✓"
	case domain.JobStatusRunning:
		return "→"
	case domain.JobStatusFailed:
		return "✗"
	case domain.JobStatusPaused:
		return "‖"
	default:
		return "○"
	}
}
