package cmd

import (
	"errors"
	"fmt"

	"github.com/code-sleuth/ike-rag/internal/manager/models"

	"github.com/spf13/cobra"
)

var jobsStatus string

var errJobProcessing = errors.New("job is processing; cancel it through the API of the server running it")

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and cancel ingest jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		queue, err := a.controlQueue()
		if err != nil {
			return err
		}
		jobs, err := queue.List(cmd.Context(), models.JobStatus(jobsStatus))
		if err != nil {
			a.logger.Error().Err(err).Msg("Failed to list jobs")
			return err
		}
		return printJSON(cmd.OutOrStdout(), jobs)
	},
}

var jobsGetCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Get a job by ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		job, err := a.jobs.Get(cmd.Context(), args[0])
		if err != nil {
			a.logger.Error().Err(err).Str("job_id", args[0]).Msg("Failed to get job")
			return err
		}
		return printJSON(cmd.OutOrStdout(), job)
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel [id]",
	Short: "Cancel a pending job",
	Long: `Cancel a job. A pending job fails at once with "cancelled". A job already processing
can only be stopped through the API of the server running it; for one, the command
exits with an error and the job keeps running.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		queue, err := a.controlQueue()
		if err != nil {
			return err
		}
		if err := queue.Cancel(cmd.Context(), args[0]); err != nil {
			a.logger.Error().Err(err).Str("job_id", args[0]).Msg("Failed to cancel job")
			return err
		}
		job, err := queue.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if job.Status == models.JobStatusProcessing {
			a.logger.Warn().Str("job_id", job.JobID).Msg("Job is processing in another process")
			return fmt.Errorf("%w: %s", errJobProcessing, job.JobID)
		}
		return printJSON(cmd.OutOrStdout(), job)
	},
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd, jobsGetCmd, jobsCancelCmd)
	jobsListCmd.Flags().StringVar(&jobsStatus, "status", "", "Only jobs in this status (pending, processing, completed, failed)")
}
