package cmd

import (
	"context"
	"time"

	"github.com/code-sleuth/ike-rag/internal/manager/models"

	"github.com/spf13/cobra"
)

var (
	ingestURLs    []string
	ingestWait    bool
	ingestTimeout time.Duration
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Queue documents for ingestion",
	Long: `Queue one or more URLs for ingestion. Without --wait the jobs are stored as pending and
run by the next "serve"; with --wait they run in this process and the finished jobs are printed.

Examples:
  # Ingest a page and wait for it
  ike-rag ingest --url "https://go.dev/doc/effective_go" --wait

  # Queue a GitHub file for the server to pick up
  ike-rag ingest --url "https://github.com/owner/repo/blob/main/README.md"`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringSliceVarP(&ingestURLs, "url", "u", nil, "Source URL to ingest (repeatable)")
	ingestCmd.Flags().BoolVarP(&ingestWait, "wait", "w", false, "Run the jobs now and wait for them")
	ingestCmd.Flags().DurationVar(&ingestTimeout, "timeout", 10*time.Minute, "Give up waiting after this long")

	if err := ingestCmd.MarkFlagRequired("url"); err != nil {
		return
	}
}

func runIngest(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), ingestTimeout)
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	queue, err := a.jobQueue()
	if err != nil {
		return err
	}
	if ingestWait {
		if err := queue.Start(ctx); err != nil {
			return err
		}
	}

	jobs := make([]*models.IngestJob, 0, len(ingestURLs))
	for _, u := range ingestURLs {
		job, err := queue.Submit(ctx, u)
		if err != nil {
			a.logger.Error().Err(err).Str("url", u).Msg("Failed to queue job")
			_ = queue.Stop(context.WithoutCancel(ctx))
			return err
		}
		a.logger.Info().Str("job_id", job.JobID).Str("url", u).Msg("Job queued")
		jobs = append(jobs, job)
	}

	if !ingestWait {
		// Nothing runs the jobs here; they stay pending for "serve".
		if err := queue.Stop(ctx); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), jobs)
	}

	if err := queue.Drain(ctx); err != nil {
		a.logger.Error().Err(err).Msg("Timed out waiting for jobs")
		_ = queue.Stop(context.WithoutCancel(ctx))
		return err
	}

	finished := make([]*models.IngestJob, 0, len(jobs))
	for _, job := range jobs {
		got, err := queue.Get(context.WithoutCancel(ctx), job.JobID)
		if err != nil {
			return err
		}
		finished = append(finished, got)
	}
	return printJSON(cmd.OutOrStdout(), finished)
}
