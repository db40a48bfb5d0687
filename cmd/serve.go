package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/code-sleuth/ike-rag/internal/server"

	"github.com/spf13/cobra"
)

var (
	listenAddr      string
	shutdownTimeout time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the ingestion workers",
	Long: `Run the HTTP API and the ingestion workers. Jobs left pending by an earlier run are
picked up on start. On SIGINT or SIGTERM the server stops accepting requests, running jobs are
cancelled and queued jobs stay pending for the next start.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address (default from config, :8080)")
	serveCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "Grace period for in-flight work")
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	queue, err := a.jobQueue()
	if err != nil {
		return err
	}
	engine, err := a.retrievalEngine()
	if err != nil {
		return err
	}
	if err := queue.Start(ctx); err != nil {
		a.logger.Error().Err(err).Msg("Failed to start job queue")
		return err
	}

	srv := server.New(queue, engine, a.docs, a.chats, a.metrics, a.logger)
	addr := listenAddr
	if addr == "" {
		addr = cfg.Server.Listen
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(addr)
	}()

	select {
	case err = <-errCh:
		if err != nil {
			a.logger.Error().Err(err).Msg("HTTP server failed")
		}
	case <-ctx.Done():
		a.logger.Info().Msg("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		a.logger.Error().Err(serr).Msg("Failed to shut down HTTP server")
	}
	if qerr := queue.Stop(shutdownCtx); qerr != nil {
		a.logger.Error().Err(qerr).Msg("Job queue did not stop in time")
	}
	return err
}
