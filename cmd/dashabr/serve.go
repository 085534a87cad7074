package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"dashabr/internal/api"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve adaptive streams to players over HTTP",
	Long: `Start the HTTP server. Each GET /stream/<name> starts a session for the
named stream and writes its segments to the response as they arrive.

Endpoints:
  GET    /stream/:name        stream bytes to a player
  GET    /api/sessions        list running sessions
  GET    /api/sessions/:id    describe one session
  DELETE /api/sessions/:id    stop one session
  GET    /healthz             liveness
  GET    /metrics             prometheus metrics`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen-addr", ":8080", "HTTP listen address")
	serveCmd.Flags().Int("queue-capacity", 8, "segments buffered per player")
	serveCmd.Flags().Bool("prebuffer-cache", false, "share first segments across sessions")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	log := a.log

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	router := api.New(log.With("component", "api"), a.manager, a.metrics, a.cfg.QueueCapacity)
	server := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("Server starting on %s, media server %s", a.cfg.ListenAddr, a.cfg.MediaServerURL)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Infof("Server is shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Streaming handlers only return once their session stops.
		a.manager.StopAll()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Errorf("Server shutdown failed: %v", err)
			return err
		}
		log.Infof("Server exited gracefully")
		return nil
	})

	return g.Wait()
}
