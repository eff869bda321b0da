package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/andrew12-circle/circle-marketplace/internal/adminauth"
	"github.com/andrew12-circle/circle-marketplace/internal/api"
	"github.com/andrew12-circle/circle-marketplace/internal/research"
	"github.com/andrew12-circle/circle-marketplace/internal/store"
	"github.com/andrew12-circle/circle-marketplace/pkg/anthropic"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve top deals and the bulk research function over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx, "serve")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		handler := buildHandler(st, newAnthropicClient())

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := api.NewServer(fmt.Sprintf(":%d", port), handler)

		zap.L().Info("starting server", zap.Int("port", port))
		return runServer(ctx, srv, time.Duration(cfg.Server.ShutdownTimeoutSecs)*time.Second)
	},
}

func newAnthropicClient() anthropic.Client {
	var opts []anthropic.ClientOption
	if cfg.Anthropic.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.Anthropic.BaseURL))
	}
	return anthropic.NewClient(cfg.Anthropic.Key, opts...)
}

// buildHandler wires the research generator and router over st.
func buildHandler(st store.Store, ai anthropic.Client) http.Handler {
	verifier := adminauth.NewVerifier(store.NewAdminSource(st))
	gen := research.NewGenerator(st, ai, verifier, cfg.Research)

	return api.NewRouter(api.Deps{
		Store:    st,
		Research: gen,
		Deals:    cfg.Deals,
		Server:   cfg.Server,
	})
}

// runServer serves until ctx is cancelled, then drains in-flight requests
// for up to shutdownTimeout.
func runServer(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return eris.Wrap(err, "server shutdown")
		}
		return nil
	})

	return g.Wait()
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
