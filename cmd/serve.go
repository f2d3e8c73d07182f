package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/playforge/reconcile-cli/internal/auth"
	"github.com/playforge/reconcile-cli/internal/model"
	"github.com/playforge/reconcile-cli/internal/pipeline"
	"github.com/playforge/reconcile-cli/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the player API and pipeline trigger server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cfg.Auth.JWTSecret == "" {
			return eris.New("auth.jwt_secret is required (RECONCILE_AUTH_JWT_SECRET)")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		mgr, err := auth.NewManager(cfg.Auth.JWTSecret,
			time.Duration(cfg.Auth.JWTTTLMins)*time.Minute)
		if err != nil {
			return err
		}

		runner := func(ctx context.Context) (*model.RunResult, error) {
			return pipeline.Run(ctx, pipeline.Context{
				DataDir:    cfg.Pipeline.DataDir,
				ReportsDir: cfg.Pipeline.ReportsDir,
				Tolerance:  time.Duration(cfg.Pipeline.ToleranceMinutes) * time.Minute,
				Threshold:  cfg.Pipeline.ROASThreshold,
				XLSX:       cfg.Pipeline.XLSXExport,
			})
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: server.New(cfg.Server, st, mgr, runner).Router(),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
