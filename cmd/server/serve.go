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

	"github.com/Brownie44l1/cropai-api/internal/handlers"
	"github.com/Brownie44l1/cropai-api/internal/model"
	"github.com/Brownie44l1/cropai-api/internal/scheduler"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		deps := handlers.Deps{
			Images:      env.Images,
			Crops:       env.Crops,
			Router:      env.Router,
			Models:      env.Registry,
			Threshold:   cfg.Inference.ConfidenceThreshold,
			MaxUpload:   int64(cfg.Server.MaxUploadMB) << 20,
			DefaultArch: model.ResNet9,
		}
		// Typed nils would defeat the handler's nil checks.
		if env.Advisor != nil {
			deps.Advisor = env.Advisor
		}
		if env.Store != nil {
			deps.Audit = env.Store

			sched, err := scheduler.New(env.Store, time.Duration(cfg.Store.RetentionDays)*24*time.Hour, cfg.Store.PruneSchedule)
			if err != nil {
				return err
			}
			sched.Start()
			defer sched.Stop()
		}
		h := handlers.NewHandler(deps)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           h.Router(cfg.Server.CORSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server",
			zap.Int("port", port),
			zap.String("models_dir", cfg.Models.Dir),
			zap.String("intent_provider", cfg.Intent.Provider),
		)
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
