package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/ewilliams-labs/mend/internal/adapters/metrics"
	"github.com/ewilliams-labs/mend/internal/adapters/omi"
	"github.com/ewilliams-labs/mend/internal/adapters/rest"
	"github.com/ewilliams-labs/mend/internal/adapters/sqlite"
	"github.com/ewilliams-labs/mend/internal/config"
	"github.com/ewilliams-labs/mend/internal/core/feedback"
	"github.com/ewilliams-labs/mend/internal/core/reflection"
	"github.com/ewilliams-labs/mend/internal/core/services"
	"github.com/ewilliams-labs/mend/internal/logging"
	"github.com/ewilliams-labs/mend/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and audio workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	// Driven adapters
	db, err := sqlite.NewAdapter(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	history, historyCheck, closeHistory, err := newHistory(cfg, db)
	if err != nil {
		return err
	}
	defer closeHistory()

	classifier, err := newClassifier(cfg, logger)
	if err != nil {
		return err
	}

	reg := metrics.NewRegistry()
	observer := metrics.NewObserver(reg)
	clock := clockwork.NewRealClock()
	extractor, detector := newAudioPipeline(cfg, logger)

	deps := services.Deps{
		Extractor:  extractor,
		Detector:   detector,
		Trigger:    reflection.NewTrigger(cfg.Tuning().TriggerPhrases),
		Classifier: classifier,
		Policy:     feedback.NewPolicy(cfg.FeedbackConfig(), history, clock, logger),
		Events:     db,
		History:    history,
		Observer:   observer,
		Clock:      clock,
		Logger:     logger,
	}
	if cfg.OmiEnabled() {
		client, err := omi.NewClient(cfg.OmiAPIBaseURL, cfg.OmiAppID, cfg.OmiAppSecret)
		if err != nil {
			return err
		}
		deps.Notifier = client
		deps.Memories = client
	} else {
		logger.Warn().Msg("OMI_APP_ID or OMI_APP_SECRET not set, feedback will not be delivered")
	}

	// Core
	coach := services.NewCoach(deps, cfg.CoachConfig())

	pool := worker.NewPool(coach, cfg.Workers, cfg.QueueSize, observer.JobDropped, logger)
	pool.Start(ctx)
	defer pool.Stop()

	// Driving adapter
	checks := []rest.HealthCheck{{Name: "sqlite", Check: db.Ping}}
	if historyCheck != nil {
		checks = append(checks, *historyCheck)
	}
	handler := rest.NewHandler(coach, pool, logger,
		rest.WithMetrics(metrics.Handler(reg)),
		rest.WithHealthChecks(checks...),
	)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	logger.Info().
		Str("addr", srv.Addr).
		Str("env", cfg.AppEnv).
		Str("llm_provider", cfg.LLMProvider).
		Str("history_driver", cfg.HistoryDriver).
		Msg("mend is running")

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown error")
		}
	}
	return nil
}
