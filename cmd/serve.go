package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/empowerher/riskgrid/internal/api"
	"github.com/empowerher/riskgrid/internal/assess"
	"github.com/empowerher/riskgrid/internal/grid"
	"github.com/empowerher/riskgrid/internal/metrics"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP assessment server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m := metrics.New(reg)

		src, err := newPredictorSource(reg)
		if err != nil {
			return err
		}

		svc, err := loadService(ctx, st, src, m)
		if errors.Is(err, assess.ErrNoArtifacts) {
			zap.L().Warn("no fitted artifacts, fitting from stored incidents")
			engine, gerr := grid.New(gridConfig())
			if gerr != nil {
				return gerr
			}
			svc = newService(engine, nil, m)
			err = nil
		}
		if err != nil {
			return err
		}

		refresher := assess.NewRefresher(assess.RefresherConfig{
			Store:     st,
			Service:   svc,
			Encoder:   encoderConfig(),
			Local:     localClassifier(),
			Predictor: src.For,
			Metrics:   m,
		})
		if _, modelsReady := svc.Ready(); !modelsReady {
			if _, err := refresher.Refresh(ctx); err != nil {
				zap.L().Warn("initial fit failed, serving without models", zap.Error(err))
			}
		}
		if interval := time.Duration(cfg.Refresh.IntervalSecs) * time.Second; interval > 0 {
			go refresher.Run(ctx, interval)
		}

		handler := api.New(api.Config{
			Service:         svc,
			Store:           st,
			Metrics:         m,
			Gatherer:        reg,
			DefaultRadiusKM: cfg.Grid.DefaultRadiusKM,
			CORSOrigins:     cfg.Server.CORSOrigins,
		}).Handler()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
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
