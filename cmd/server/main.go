package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"formation-stage/internal/platform/config"
	"formation-stage/internal/platform/logger"
	"formation-stage/internal/platform/metrics"
	"formation-stage/internal/playback"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	sourceURL := config.GetEnv("DATA_SOURCE_URL", "http://localhost:8000/formations")
	sourceFile := config.GetEnv("DATA_SOURCE_FILE", "")
	fetchTimeout := config.GetEnvDuration("FETCH_TIMEOUT", 60*time.Second)
	skip := config.GetEnvFloat("SKIP_SECONDS", playback.DefaultSkipSeconds)
	stage := playback.Stage{
		Width:    config.GetEnvInt("STAGE_WIDTH", playback.DefaultStageWidth),
		Depth:    config.GetEnvInt("STAGE_DEPTH", playback.DefaultStageDepth),
		CellSize: config.GetEnvFloat("STAGE_CELL_SIZE", playback.DefaultCellSize),
	}

	log := logger.New(logLevel, logFormat)

	source, err := newDataSource(sourceURL, sourceFile, fetchTimeout)
	if err != nil {
		log.Error("data source setup failed", "file", sourceFile, "error", err)
		os.Exit(1)
	}

	repo := playback.NewInMemoryRepository()
	svc := playback.NewService(repo, source, playback.NewDispatcher(skip), stage, log)
	met := metrics.New()
	h := playback.NewHandler(svc, log, met)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetActiveSessions(svc.ActiveSessionCount()) }).ServeHTTP(w, r)
	})
	h.Routes(r)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server starting",
			"port", port,
			"log_level", logLevel,
			"data_source", describeSource(sourceURL, sourceFile),
			"skip_seconds", skip,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, draining connections")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log.Info("server stopped")
}

// newDataSource prefers an offline library file when one is configured.
func newDataSource(url, file string, timeout time.Duration) (playback.DataSource, error) {
	if file == "" {
		return playback.NewHTTPSource(url, timeout), nil
	}
	lib, err := playback.ReadLibrary(file)
	if err != nil {
		return nil, err
	}
	return playback.NewFileSource(lib), nil
}

func describeSource(url, file string) string {
	if file != "" {
		return "file:" + file
	}
	return url
}
