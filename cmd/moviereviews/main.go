// Command moviereviews runs the movie review API and its maintenance tasks.
//
//	moviereviews serve      start the HTTP server (default)
//	moviereviews migrate    create or update the schema and exit
//	moviereviews reconcile  recompute every aggregate from source rows
//
// @title                      Movie Reviews API
// @version                    1.0
// @description                Movie catalog, user reviews with rating aggregates, and personal watchlists.
// @BasePath                   /api/v1
// @securityDefinitions.apikey BearerAuth
// @in                         header
// @name                       Authorization
// @description                Type "Bearer" followed by a space and the access token.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"gorm.io/gorm"

	"github.com/tbourn/go-movie-reviews/internal/auth"
	"github.com/tbourn/go-movie-reviews/internal/config"
	"github.com/tbourn/go-movie-reviews/internal/events"
	httpapi "github.com/tbourn/go-movie-reviews/internal/http"
	"github.com/tbourn/go-movie-reviews/internal/observability"
	"github.com/tbourn/go-movie-reviews/internal/repo"
	"github.com/tbourn/go-movie-reviews/internal/services"
)

var version = "dev"

const (
	shutdownTimeout = 15 * time.Second
	purgeInterval   = time.Hour
)

func main() {
	app := kingpin.New("moviereviews", "Movie review API server.")
	app.Version(version)
	serve := app.Command("serve", "Start the HTTP server.").Default()
	migrate := app.Command("migrate", "Apply the schema and exit.")
	reconcile := app.Command("reconcile", "Recompute movie and user aggregates.")
	workers := reconcile.Flag("workers", "concurrent recompute workers (0 = RECONCILE_WORKERS)").Default("0").Int()

	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	if !config.DotenvDisabled() {
		// a missing .env is normal outside development
		_ = godotenv.Load()
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	log, closer, err := observability.SetupLogging(observability.LogOptions{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
		File:   cfg.LogFile,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(2)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case serve.FullCommand():
		err = runServe(ctx, cfg, log)
	case migrate.FullCommand():
		err = runMigrate(ctx, cfg, log)
	case reconcile.FullCommand():
		n := *workers
		if n <= 0 {
			n = cfg.ReconcileWorkers
		}
		err = runReconcile(ctx, cfg, n, log)
	}
	if err != nil {
		log.Error().Err(err).Str("command", cmd).Msg("command failed")
		closer.Close()
		os.Exit(1)
	}
}

func openDB(ctx context.Context, cfg config.Config, log zerolog.Logger) (*gorm.DB, error) {
	db, err := repo.Open(ctx, repo.OpenOptions{
		Driver:   cfg.DB.Driver,
		Path:     cfg.DB.Path,
		DSN:      cfg.DB.URL,
		Attempts: cfg.DB.ConnectAttempts,
		Tracing:  cfg.OTEL.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		_ = repo.Close(db)
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info().Str("driver", cfg.DB.Driver).Msg("database ready")
	return db, nil
}

func runMigrate(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	db, err := openDB(ctx, cfg, log)
	if err != nil {
		return err
	}
	return repo.Close(db)
}

func runReconcile(ctx context.Context, cfg config.Config, workers int, log zerolog.Logger) error {
	db, err := openDB(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer repo.Close(db)

	rep, err := services.NewReconciler(services.NewAggregator(db, log), workers, log).Run(ctx)
	if err != nil {
		return err
	}
	log.Info().
		Int64("movies", rep.Movies).
		Int64("users", rep.Users).
		Int64("warnings", rep.Warnings).
		Dur("took", rep.Took).
		Msg("reconcile finished")
	return nil
}

func runServe(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	var shutdowns observability.Shutdowns

	otelShutdown, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	shutdowns.Add(otelShutdown)

	db, err := openDB(ctx, cfg, log)
	if err != nil {
		return err
	}
	shutdowns.Add(func(context.Context) error { return repo.Close(db) })

	bus := events.NewBus(log)
	services.NewAggregator(db, log).Register(bus)

	rc := events.DefaultRetryConfig()
	rc.MaxRetries = cfg.AggRetry.MaxRetries
	rc.InitialInterval = cfg.AggRetry.Interval
	queue, err := events.NewRetryQueue(rc, bus, log)
	if err != nil {
		return fmt.Errorf("retry queue: %w", err)
	}
	shutdowns.Add(func(context.Context) error { return queue.Close() })

	mutator := services.NewMutator(db, bus, log)
	mutator.Retry = queue

	tokens, err := auth.NewTokenManager(cfg.JWT.Secret, cfg.JWT.TTL)
	if err != nil {
		return fmt.Errorf("tokens: %w", err)
	}
	app, err := httpapi.NewApp(db, tokens, mutator)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, db, cfg, app)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	bg, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg conc.WaitGroup
	errCh := make(chan error, 1)
	wg.Go(func() {
		if err := queue.Run(bg); err != nil {
			log.Error().Err(err).Msg("retry queue stopped")
		}
	})
	wg.Go(func() { purgeIdempotency(bg, db, log) })
	wg.Go(func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	})

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err = <-errCh:
		log.Error().Err(err).Msg("http server failed")
	}

	sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer scancel()
	if serr := srv.Shutdown(sctx); serr != nil {
		log.Warn().Err(serr).Msg("http shutdown")
	}
	cancel()
	wg.Wait()

	if serr := shutdowns.Run(sctx); serr != nil {
		log.Warn().Err(serr).Msg("cleanup")
	}
	return err
}

// purgeIdempotency drops expired idempotency records until ctx ends.
func purgeIdempotency(ctx context.Context, db *gorm.DB, log zerolog.Logger) {
	t := time.NewTicker(purgeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := repo.PurgeExpiredIdempotency(ctx, db, now.UTC())
			if err != nil {
				log.Warn().Err(err).Msg("purge idempotency records")
				continue
			}
			if n > 0 {
				log.Debug().Int64("removed", n).Msg("purged idempotency records")
			}
		}
	}
}
