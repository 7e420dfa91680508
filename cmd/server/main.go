/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the personnel engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env files, environment, flags)
  2. Initialize SQLite store and document storage
  3. Build the change-request engine and API handler
  4. Optionally seed the demo organization
  5. Start the document sweeper and the HTTP server

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT)
  -db      SQLite database path (overrides DB_PATH)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the document sweeper
  4. Close database connection

EXAMPLES:
  # Run with a demo organization in memory
  SEED_DEMO=true ./server -db=":memory:"

  # Also expose the scenario loader (wipes the database on every load)
  SEED_DEMO=true DEMO_ROUTES=true ./server -db=":memory:"

  # Store documents in MinIO
  MINIO_ENDPOINT=localhost:9000 MINIO_ACCESS_KEY=... MINIO_SECRET_KEY=... ./server

SEE ALSO:
  - config/config.go: Every environment variable
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/personnel-engine/api"
	"github.com/warp/personnel-engine/attendance"
	"github.com/warp/personnel-engine/changerequest"
	"github.com/warp/personnel-engine/config"
	"github.com/warp/personnel-engine/credentials"
	"github.com/warp/personnel-engine/docstore"
	"github.com/warp/personnel-engine/factory"
	"github.com/warp/personnel-engine/logging"
	"github.com/warp/personnel-engine/notify"
	"github.com/warp/personnel-engine/personnel"
	"github.com/warp/personnel-engine/render"
	"github.com/warp/personnel-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	// Flags
	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()
	cfg.Port = *port
	cfg.DBPath = *dbPath

	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("server failed")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx := context.Background()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	cutoff, err := cfg.Cutoff()
	if err != nil {
		return err
	}
	clock := personnel.SystemClock(loc)

	// Initialize store
	payloads := factory.NewPayloadFactory()
	store, err := sqlite.New(cfg.DBPath, payloads)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	documents, err := openDocuments(ctx, cfg, log)
	if err != nil {
		return err
	}

	hasher := credentials.NewBcryptHasher(cfg.BcryptCost)
	sender := notify.NewSMTPSender(notify.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	}, log)
	if !sender.Configured() {
		log.Warn("SMTP is not configured; temporary passwords are only returned to the approver")
	}

	engine := &changerequest.Engine{
		Store:     store,
		Units:     store,
		People:    store,
		Users:     store,
		Auth:      personnel.NewAuthorizer(store),
		Renderer:  render.NewWorkbook(),
		Documents: documents,
		Hasher:    hasher,
		Sender:    sender,
		Passwords: credentials.TempPassword,
		Clock:     clock,
		Log:       log,
	}

	handler := api.NewHandler(store, api.Options{
		Engine:   engine,
		Payloads: payloads,
		Tokens:   api.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL),
		Hasher:   hasher,
		Lock:     attendance.NewLockPolicy(cutoff),
		Clock:    clock,
		Log:      log,
	})

	if cfg.SeedDemo {
		if err := seedDemo(ctx, store, handler, log); err != nil {
			return err
		}
	}

	sweeper := api.NewDocumentSweeper(store, engine, log)
	sweeper.CheckInterval = cfg.SweepInterval
	sweeper.Start()
	defer sweeper.Stop()

	if cfg.DemoRoutes {
		log.Warn("demo scenario routes are enabled; anyone can reset the database")
	}
	router := api.NewRouter(handler, api.RouterOptions{
		CORSOrigins: cfg.CORSOrigins,
		Log:         log,
		Demo:        cfg.DemoRoutes,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"port":     cfg.Port,
			"db":       cfg.DBPath,
			"timezone": loc.String(),
			"cutoff":   cfg.ReportCutoff,
		}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errs:
		return err
	case <-quit:
	}

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}

func openDocuments(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (changerequest.DocumentStore, error) {
	if cfg.MinIO.Enabled() {
		store, err := docstore.NewMinIO(ctx, docstore.MinIOConfig{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			UseSSL:    cfg.MinIO.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		log.WithField("bucket", cfg.MinIO.Bucket).Info("documents stored in minio")
		return store, nil
	}

	store, err := docstore.NewFilesystem(cfg.DocumentsDir)
	if err != nil {
		return nil, err
	}
	log.WithField("dir", cfg.DocumentsDir).Info("documents stored on disk")
	return store, nil
}

// seedDemo loads the baseline scenario when the database has no units yet.
func seedDemo(ctx context.Context, store *sqlite.Store, h *api.Handler, log logrus.FieldLogger) error {
	units, err := store.ListUnits(ctx)
	if err != nil {
		return err
	}
	if len(units) > 0 {
		log.Info("database already populated, skipping demo seed")
		return nil
	}

	resp, err := h.Seed(ctx, "baseline")
	if err != nil {
		return fmt.Errorf("failed to seed demo data: %w", err)
	}
	for _, a := range resp.Accounts {
		log.WithFields(logrus.Fields{"username": a.Username, "role": a.Role}).Info("demo account ready")
	}
	return nil
}
