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

	"library_catalog/pkg/api"
	"library_catalog/pkg/catalog"
	"library_catalog/pkg/config"
	"library_catalog/pkg/database"
	"library_catalog/pkg/logging"
	"library_catalog/pkg/metrics"
	"library_catalog/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// flags maps command-line flags onto configuration keys.
var flags = map[string]string{
	"port":         config.KeyPort,
	"database-url": config.KeyDatabaseURL,
	"db-driver":    config.KeyDBDriver,
	"log-level":    config.KeyLogLevel,
	"log-format":   config.KeyLogFormat,
}

func newRootCmd() *cobra.Command {
	var envFile string

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Serve the catalog REST API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd, envFile)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, log)
		},
	}

	var seed bool
	setupDB := &cobra.Command{
		Use:   "setup-db",
		Short: "Create the books table if it does not exist",
		Long: `Create the books table if it does not exist and verify it.
With --seed a handful of sample books is added to an empty catalog.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd, envFile)
			if err != nil {
				return err
			}
			return runSetupDB(cmd.Context(), cfg, log, seed)
		},
	}
	setupDB.Flags().BoolVar(&seed, "seed", false, "add sample books when the catalog is empty")

	root := &cobra.Command{
		Use:           "catalog",
		Short:         "Library catalog manager",
		Long:          `REST API for listing, adding, editing, deleting, searching and checking books in and out.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&envFile, "env-file", ".env", "dotenv file to read configuration from")
	pf.Int("port", 0, "HTTP listen port (default 5000)")
	pf.String("database-url", "", "sqlite database file (default library.db)")
	pf.String("db-driver", "", "database driver: sqlite or postgres (default sqlite)")
	pf.String("log-level", "", "log level (default info)")
	pf.String("log-format", "", "log format: text or json (default text)")

	root.AddCommand(serve, setupDB)
	return root
}

func loadConfig(cmd *cobra.Command, envFile string) (*config.Config, *logrus.Logger, error) {
	v, err := config.New(envFile)
	if err != nil {
		return nil, nil, err
	}
	for name, key := range flags {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return nil, nil, err
		}
	}

	cfg, err := config.Load(v)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	log, err := logging.New(cfg.Log, cmd.OutOrStdout())
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func runServe(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	log.Info("Starting library catalog service...")
	gin.SetMode(cfg.GinMode)

	db, err := database.Open(cfg.Database, log)
	if err != nil {
		return err
	}
	defer database.Close(db)

	m, err := metrics.NewDefault()
	if err != nil {
		return err
	}

	store := catalog.NewStore(db,
		catalog.WithBreaker(catalog.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout, cfg.Breaker.Window)),
		catalog.WithRecorder(m),
		catalog.WithLogger(log),
	)
	if err := migrate(ctx, store, log); err != nil {
		return err
	}

	router := api.NewRouter(api.RouterConfig{
		Store:       store,
		Ping:        func(ctx context.Context) error { return database.Ping(ctx, db) },
		Logger:      log,
		Metrics:     m,
		MetricsPage: m.Handler(),
		CORSOrigins: cfg.CORSOrigins,
	})

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Library catalog starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func runSetupDB(ctx context.Context, cfg *config.Config, log *logrus.Logger, seed bool) error {
	db, err := database.Open(cfg.Database, log)
	if err != nil {
		return err
	}
	defer database.Close(db)

	store := catalog.NewStore(db, catalog.WithLogger(log))
	if err := migrate(ctx, store, log); err != nil {
		return err
	}
	if err := database.Verify(db); err != nil {
		return err
	}
	log.Info("Books table verified")

	if seed {
		return seedBooks(ctx, store, log)
	}
	return nil
}

func migrate(ctx context.Context, store *catalog.Store, log *logrus.Logger) error {
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	log.Info("Books table created or already exists")
	return nil
}

var sampleBooks = []models.BookInput{
	{Title: "1984", Author: "George Orwell", PublicationDate: "1949-06-08", Edition: "1st"},
	{Title: "Dune", Author: "Frank Herbert", PublicationDate: "1965-08-01", Edition: "1st"},
	{Title: "The Hobbit", Author: "J. R. R. Tolkien", PublicationDate: "1937-09-21", Edition: "2nd"},
}

func seedBooks(ctx context.Context, store *catalog.Store, log *logrus.Logger) error {
	books, err := store.ListAll(ctx)
	if err != nil {
		return err
	}
	if len(books) > 0 {
		log.Infof("Catalog already has %d books, skipping seed", len(books))
		return nil
	}

	for _, in := range sampleBooks {
		id, err := store.Create(ctx, in)
		if err != nil {
			return fmt.Errorf("seed %q: %w", in.Title, err)
		}
		log.WithField("id", id).Infof("Created sample book: %s", in.Title)
	}
	log.Info("Catalog sample data seeded")
	return nil
}
