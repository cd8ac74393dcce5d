package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gnemet/datatable"
	"github.com/gnemet/datatable/database/query"
	"github.com/gnemet/datatable/database/sessionpool"
	"github.com/gnemet/datatable/entity"
	"github.com/gnemet/datatable/internal/config"
	"github.com/spf13/cobra"
)

func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a catalog table over HTTP",
		Long: `Serve the table defined by a catalog as JSON over HTTP.

GET / renders the table; query parameters (search, sort, dir, page,
per_page, filter[...]) bind its state. POST / applies one operation
named by the "op" form value.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if level, _ := cmd.Flags().GetString("log-level"); level != "" {
				cfg.Log.Level = level
			}
			if path, _ := cmd.Flags().GetString("catalog"); path != "" {
				cfg.Catalog.Path = path
			}
			if env := os.Getenv("CATALOG_PATH"); env != "" && cfg.Catalog.Path == "" {
				cfg.Catalog.Path = env
			}

			logger := config.NewLogger(cfg.Log)
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}

	cmd.Flags().String("catalog", "", "catalog file, overrides catalog.path")

	return cmd
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	dbCfg, err := cfg.DefaultDatabase()
	if err != nil {
		return err
	}
	db, dialect, err := query.Open(dbCfg.DriverName(), dbCfg.DSN())
	if err != nil {
		return err
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("failed to ping database %s: %w", dbCfg.Redacted(), err)
	}
	logger.Info("Connected to database", "driver", dialect.Name(), "dsn", dbCfg.Redacted())

	cat, err := datatable.LoadCatalogFile(cfg.Catalog.Path)
	if err != nil {
		return err
	}
	def, err := cat.Definition(nil)
	if err != nil {
		return err
	}

	runner := query.NewRunner(db, dialect, dbCfg.Name, logger)
	classifier := entity.NewClassifier(runner, logger)
	newTable := func() (*datatable.Table, error) {
		return datatable.New(def, runner, datatable.WithLogger(logger), datatable.WithClassifier(classifier))
	}

	idle, abs, err := cfg.SessionTimeouts()
	if err != nil {
		return err
	}
	pool := sessionpool.New[*datatable.Table](cfg.Sessions.Max, idle, abs, 30*time.Second,
		sessionpool.WithLogger[*datatable.Table](logger))
	defer pool.Close()

	mux := http.NewServeMux()
	mux.Handle("/", datatable.NewHandler(newTable, pool, logger))

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Serving table", "catalog", cfg.Catalog.Path, "entity", def.Entity.Name, "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
