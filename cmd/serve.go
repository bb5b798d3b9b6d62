package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"agentflow/pkg/backend"
	"agentflow/pkg/cache"
	"agentflow/pkg/db"
	"agentflow/pkg/notice"
	"agentflow/pkg/telemetry"
	"agentflow/services/editor"
	"agentflow/services/project"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the editor API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(viper.GetViper())
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	serveCmd.Flags().String("listen", ":8080", "address to listen on")
	viper.BindPFlag("listen", serveCmd.Flags().Lookup("listen"))

	serveCmd.Flags().Duration("autosave-window", 500*time.Millisecond, "quiet period before edits are saved")
	viper.BindPFlag("autosave.window", serveCmd.Flags().Lookup("autosave-window"))

	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, cfg Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	level, _ := parseLevel(cfg.Log.Level)
	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(logHandler))

	var store *cache.Store
	if cfg.Cache.Path != "" {
		if dir := filepath.Dir(cfg.Cache.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create cache directory: %w", err)
			}
		}
		s, err := cache.Open(cfg.Cache.Path)
		if err != nil {
			slog.Warn("Local cache unavailable", "path", cfg.Cache.Path, "error", err)
		} else {
			store = s
			defer store.Close()
		}
	}

	session := backend.NewUserSession(cfg.Backend.UserID, cfg.Backend.UserEmail, cfg.Backend.Token)
	opts := []backend.Option{
		backend.WithSession(session),
		backend.WithTimeout(cfg.Backend.Timeout),
	}
	if store != nil {
		opts = append(opts, backend.WithCache(store))
	}
	client := backend.NewClient(cfg.Backend.URL, opts...)

	var projects project.Store = client
	if cfg.Database.URL != "" {
		pool, err := db.Connect(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer pool.Close()

		if err := project.InitDB(ctx, pool); err != nil {
			return fmt.Errorf("initialize database: %w", err)
		}
		projects = project.NewRepository(pool)
		slog.Info("Storing projects in Postgres")
	}

	svc := editor.NewService(editor.Deps{
		Store:          projects,
		Tools:          client,
		Chats:          client,
		Identity:       session,
		Notices:        notice.NewLog(0),
		Metrics:        telemetry.NewMetricsRecorder(),
		Logger:         slog.Default(),
		AutosaveWindow: cfg.Autosave.Window,
	})

	// setup router
	mainRouter := mux.NewRouter()
	apiRouter := mainRouter.PathPrefix("/api/v1").Subrouter()
	svc.LoadRoutes(apiRouter)

	corsHandler := handlers.CORS(
		handlers.AllowedOrigins(cfg.CORS.Origins),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		handlers.AllowCredentials(),
	)(mainRouter)

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: corsHandler,
	}

	serverErrors := make(chan error, 1)

	go func() {
		slog.Info("Starting server", "addr", cfg.Listen, "backend", cfg.Backend.URL)
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "error", err)
		}
		if ferr := svc.Shutdown(ctx); ferr != nil {
			slog.Error("Unsaved edits lost", "error", ferr)
		}
		return err

	case sig := <-shutdown:
		slog.Info("Shutdown signal received", "signal", sig)

		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Could not stop server gracefully", "error", err)
			srv.Close()
		}
		if err := svc.Shutdown(ctx); err != nil {
			slog.Error("Unsaved edits lost", "error", err)
		}
	}
	return nil
}
