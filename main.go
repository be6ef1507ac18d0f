package main

import (
	"context"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type Manager struct {
	cfg       Config
	sessions  SessionStore
	api       *APIClient
	templates map[string]*template.Template
}

func NewManager(cfg Config, sessions SessionStore, api *APIClient) *Manager {
	return &Manager{
		cfg:       cfg,
		sessions:  sessions,
		api:       api,
		templates: loadTemplates(),
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "postsmanager",
		Short:        "Web UI for managing posts on a REST backend",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newHashPasswordCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var addr, dbPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web server",
		RunE: func(cmd *cobra.Command, args []string) error {
			godotenv.Load()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.ListenAddr = addr
			}
			if dbPath != "" {
				cfg.DatabasePath = dbPath
			}

			if err := setupLogging(os.Stderr, cfg.LogLevel, cfg.LogFormat); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides LISTEN_ADDR)")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite session database path (overrides DATABASE_PATH)")
	return cmd
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print a bcrypt hash suitable for ADMIN_PASS_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := hashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func openSessionStore(cfg Config) (SessionStore, io.Closer, error) {
	if cfg.SessionStore == sessionStoreRedis {
		store := newRedisSessions(cfg.RedisURL)
		return store, store, nil
	}

	db, err := openDB(cfg.DatabasePath)
	if err != nil {
		return nil, nil, errors.Wrap(err, "opening database")
	}
	if err := initDB(db); err != nil {
		db.Close()
		return nil, nil, errors.Wrap(err, "initializing database")
	}
	return newSQLiteSessions(db), db, nil
}

func cleanupSessions(ctx context.Context, sessions SessionStore, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sessions.CleanupExpired(ctx); err != nil {
				log.Error().Err(err).Msg("cleaning up expired sessions")
			}
		}
	}
}

func serve(ctx context.Context, cfg Config) error {
	sessions, closer, err := openSessionStore(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	if err := sessions.CleanupExpired(ctx); err != nil {
		log.Error().Err(err).Msg("cleaning up expired sessions")
	}
	go cleanupSessions(ctx, sessions, time.Hour)

	if cfg.APIToken == "" {
		log.Warn().Msg("API_TOKEN not set, sessions get random bearer tokens")
	}

	manager := NewManager(cfg, sessions, NewAPIClient(cfg.PostsAPI, cfg.APITimeout))

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      manager.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", cfg.ListenAddr).
			Str("posts_api", cfg.PostsAPI).
			Str("session_store", cfg.SessionStore).
			Msg("server starting")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
