package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/discussblog/backend/internal/client"
	"github.com/discussblog/backend/internal/config"
	"github.com/discussblog/backend/internal/handler"
	"github.com/discussblog/backend/internal/metrics"
	"github.com/discussblog/backend/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func newPostStore(cfg config.Config, rec metrics.Recorder) (*service.PostStore, error) {
	return service.NewPostStore(client.NewGraphQLClient(cfg.GitHub), cfg.GitHub, rec)
}

func runServe(cmd *cobra.Command, args []string) error {
	warnMissingConfig(cfg)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	store, err := newPostStore(cfg, collector)
	if err != nil {
		return err
	}

	identity, err := service.NewIdentityService(client.NewGitHubOAuth(cfg.GitHub), cfg.Auth)
	if err != nil {
		return err
	}
	sessions := service.NewSessionAccessor(identity, identity.CookieConfig().Name, cfg.Blog.OwnerLogin)
	submissions := service.NewSubmissionService(store, sessions, collector)

	writeLimiter := handler.NewRateLimiter("write", cfg.RateLimit.WritePerMinute)
	defer writeLimiter.Stop()
	authLimiter := handler.NewRateLimiter("auth", cfg.RateLimit.WritePerMinute*3)
	defer authLimiter.Stop()

	if log.Logger.GetLevel() > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handler.NewRouter(handler.RouterDeps{
		Auth:           handler.NewAuthHandler(identity, sessions, cfg.Server.BaseURL),
		Posts:          handler.NewPostHandler(store, submissions),
		Sessions:       sessions,
		Metrics:        collector.Handler(),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		TrustedProxies: cfg.Server.TrustedProxies,
		WriteLimiter:   writeLimiter,
		AuthLimiter:    authLimiter,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("write_credential", store.WriteCredential()).
			Str("version", version).
			Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// warnMissingConfig reports settings whose absence disables a feature.
func warnMissingConfig(cfg config.Config) {
	if cfg.Blog.OwnerLogin == "" {
		log.Warn().Msg("BLOG_OWNER_GITHUB_USERNAME is not set; posting is disabled")
	}
	if cfg.Auth.SessionSecret == "" {
		log.Warn().Msg("SESSION_SECRET is not set; sign-in is disabled")
	}
	if cfg.GitHub.ClientID == "" || cfg.GitHub.ClientSecret == "" {
		log.Warn().Msg("GITHUB_ID/GITHUB_SECRET are not set; sign-in is disabled")
	}
	if cfg.GitHub.APIToken == "" {
		log.Warn().Msg("GITHUB_API_TOKEN is not set; post reads will be empty")
	}
	if cfg.GitHub.RepositoryOwner == "" || cfg.GitHub.RepositoryName == "" {
		log.Warn().Msg("GITHUB_REPOSITORY_OWNER/GITHUB_REPOSITORY_NAME are not set")
	}
	if cfg.GitHub.CategoryID == "" {
		log.Warn().Msg("GITHUB_DISCUSSION_CATEGORY_ID is not set; posting will fail")
	}
}
